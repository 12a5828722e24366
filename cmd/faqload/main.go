// Command faqload drives concurrent /ask traffic at a running faqdesk and
// reports throughput, latency percentiles and status codes.
//
// Questions come from the corpus CSV when --corpus is given, so every
// request exercises a real answer; otherwise a small built-in set is used.
//
// Usage:
//
//	go run ./cmd/faqload --url http://localhost:5000 --concurrency 20 --duration 1m
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	flag "github.com/spf13/pflag"
)

const noMatchAnswer = "Sorry, no relevant answer found."

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	TopN        int
	Queries     []string
}

var defaultQueries = []string{
	"how do I reset my password",
	"delete my account",
	"change email address",
	"refund policy",
	"payment methods",
	"contact support",
	"two factor authentication",
	"update billing information",
	"cancel subscription",
	"where is my order",
}

func main() {
	baseURL := flag.String("url", "http://localhost:5000", "base URL of the faqdesk service")
	concurrency := flag.IntP("concurrency", "n", 10, "number of concurrent workers")
	duration := flag.DurationP("duration", "d", 30*time.Second, "test duration")
	topN := flag.Int("top-n", 5, "top_n sent with every ask")
	corpusPath := flag.String("corpus", "", "FAQ CSV whose questions are replayed as queries")
	flag.Parse()

	queries := defaultQueries
	if *corpusPath != "" {
		loaded, err := loadQueries(*corpusPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading queries: %v\n", err)
			os.Exit(1)
		}
		queries = loaded
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		TopN:        *topN,
		Queries:     queries,
	}

	fmt.Println("=== FAQ Desk Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	start := time.Now()
	stats := runLoadTest(cfg)
	if !printReport(stats.Summarize(time.Since(start))) {
		os.Exit(1)
	}
}

func loadQueries(path string) ([]string, error) {
	pairs, err := corpus.CSVSource{Path: path}.Load(context.Background())
	if err != nil {
		return nil, err
	}
	queries := make([]string, len(pairs))
	for i, p := range pairs {
		queries[i] = p.Question
	}
	return queries, nil
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			queryIdx := workerID
			for ctx.Err() == nil {
				query := cfg.Queries[queryIdx%len(cfg.Queries)]
				queryIdx++

				start := time.Now()
				status, noMatch, err := ask(ctx, client, cfg, query)
				if ctx.Err() != nil {
					return
				}
				stats.RecordRequest(time.Since(start), status, noMatch, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func ask(ctx context.Context, client *http.Client, cfg Config, query string) (int, bool, error) {
	body, err := json.Marshal(map[string]any{"query": query, "top_n": cfg.TopN})
	if err != nil {
		return 0, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, false, err
	}
	return resp.StatusCode, isNoMatch(data), nil
}

// isNoMatch reports whether an /ask body is the single no-answer message.
func isNoMatch(body []byte) bool {
	var answers []struct {
		Answer string `json:"Answer"`
	}
	if err := json.Unmarshal(body, &answers); err != nil {
		return false
	}
	return len(answers) == 1 && answers[0].Answer == noMatchAnswer
}

// printReport writes the summary and reports whether any request completed.
func printReport(s Summary) bool {
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", s.Total)
	fmt.Printf("Successful:      %d\n", s.Success)
	fmt.Printf("No Match:        %d\n", s.NoMatch)
	fmt.Printf("Errors:          %d\n", s.Errors)
	if s.Total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", s.ErrorRate)
		fmt.Printf("Requests/sec:    %.2f\n", s.RPS)
	}

	if s.Max > 0 {
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", s.Min)
		fmt.Printf("Avg:    %s\n", s.Avg)
		fmt.Printf("P50:    %s\n", s.P50)
		fmt.Printf("P90:    %s\n", s.P90)
		fmt.Printf("P95:    %s\n", s.P95)
		fmt.Printf("P99:    %s\n", s.P99)
		fmt.Printf("Max:    %s\n", s.Max)
		fmt.Printf("StdDev: %s\n", s.StdDev)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.StatusCodes[code])
	}

	if s.Total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}
