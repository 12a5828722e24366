// Package analytics records what users ask and how well the FAQ answers
// them. Events travel over Kafka when it is configured, or straight into
// the in-process Aggregator otherwise.
package analytics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

// latencyWindow bounds the samples kept for percentile estimates.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalAsks        int64        `json:"total_asks"`
	NoMatchCount     int64        `json:"no_match_count"`
	TicketAsks       int64        `json:"ticket_asks"`
	CacheHits        int64        `json:"cache_hits"`
	CacheMisses      int64        `json:"cache_misses"`
	AvgTopScore      float64      `json:"avg_top_score"`
	AvgLatencyMs     float64      `json:"avg_latency_ms"`
	P50LatencyMs     float64      `json:"p50_latency_ms"`
	P95LatencyMs     float64      `json:"p95_latency_ms"`
	P99LatencyMs     float64      `json:"p99_latency_ms"`
	TopQueries       []QueryCount `json:"top_queries"`
	NoMatchQueries   []QueryCount `json:"no_match_queries"`
	QueriesPerMinute float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds ask events into running statistics. It is safe for
// concurrent use and implements Tracker for in-process delivery.
type Aggregator struct {
	mu             sync.RWMutex
	totalAsks      int64
	noMatch        int64
	ticketAsks     int64
	cacheHits      int64
	cacheMisses    int64
	scoreSum       float64
	latencies      []float64
	next           int
	queryCounts    map[string]int64
	noMatchQueries map[string]int64
	startTime      time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]float64, 0, 1024),
		queryCounts:    make(map[string]int64),
		noMatchQueries: make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// Track records event immediately.
func (a *Aggregator) Track(event AskEvent) {
	a.Record(event)
}

// HandleMessage is the Kafka handler for the ask-events topic.
func (a *Aggregator) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	event, err := kafka.DecodeJSON[AskEvent](msg.Value)
	if err != nil {
		return err
	}
	a.Record(event)
	return nil
}

// Record folds one event into the statistics.
func (a *Aggregator) Record(event AskEvent) {
	key := queryKey(event)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalAsks++
	if event.Source == SourceByTicket {
		a.ticketAsks++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.scoreSum += event.TopScore
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
	if key != "" {
		a.queryCounts[key]++
	}
	if event.NoMatch {
		a.noMatch++
		if key != "" {
			a.noMatchQueries[key]++
		}
	}
}

// queryKey groups queries by their processed form, falling back to the
// trimmed, lower-cased raw text.
func queryKey(event AskEvent) string {
	if event.ProcessedQuery != "" {
		return event.ProcessedQuery
	}
	return strings.ToLower(strings.TrimSpace(event.Query))
}

// Seed restores counters from a persisted snapshot, typically on startup.
// Latency samples are not restored.
func (a *Aggregator) Seed(stats AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalAsks += stats.TotalAsks
	a.noMatch += stats.NoMatchCount
	a.ticketAsks += stats.TicketAsks
	a.cacheHits += stats.CacheHits
	a.cacheMisses += stats.CacheMisses
	a.scoreSum += stats.AvgTopScore * float64(stats.TotalAsks)
	for _, q := range stats.TopQueries {
		a.queryCounts[q.Query] += q.Count
	}
	for _, q := range stats.NoMatchQueries {
		a.noMatchQueries[q.Query] += q.Count
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalAsks:    a.totalAsks,
		NoMatchCount: a.noMatch,
		TicketAsks:   a.ticketAsks,
		CacheHits:    a.cacheHits,
		CacheMisses:  a.cacheMisses,
	}
	if a.totalAsks > 0 {
		stats.AvgTopScore = a.scoreSum / float64(a.totalAsks)
	}
	if len(a.latencies) > 0 {
		sorted := make([]float64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Float64s(sorted)

		var sum float64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = sum / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.NoMatchQueries = topN(a.noMatchQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(a.totalAsks) / elapsed
	}
	return stats
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries, ties broken alphabetically.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
