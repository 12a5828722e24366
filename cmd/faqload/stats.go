package main

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats accumulates results across load workers.
type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	noMatchCount  atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

// RecordRequest folds one /ask round trip into s. noMatch marks a 200
// answered with the no-relevant-answer message.
func (s *Stats) RecordRequest(duration time.Duration, statusCode int, noMatch bool, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
		if noMatch {
			s.noMatchCount.Add(1)
		}
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

// Summary is the digest printed at the end of a run.
type Summary struct {
	Total, Success, Errors, NoMatch int64
	ErrorRate, RPS                  float64
	Min, Avg, P50, P90, P95, P99    time.Duration
	Max, StdDev                     time.Duration
	StatusCodes                     map[int]int64
}

func (s *Stats) Summarize(elapsed time.Duration) Summary {
	sum := Summary{
		Total:       s.totalRequests.Load(),
		Success:     s.successCount.Load(),
		Errors:      s.errorCount.Load(),
		NoMatch:     s.noMatchCount.Load(),
		StatusCodes: make(map[int]int64),
	}
	if sum.Total > 0 {
		sum.ErrorRate = float64(sum.Errors) / float64(sum.Total) * 100
		if elapsed > 0 {
			sum.RPS = float64(sum.Total) / elapsed.Seconds()
		}
	}

	s.latenciesMu.Lock()
	latencies := make([]time.Duration, len(s.latencies))
	copy(latencies, s.latencies)
	s.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		sum.Avg = total / time.Duration(len(latencies))
		sum.Min = latencies[0]
		sum.Max = latencies[len(latencies)-1]
		sum.P50 = percentile(latencies, 50)
		sum.P90 = percentile(latencies, 90)
		sum.P95 = percentile(latencies, 95)
		sum.P99 = percentile(latencies, 99)

		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l - sum.Avg)
			sumSquared += diff * diff
		}
		sum.StdDev = time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
	}

	s.statusCodesMu.Lock()
	for code, n := range s.statusCodes {
		sum.StatusCodes[code] = n.Load()
	}
	s.statusCodesMu.Unlock()
	return sum
}

// percentile uses the nearest-rank method on sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
