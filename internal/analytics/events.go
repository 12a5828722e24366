package analytics

import "time"

// Source names the endpoint an ask arrived through.
type Source string

const (
	SourceAsk      Source = "ask"
	SourceByTicket Source = "ask_by_ticket"
)

// AskEvent describes one answered question.
type AskEvent struct {
	Source         Source    `json:"source"`
	Query          string    `json:"query"`
	ProcessedQuery string    `json:"processed_query"`
	Returned       int       `json:"returned"`
	TopScore       float64   `json:"top_score"`
	NoMatch        bool      `json:"no_match"`
	CacheHit       bool      `json:"cache_hit"`
	LatencyMs      float64   `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
}

// Tracker accepts ask events without blocking the request path.
type Tracker interface {
	Track(event AskEvent)
}
