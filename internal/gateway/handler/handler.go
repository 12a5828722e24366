// Package handler implements the public FAQ HTTP API: asking questions,
// browsing the corpus, support tickets and cache administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/cache"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/ticket"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/tracing"
)

const (
	msgEmptyQuery     = "Empty query"
	msgNoMatch        = "Sorry, no relevant answer found."
	msgTicketNotFound = "Ticket not found"

	defaultPerPage = 10
	maxPerPage     = 100
)

// Retriever is the read side of *retrieval.Service.
type Retriever interface {
	Engine() (*retrieval.Engine, error)
	Page(page, perPage int) ([]corpus.Entry, int, error)
}

// TicketStore is the subset of *ticket.Store the API uses.
type TicketStore interface {
	Create(ctx context.Context, query string) (*ticket.Ticket, error)
	Get(ctx context.Context, number string) (*ticket.Ticket, error)
	UpdateResponse(ctx context.Context, number, response string) error
}

// Answer is the single-message reply used for empty, unmatched and
// unknown-ticket asks.
type Answer struct {
	Answer string `json:"Answer"`
}

type Handler struct {
	retriever Retriever
	cache     *cache.QueryCache
	tickets   TicketStore
	tracker   analytics.Tracker
	metrics   *metrics.Metrics
	search    config.SearchConfig
	logger    *slog.Logger
}

// New creates the API handler. queryCache, tickets, tracker and m may be
// nil; the matching features are then disabled.
func New(
	retriever Retriever,
	queryCache *cache.QueryCache,
	tickets TicketStore,
	tracker analytics.Tracker,
	m *metrics.Metrics,
	search config.SearchConfig,
) *Handler {
	return &Handler{
		retriever: retriever,
		cache:     queryCache,
		tickets:   tickets,
		tracker:   tracker,
		metrics:   m,
		search:    search,
		logger:    slog.Default().With("component", "api-handler"),
	}
}

type askRequest struct {
	Query string `json:"query"`
	TopN  int    `json:"top_n"`
}

type askByTicketRequest struct {
	TicketNumber string `json:"ticket_number"`
	TopN         int    `json:"top_n"`
}

type dataRequest struct {
	PageNumber int `json:"pageNumber"`
	PerPage    int `json:"perPage"`
}

type dataResponse struct {
	Items        []corpus.Entry `json:"items"`
	Page         int            `json:"page"`
	PerPage      int            `json:"perPage"`
	TotalRecords int            `json:"totalRecords"`
}

// Ask answers POST /ask.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.answer(w, r, analytics.SourceAsk, req.Query, req.TopN)
}

// AskByTicket answers POST /ask_by_ticket using the ticket's stored query.
func (h *Handler) AskByTicket(w http.ResponseWriter, r *http.Request) {
	var req askByTicketRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.TicketNumber = strings.TrimSpace(req.TicketNumber)
	if req.TicketNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Ticket number is required")
		return
	}
	if h.tickets == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ticket store is not configured")
		return
	}
	t, err := h.tickets.Get(r.Context(), req.TicketNumber)
	if errors.Is(err, apperrors.ErrTicketNotFound) {
		h.writeJSON(w, http.StatusNotFound, []Answer{{Answer: msgTicketNotFound}})
		return
	}
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.answer(w, r, analytics.SourceByTicket, t.UserQuery, req.TopN)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request, source analytics.Source, query string, topN int) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "ask")
	defer func() {
		span.End()
		span.Log()
	}()
	log := logger.FromContext(ctx)

	if err := retrieval.ValidateQuery(query); err != nil {
		h.writeJSON(w, http.StatusBadRequest, []Answer{{Answer: msgEmptyQuery}})
		return
	}
	engine, err := h.retriever.Engine()
	if err != nil {
		h.observeOutcome(metrics.OutcomeError)
		h.writeAppError(w, r, err)
		return
	}

	topN = h.clampTopN(topN)
	processed := tokenizer.Process(query)
	span.SetAttr("processed_query", processed)
	span.SetAttr("top_n", topN)

	matches, cacheHit, err := h.retrieve(ctx, engine, processed, topN)
	if err != nil {
		h.observeOutcome(metrics.OutcomeError)
		log.Error("retrieval failed", "query", query, "error", err)
		h.writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	noMatch := retrieval.NoMatch(matches, h.search.MinScore)
	var topScore float64
	if len(matches) > 0 {
		topScore = matches[0].Score
	}
	latency := time.Since(start)
	span.SetAttr("cache_hit", cacheHit)
	span.SetAttr("top_score", topScore)

	if h.metrics != nil {
		outcome := metrics.OutcomeMatch
		if noMatch {
			outcome = metrics.OutcomeNoMatch
		}
		h.metrics.RetrievalsTotal.WithLabelValues(outcome).Inc()
		h.metrics.RetrievalLatency.Observe(latency.Seconds())
		h.metrics.TopScore.Observe(topScore)
	}

	log.Info("ask answered",
		"source", source,
		"query", query,
		"returned", len(matches),
		"top_score", topScore,
		"no_match", noMatch,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	if h.tracker != nil {
		h.tracker.Track(analytics.AskEvent{
			Source:         source,
			Query:          query,
			ProcessedQuery: processed,
			Returned:       len(matches),
			TopScore:       topScore,
			NoMatch:        noMatch,
			CacheHit:       cacheHit,
			LatencyMs:      float64(latency.Microseconds()) / 1000,
			Timestamp:      time.Now().UTC(),
			RequestID:      logger.RequestID(ctx),
		})
	}

	if noMatch {
		h.writeJSON(w, http.StatusOK, []Answer{{Answer: msgNoMatch}})
		return
	}
	h.writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) retrieve(ctx context.Context, engine *retrieval.Engine, processed string, topN int) ([]retrieval.Match, bool, error) {
	_, span := tracing.StartChildSpan(ctx, "retrieve")
	defer span.End()

	if h.cache == nil {
		return engine.RetrieveProcessed(processed, topN), false, nil
	}
	key := cache.Key(engine.Fingerprint(), processed, topN)
	matches, hit, err := h.cache.GetOrCompute(ctx, key, func() ([]retrieval.Match, error) {
		return engine.RetrieveProcessed(processed, topN), nil
	})
	if err == nil && h.metrics != nil {
		if hit {
			h.metrics.CacheHitsTotal.Inc()
		} else {
			h.metrics.CacheMissesTotal.Inc()
		}
	}
	return matches, hit, err
}

func (h *Handler) clampTopN(topN int) int {
	if topN < 1 {
		topN = h.search.DefaultTopN
	}
	if h.search.MaxTopN > 0 && topN > h.search.MaxTopN {
		topN = h.search.MaxTopN
	}
	return topN
}

func (h *Handler) observeOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.RetrievalsTotal.WithLabelValues(outcome).Inc()
	}
}

// Data answers POST /data with one page of the corpus.
func (h *Handler) Data(w http.ResponseWriter, r *http.Request) {
	var req dataRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	page, perPage := req.PageNumber, req.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	items, total, err := h.retriever.Page(page, perPage)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dataResponse{
		Items:        items,
		Page:         page,
		PerPage:      perPage,
		TotalRecords: total,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "invalidated",
		"keys_deleted": deleted,
	})
}

// decodeBody decodes a JSON body into v. An empty body leaves v at its zero
// value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError answers with the status and message carried by err.
// Unexpected server errors are logged and their detail withheld.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, apperrors.Message(err))
}
