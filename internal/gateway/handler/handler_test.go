package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/cache"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/ticket"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var faqs = corpus.StaticSource{
	{Question: "How do I reset my password?", Answer: "Use the reset link on the login page."},
	{Question: "How can I delete my account?", Answer: "Contact support to close your account."},
	{Question: "Which payment methods do you accept?", Answer: "Cards and bank transfer."},
}

var search = config.SearchConfig{DefaultTopN: 5, MaxTopN: 2, MinScore: 0}

type match struct {
	ID                int     `json:"id"`
	Question          string  `json:"Question"`
	Answer            string  `json:"Answer"`
	ProcessedQuestion string  `json:"processed_question"`
	Score             float64 `json:"score"`
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = string(value.([]byte))
	return nil
}

func (s *memStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.data))
	s.data = map[string]string{}
	return n, nil
}

type fakeTickets struct {
	mu      sync.Mutex
	tickets map[string]*ticket.Ticket
	seq     int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{tickets: map[string]*ticket.Ticket{}}
}

func (f *fakeTickets) Create(ctx context.Context, query string) (*ticket.Ticket, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "Query is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &ticket.Ticket{
		ID:           int64(f.seq),
		TicketNumber: "TKT0000000" + string(rune('0'+f.seq)),
		UserQuery:    query,
		CreatedAt:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	f.tickets[t.TicketNumber] = t
	return t, nil
}

func (f *fakeTickets) Get(ctx context.Context, number string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[number]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrTicketNotFound, 404, "ticket %s", number)
	}
	return t, nil
}

func (f *fakeTickets) UpdateResponse(ctx context.Context, number, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[number]
	if !ok {
		return apperrors.Newf(apperrors.ErrTicketNotFound, 404, "ticket %s", number)
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "Response cannot be empty")
	}
	t.Response = &response
	return nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.AskEvent
}

func (r *recordingTracker) Track(e analytics.AskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	h       *Handler
	tickets *fakeTickets
	tracker *recordingTracker
	metrics *metrics.Metrics
	cache   *cache.QueryCache
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	svc := retrieval.NewService(retrieval.Options{})
	if _, err := svc.Initialize(context.Background(), faqs); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	f := &fixture{
		tickets: newFakeTickets(),
		tracker: &recordingTracker{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	if withCache {
		f.cache = cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	}
	f.h = New(svc, f.cache, f.tickets, f.tracker, f.metrics, search)
	return f
}

func do(h http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %d: %v", rec.Code, err)
	}
	return v
}

func TestAsk(t *testing.T) {
	f := newFixture(t, false)
	rec := do(f.h.Ask, "POST", "/ask", `{"query":"I forgot my password, how to reset it?","top_n":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[[]match](t, rec)
	if len(got) != 1 || got[0].ID != 0 || got[0].Score <= 0 {
		t.Fatalf("matches = %+v", got)
	}
	if got[0].ProcessedQuestion != "reset password" {
		t.Errorf("processed_question = %q", got[0].ProcessedQuestion)
	}

	if n := testutil.ToFloat64(f.metrics.RetrievalsTotal.WithLabelValues(metrics.OutcomeMatch)); n != 1 {
		t.Errorf("match outcomes = %v", n)
	}
	if len(f.tracker.events) != 1 {
		t.Fatalf("tracked %d events", len(f.tracker.events))
	}
	e := f.tracker.events[0]
	if e.Source != analytics.SourceAsk || e.ProcessedQuery != "forgot password reset" || e.NoMatch || e.Returned != 1 {
		t.Errorf("event = %+v", e)
	}
}

func TestAskTopNIsClamped(t *testing.T) {
	f := newFixture(t, false)
	for _, body := range []string{`{"query":"account"}`, `{"query":"account","top_n":50}`} {
		got := decode[[]match](t, do(f.h.Ask, "POST", "/ask", body))
		if len(got) != search.MaxTopN {
			t.Errorf("%s: %d matches, want %d", body, len(got), search.MaxTopN)
		}
	}
}

func TestAskEmptyAndNoMatch(t *testing.T) {
	f := newFixture(t, false)

	rec := do(f.h.Ask, "POST", "/ask", `{"query":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank query code = %d", rec.Code)
	}
	if got := decode[[]Answer](t, rec); len(got) != 1 || got[0].Answer != "Empty query" {
		t.Errorf("blank query body = %+v", got)
	}

	rec = do(f.h.Ask, "POST", "/ask", `{"query":"banana smoothie"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("no-match code = %d", rec.Code)
	}
	if got := decode[[]Answer](t, rec); len(got) != 1 || got[0].Answer != "Sorry, no relevant answer found." {
		t.Errorf("no-match body = %+v", got)
	}
	if !f.tracker.events[0].NoMatch {
		t.Error("no-match ask not tracked as such")
	}

	if rec := do(f.h.Ask, "POST", "/ask", `{"query":`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body code = %d", rec.Code)
	}
}

func TestAskBeforeIndexReady(t *testing.T) {
	h := New(retrieval.NewService(retrieval.Options{}), nil, nil, nil, nil, search)
	rec := do(h.Ask, "POST", "/ask", `{"query":"reset password"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec := do(h.Data, "POST", "/data", ``); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("data code = %d", rec.Code)
	}
}

func TestAskUsesCache(t *testing.T) {
	f := newFixture(t, true)
	body := `{"query":"reset password"}`
	first := do(f.h.Ask, "POST", "/ask", body).Body.String()
	second := do(f.h.Ask, "POST", "/ask", body).Body.String()
	if first != second {
		t.Errorf("cached answer differs:\n%s\n%s", first, second)
	}
	if hits := testutil.ToFloat64(f.metrics.CacheHitsTotal); hits != 1 {
		t.Errorf("cache hits = %v", hits)
	}
	if misses := testutil.ToFloat64(f.metrics.CacheMissesTotal); misses != 1 {
		t.Errorf("cache misses = %v", misses)
	}
	if !f.tracker.events[1].CacheHit {
		t.Error("second ask not tracked as a cache hit")
	}

	stats := decode[cache.Stats](t, do(f.h.CacheStats, "GET", "/api/v1/cache/stats", ""))
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}
	rec := do(f.h.CacheInvalidate, "POST", "/api/v1/cache/invalidate", "")
	if rec.Code != http.StatusOK {
		t.Errorf("invalidate code = %d", rec.Code)
	}
}

func TestCacheDisabled(t *testing.T) {
	f := newFixture(t, false)
	if rec := do(f.h.CacheStats, "GET", "/api/v1/cache/stats", ""); !strings.Contains(rec.Body.String(), "disabled") {
		t.Errorf("stats body = %s", rec.Body.String())
	}
	if rec := do(f.h.CacheInvalidate, "POST", "/api/v1/cache/invalidate", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("invalidate code = %d", rec.Code)
	}
}

func TestData(t *testing.T) {
	f := newFixture(t, false)

	got := decode[dataResponse](t, do(f.h.Data, "POST", "/data", `{"pageNumber":2,"perPage":2}`))
	if got.Page != 2 || got.PerPage != 2 || got.TotalRecords != 3 || len(got.Items) != 1 || got.Items[0].ID != 2 {
		t.Errorf("page 2 = %+v", got)
	}

	got = decode[dataResponse](t, do(f.h.Data, "POST", "/data", ``))
	if got.Page != 1 || got.PerPage != defaultPerPage || len(got.Items) != 3 {
		t.Errorf("defaults = %+v", got)
	}

	got = decode[dataResponse](t, do(f.h.Data, "POST", "/data", `{"perPage":5000}`))
	if got.PerPage != maxPerPage {
		t.Errorf("perPage = %d, want cap %d", got.PerPage, maxPerPage)
	}
}

func TestTicketLifecycle(t *testing.T) {
	f := newFixture(t, false)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ticket", f.h.CreateTicket)
	mux.HandleFunc("GET /ticket/{ticket_number}", f.h.GetTicket)
	mux.HandleFunc("PUT /ticket/{ticket_number}/response", f.h.UpdateTicketResponse)

	rec := do(mux.ServeHTTP, "POST", "/ticket", `{"user_query":"How do I reset my password?"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create code = %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[map[string]string](t, rec)
	number := created["ticket_number"]
	if number == "" || created["message"] != "Ticket created successfully!" {
		t.Fatalf("create body = %v", created)
	}
	if n := testutil.ToFloat64(f.metrics.TicketsCreatedTotal); n != 1 {
		t.Errorf("tickets created = %v", n)
	}

	rec = do(mux.ServeHTTP, "PUT", "/ticket/"+number+"/response", `{"response":"Sent you a reset link."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update code = %d: %s", rec.Code, rec.Body.String())
	}

	view := decode[ticket.View](t, do(mux.ServeHTTP, "GET", "/ticket/"+number, ""))
	if view.Response == nil || *view.Response != "Sent you a reset link." || view.CreatedAt != "2026-03-01 09:30:00" {
		t.Errorf("view = %+v", view)
	}

	tests := []struct {
		name, method, path, body string
		code                     int
		msg                      string
	}{
		{"empty query", "POST", "/ticket", `{"user_query":" "}`, 400, "Query is required"},
		{"unknown ticket", "GET", "/ticket/TKTFFFFFFFF", "", 404, "Ticket not found"},
		{"update unknown", "PUT", "/ticket/TKTFFFFFFFF/response", `{"response":"x"}`, 404, "Ticket not found"},
		{"empty response", "PUT", "/ticket/" + number + "/response", `{"response":""}`, 400, "Response cannot be empty"},
		{"empty response unknown ticket", "PUT", "/ticket/TKTFFFFFFFF/response", `{"response":"  "}`, 404, "Ticket not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(mux.ServeHTTP, tt.method, tt.path, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if got := decode[map[string]string](t, rec); got["error"] != tt.msg {
				t.Errorf("error = %q, want %q", got["error"], tt.msg)
			}
		})
	}
}

func TestAskByTicket(t *testing.T) {
	f := newFixture(t, false)
	tk, _ := f.tickets.Create(context.Background(), "delete my account")

	rec := do(f.h.AskByTicket, "POST", "/ask_by_ticket", `{"ticket_number":"`+tk.TicketNumber+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[[]match](t, rec); len(got) == 0 || got[0].ID != 1 {
		t.Errorf("matches = %+v", got)
	}
	if f.tracker.events[0].Source != analytics.SourceByTicket {
		t.Errorf("source = %q", f.tracker.events[0].Source)
	}

	rec = do(f.h.AskByTicket, "POST", "/ask_by_ticket", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing number code = %d", rec.Code)
	}
	rec = do(f.h.AskByTicket, "POST", "/ask_by_ticket", `{"ticket_number":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank number code = %d", rec.Code)
	} else if got := decode[map[string]string](t, rec); got["error"] != "Ticket number is required" {
		t.Errorf("blank number error = %q", got["error"])
	}
	rec = do(f.h.AskByTicket, "POST", "/ask_by_ticket", `{"ticket_number":" `+tk.TicketNumber+` "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("padded number code = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[[]match](t, rec); len(got) == 0 || got[0].ID != 1 {
		t.Errorf("padded number matches = %+v", got)
	}
	rec = do(f.h.AskByTicket, "POST", "/ask_by_ticket", `{"ticket_number":"TKTNOPE0000"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ticket code = %d", rec.Code)
	}
	if got := decode[[]Answer](t, rec); got[0].Answer != "Ticket not found" {
		t.Errorf("unknown ticket body = %+v", got)
	}
}

func TestTicketsUnavailable(t *testing.T) {
	svc := retrieval.NewService(retrieval.Options{})
	h := New(svc, nil, nil, nil, nil, search)
	if rec := do(h.CreateTicket, "POST", "/ticket", `{"user_query":"hi"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("create code = %d", rec.Code)
	}
	if rec := do(h.AskByTicket, "POST", "/ask_by_ticket", `{"ticket_number":"TKT1"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ask_by_ticket code = %d", rec.Code)
	}
}
