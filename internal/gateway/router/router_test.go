package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics"
	gwhandler "github.com/Adithya-Monish-Kumar-K/faqdesk/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	svc := retrieval.NewService(retrieval.Options{})
	if _, err := svc.Initialize(context.Background(), testFAQs); err != nil {
		t.Fatal(err)
	}
	return routerFor(svc, opts)
}

var testFAQs = corpus.StaticSource{
	{Question: "How do I reset my password?", Answer: "Use the reset link."},
	{Question: "How can I delete my account?", Answer: "Contact support."},
}

func routerFor(svc *retrieval.Service, opts Options) http.Handler {
	agg := analytics.NewAggregator()
	h := gwhandler.New(svc, nil, nil, agg, opts.Metrics, config.SearchConfig{DefaultTopN: 5, MaxTopN: 10})
	checker := health.NewChecker()
	checker.Register("retrieval", health.FromError(svc.Check, false))
	return New(h, analytics.NewHandler(agg, nil), checker, opts)
}

// gatedSource blocks Load until release is closed.
type gatedSource struct {
	release chan struct{}
}

func (g gatedSource) Load(ctx context.Context) ([]corpus.Pair, error) {
	select {
	case <-g.release:
		return testFAQs.Load(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := newTestRouter(t, Options{Metrics: m, AllowOrigins: []string{"http://localhost:5173"}})

	tests := []struct {
		method, path, body string
		want               int
	}{
		{"GET", "/health/live", "", http.StatusOK},
		{"GET", "/health/ready", "", http.StatusOK},
		{"POST", "/ask", `{"query":"reset password"}`, http.StatusOK},
		{"POST", "/data", `{}`, http.StatusOK},
		{"GET", "/api/v1/analytics", "", http.StatusOK},
		{"GET", "/api/v1/analytics/history", "", http.StatusServiceUnavailable},
		{"GET", "/api/v1/cache/stats", "", http.StatusOK},
		{"POST", "/ticket", `{"user_query":"help"}`, http.StatusServiceUnavailable},
		{"GET", "/ask", "", http.StatusMethodNotAllowed},
		{"GET", "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := serve(h, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
		if rec.Header().Get(pkgmw.RequestIDHeader) == "" {
			t.Errorf("%s %s: missing request id", tt.method, tt.path)
		}
	}
	if n := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/ask", "200")); n != 1 {
		t.Errorf("POST /ask counted %v times", n)
	}
}

func TestServesWhileIndexBuilds(t *testing.T) {
	svc := retrieval.NewService(retrieval.Options{})
	h := routerFor(svc, Options{})
	src := gatedSource{release: make(chan struct{})}

	built := make(chan error, 1)
	go func() {
		_, err := svc.Initialize(context.Background(), src)
		built <- err
	}()

	ask := func() int {
		return serve(h, httptest.NewRequest("POST", "/ask", strings.NewReader(`{"query":"reset password"}`))).Code
	}
	ready := func() int {
		return serve(h, httptest.NewRequest("GET", "/health/ready", nil)).Code
	}

	if code := ask(); code != http.StatusServiceUnavailable {
		t.Errorf("ask while building = %d, want 503", code)
	}
	if code := ready(); code != http.StatusServiceUnavailable {
		t.Errorf("ready while building = %d, want 503", code)
	}
	if code := serve(h, httptest.NewRequest("GET", "/health/live", nil)).Code; code != http.StatusOK {
		t.Errorf("live while building = %d, want 200", code)
	}

	close(src.release)
	if err := <-built; err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if code := ask(); code != http.StatusOK {
		t.Errorf("ask after build = %d, want 200", code)
	}
	if code := ready(); code != http.StatusOK {
		t.Errorf("ready after build = %d, want 200", code)
	}
}

func TestAnalyticsSeesAsks(t *testing.T) {
	h := newTestRouter(t, Options{})
	serve(h, httptest.NewRequest("POST", "/ask", strings.NewReader(`{"query":"delete account"}`)))
	rec := serve(h, httptest.NewRequest("GET", "/api/v1/analytics", nil))
	if !strings.Contains(rec.Body.String(), `"total_asks":1`) {
		t.Errorf("analytics = %s", rec.Body.String())
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newTestRouter(t, Options{AdminTokens: []string{"ops"}})

	rec := serve(h, httptest.NewRequest("POST", "/api/v1/cache/invalidate", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token = %d", rec.Code)
	}
	req := httptest.NewRequest("POST", "/api/v1/cache/invalidate", nil)
	req.Header.Set("Authorization", "Bearer ops")
	if rec := serve(h, req); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("with token = %d, want cache-disabled 503", rec.Code)
	}
	// Asking stays public.
	rec = serve(h, httptest.NewRequest("POST", "/ask", strings.NewReader(`{"query":"reset password"}`)))
	if rec.Code != http.StatusOK {
		t.Errorf("ask = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, Options{AllowOrigins: []string{"http://localhost:5173"}})
	req := httptest.NewRequest("OPTIONS", "/ask", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := serve(h, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}
