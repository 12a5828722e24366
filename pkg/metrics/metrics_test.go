package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersWithGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RetrievalsTotal.WithLabelValues(OutcomeMatch).Inc()
	m.IndexBuildsTotal.WithLabelValues("rebuild").Inc()
	m.CorpusEntries.Set(42)

	// A second registry must not collide with the first.
	New(prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`faq_retrievals_total{outcome="match"} 1`,
		`faq_index_builds_total{source="rebuild"} 1`,
		`faq_corpus_entries 42`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := New(prometheus.NewRegistry()).Serve(ctx, 0)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
