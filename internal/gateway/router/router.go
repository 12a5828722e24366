// Package router wires up all FAQ API routes and applies the middleware
// chain (RequestID → CORS → Metrics → RateLimit → Timeout).
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics"
	gwhandler "github.com/Adithya-Monish-Kumar-K/faqdesk/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/ratelimit"
)

// Options configures the middleware chain. Limiter and Metrics may be nil.
type Options struct {
	AllowOrigins   []string
	AdminTokens    []string
	RequestTimeout time.Duration
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
}

// New builds the full HTTP handler with all routes and middleware.
//
// Route table:
//
//	POST   /ask                                → retrieve answers for a query
//	POST   /ask_by_ticket                      → retrieve answers for a ticket's query
//	POST   /data                               → page through the corpus
//	POST   /ticket                             → open a support ticket
//	GET    /ticket/{ticket_number}             → fetch a ticket
//	PUT    /ticket/{ticket_number}/response    → answer a ticket   (admin)
//	GET    /api/v1/cache/stats                 → cache effectiveness
//	POST   /api/v1/cache/invalidate            → flush cached answers (admin)
//	GET    /api/v1/analytics                   → live ask statistics
//	GET    /api/v1/analytics/history           → persisted statistics
//	GET    /health/live, /health/ready         → probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit → Timeout → handler
func New(h *gwhandler.Handler, ah *analytics.Handler, checker *health.Checker, opts Options) http.Handler {
	mux := http.NewServeMux()
	admin := pkgmw.AdminAuth(opts.AdminTokens)

	// Probes
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// FAQ API
	mux.HandleFunc("POST /ask", h.Ask)
	mux.HandleFunc("POST /ask_by_ticket", h.AskByTicket)
	mux.HandleFunc("POST /data", h.Data)

	// Tickets
	mux.HandleFunc("POST /ticket", h.CreateTicket)
	mux.HandleFunc("GET /ticket/{ticket_number}", h.GetTicket)
	mux.Handle("PUT /ticket/{ticket_number}/response", admin(http.HandlerFunc(h.UpdateTicketResponse)))

	// Cache API
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.Handle("POST /api/v1/cache/invalidate", admin(http.HandlerFunc(h.CacheInvalidate)))

	// Analytics API
	if ah != nil {
		mux.HandleFunc("GET /api/v1/analytics", ah.Stats)
		mux.HandleFunc("GET /api/v1/analytics/history", ah.History)
	}

	// request → RequestID → CORS → Metrics → RateLimit → Timeout → mux
	var chain http.Handler = mux
	chain = pkgmw.Timeout(opts.RequestTimeout)(chain)
	if opts.Limiter != nil {
		chain = pkgmw.RateLimit(opts.Limiter)(chain)
	}
	if opts.Metrics != nil {
		chain = pkgmw.Metrics(opts.Metrics)(chain)
	}
	chain = pkgmw.CORS(pkgmw.DefaultCORSConfig(opts.AllowOrigins))(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
