// Command faqdesk serves the FAQ retrieval API.
//
// It loads the FAQ corpus (CSV file or PostgreSQL table), restores the
// TF-IDF index from its on-disk snapshot or rebuilds it, and answers /ask
// requests. Redis caches answers, Kafka carries ask events to the analytics
// aggregator and PostgreSQL stores support tickets and analytics history.
// Every backend except the corpus source is optional.
//
// Usage:
//
//	go run ./cmd/faqdesk [--config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics/aggregator"
	gwhandler "github.com/Adithya-Monish-Kumar-K/faqdesk/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/cache"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/ticket"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/tracing"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.SetSlowThreshold(cfg.Server.SlowRequest)
	slog.Info("starting faqdesk",
		"port", cfg.Server.Port,
		"corpus_source", cfg.Corpus.Source,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg); err != nil {
		slog.Error("faqdesk failed", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("faqdesk stopped")
}

// run wires the backends and serves until ctx ends or the index build
// fails. Deferred cleanups run before it returns, after every in-flight
// request has finished.
func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config) error {
	m := metrics.New(nil)

	// PostgreSQL: tickets, analytics history and optionally the corpus.
	var db *postgres.Client
	if cfg.Postgres.Enabled {
		var err error
		db, err = postgres.Connect(ctx, cfg.Postgres)
		switch {
		case err == nil:
			defer db.Close()
		case cfg.Corpus.Source == "postgres":
			return fmt.Errorf("connecting to corpus database: %w", err)
		default:
			slog.Warn("postgres unavailable, tickets and analytics history disabled", "error", err)
		}
	}

	src, err := corpus.SourceFor(cfg.Corpus, db)
	if err != nil {
		return err
	}
	svc := retrieval.NewService(retrieval.Options{
		SnapshotDir: cfg.Corpus.SnapshotDir,
		LoadTimeout: cfg.Corpus.LoadTimeout,
	})

	checker := health.NewChecker()
	checker.Register("retrieval", health.FromError(svc.Check, false))

	// Redis query cache behind a circuit breaker.
	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, answer caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			breaker := resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, to resilience.State) {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				},
			})
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, breaker)
			checker.Register("redis", health.FromError(redisClient.Ping, true))
			slog.Info("answer cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	// Analytics: Kafka round trip when enabled, in-process otherwise.
	agg := analytics.NewAggregator()
	var tracker analytics.Tracker = agg
	var history analytics.History
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AskEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 10000, 100, time.Second)
		collector.Start(ctx)
		defer func() {
			collector.Close()
			if n := collector.Dropped(); n > 0 {
				slog.Warn("analytics events dropped", "count", n)
			}
		}()
		tracker = collector

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AskEvents, agg.HandleMessage)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
			st := consumer.Stats()
			slog.Info("analytics consumer stopped",
				"processed", st.Processed,
				"malformed", st.Malformed,
				"dropped", st.Dropped,
			)
		}()
		slog.Info("analytics pipeline started", "topic", cfg.Kafka.Topics.AskEvents)
	}

	var tickets gwhandler.TicketStore
	var snapshotsDone <-chan struct{}
	if db != nil {
		ticketStore := ticket.NewStore(db)
		if err := ticketStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("creating tickets table: %w", err)
		}
		tickets = ticketStore

		store := aggregator.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("creating analytics table: %w", err)
		}
		if latest, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("could not restore analytics", "error", err)
		} else if latest != nil {
			agg.Seed(*latest)
			slog.Info("analytics restored", "total_asks", latest.TotalAsks)
		}
		snapshotsDone = store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval, cfg.Analytics.Retention)
		history = store
		checker.Register("postgres", health.FromError(db.Ping, true))
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
		defer limiter.Stop()
	}

	h := gwhandler.New(svc, queryCache, tickets, tracker, m, cfg.Search)
	chain := router.New(h, analytics.NewHandler(agg, history), checker, router.Options{
		AllowOrigins:   cfg.CORS.AllowOrigins,
		AdminTokens:    cfg.Server.AdminTokens,
		RequestTimeout: cfg.Server.RequestTimeout,
		Limiter:        limiter,
		Metrics:        m,
	})

	var metricsDone <-chan struct{}
	if cfg.Metrics.Enabled {
		metricsDone = m.Serve(ctx, cfg.Metrics.Port)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ListenAndServe returns as soon as Shutdown starts; shutdownDone closes
	// once in-flight handlers have finished.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	// The index builds while the server is up, so liveness answers and
	// /ask reports 503 until it is published.
	var buildErr atomic.Pointer[error]
	go func() {
		if err := buildIndex(ctx, svc, src, m); err != nil && ctx.Err() == nil {
			buildErr.Store(&err)
			stop()
		}
	}()

	slog.Info("faqdesk listening", "addr", server.Addr)
	var serveErr error
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		serveErr = fmt.Errorf("http server: %w", err)
		stop()
	}
	<-shutdownDone
	if snapshotsDone != nil {
		<-snapshotsDone
	}
	if metricsDone != nil {
		<-metricsDone
	}

	if serveErr != nil {
		return serveErr
	}
	if errp := buildErr.Load(); errp != nil {
		return fmt.Errorf("building retrieval index: %w", *errp)
	}
	return nil
}

// buildIndex initialises svc from src and publishes the index gauges.
func buildIndex(ctx context.Context, svc *retrieval.Service, src corpus.Source, m *metrics.Metrics) error {
	engine, err := svc.Initialize(ctx, src)
	if err != nil {
		return err
	}
	m.CorpusEntries.Set(float64(engine.Corpus().Len()))
	m.VocabularySize.Set(float64(engine.Model().VocabularySize()))
	m.IndexBuildsTotal.WithLabelValues(string(engine.Source())).Inc()
	return nil
}
