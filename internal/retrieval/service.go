package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/resilience"
)

// Options configures a Service.
type Options struct {
	// SnapshotDir holds the persisted model. Empty disables snapshots.
	SnapshotDir string
	// LoadTimeout bounds reading the corpus source. Zero means no limit.
	LoadTimeout time.Duration
}

// Service owns the process-wide Engine. Initialize builds it exactly once;
// until then Retrieve fails with ErrIndexNotReady.
type Service struct {
	opts   Options
	engine atomic.Pointer[Engine]
	mu     sync.Mutex
	logger *slog.Logger
}

func NewService(opts Options) *Service {
	return &Service{
		opts:   opts,
		logger: slog.Default().With("component", "retrieval"),
	}
}

// Initialize loads the corpus from src, restores the model from a matching
// snapshot or rebuilds it, and publishes the result. Calls after the first
// success return the published Engine without reloading.
func (s *Service) Initialize(ctx context.Context, src corpus.Source) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.engine.Load(); e != nil {
		return e, nil
	}

	start := time.Now()
	c, err := resilience.Call(ctx, s.opts.LoadTimeout, "corpus load", func(ctx context.Context) (*corpus.Corpus, error) {
		return corpus.Load(ctx, src)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrCorpusUnavailable) {
			return nil, err
		}
		return nil, apperrors.New(apperrors.ErrCorpusUnavailable, 503, err.Error())
	}

	e, err := s.loadOrBuild(c)
	if err != nil {
		return nil, err
	}
	s.engine.Store(e)
	s.logger.Info("retrieval index ready",
		"entries", c.Len(),
		"vocabulary", e.Model().VocabularySize(),
		"source", e.Source(),
		"fingerprint", c.Fingerprint().Short(),
		"duration", time.Since(start),
	)
	return e, nil
}

func (s *Service) loadOrBuild(c *corpus.Corpus) (*Engine, error) {
	if s.opts.SnapshotDir == "" {
		return BuildEngine(c), nil
	}
	path := snapshot.Path(s.opts.SnapshotDir)
	m, _, err := snapshot.Read(path, c.Fingerprint())
	if err == nil {
		e, err := NewEngine(c, m, BuiltFromSnapshot)
		if err == nil {
			return e, nil
		}
		s.logger.Warn("snapshot does not fit corpus, rebuilding", "path", path, "error", err)
	} else {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Info("no index snapshot, building", "path", path)
		case errors.Is(err, snapshot.ErrStale):
			s.logger.Info("index snapshot is stale, rebuilding", "path", path, "reason", err)
		default:
			s.logger.Warn("index snapshot unreadable, rebuilding", "path", path, "error", err)
		}
	}

	e := BuildEngine(c)
	if _, err := snapshot.Write(s.opts.SnapshotDir, c.Fingerprint(), e.Model()); err != nil {
		s.logger.Error("writing index snapshot failed", "path", path, "error", err)
	}
	return e, nil
}

// Ready reports whether an Engine has been published.
func (s *Service) Ready() bool {
	return s.engine.Load() != nil
}

// Engine returns the published Engine or ErrIndexNotReady.
func (s *Service) Engine() (*Engine, error) {
	e := s.engine.Load()
	if e == nil {
		return nil, apperrors.New(apperrors.ErrIndexNotReady, 503, "index is still building")
	}
	return e, nil
}

// Retrieve delegates to the published Engine.
func (s *Service) Retrieve(query string, topN int) ([]Match, error) {
	e, err := s.Engine()
	if err != nil {
		return nil, err
	}
	return e.Retrieve(query, topN), nil
}

// Page returns one page of corpus entries and the total entry count.
func (s *Service) Page(page, perPage int) ([]corpus.Entry, int, error) {
	e, err := s.Engine()
	if err != nil {
		return nil, 0, err
	}
	items, total := e.Corpus().Page(page, perPage)
	return items, total, nil
}

// Check implements a readiness probe.
func (s *Service) Check(ctx context.Context) error {
	if !s.Ready() {
		return fmt.Errorf("retrieval index not ready")
	}
	return nil
}
