// Package aggregator persists analytics snapshots to PostgreSQL so counters
// survive restarts and history can be charted.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/postgres"
)

// The headline counters are duplicated out of the JSON document so trends
// can be queried without decoding every row.
var schema = []string{`
CREATE TABLE IF NOT EXISTS faq_analytics_snapshots (
    id             BIGSERIAL PRIMARY KEY,
    total_asks     BIGINT NOT NULL,
    no_match_count BIGINT NOT NULL,
    data           JSONB NOT NULL,
    captured_at    TIMESTAMPTZ NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS faq_analytics_snapshots_captured_at
    ON faq_analytics_snapshots (captured_at DESC)`,
}

const finalSaveTimeout = 5 * time.Second

// Store keeps a time series of AggregatedStats.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the snapshot table and its index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.Migrate(ctx, "analytics snapshots", schema...)
}

// SaveSnapshot appends stats to the series.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	doc, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding analytics snapshot: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO faq_analytics_snapshots (total_asks, no_match_count, data, captured_at)
		 VALUES ($1, $2, $3, $4)`,
		stats.TotalAsks, stats.NoMatchCount, doc, s.now(),
	)
	if err != nil {
		return fmt.Errorf("inserting analytics snapshot: %w", err)
	}
	return nil
}

// Prune deletes snapshots captured more than retention ago and reports how
// many went. A non-positive retention keeps everything.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM faq_analytics_snapshots WHERE captured_at < $1`,
		s.now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning analytics snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LatestSnapshot returns the newest snapshot, or nil when the series is
// empty.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var doc []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM faq_analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("loading latest analytics snapshot: %w", err)
	}
	stats := new(analytics.AggregatedStats)
	if err := json.Unmarshal(doc, stats); err != nil {
		return nil, fmt.Errorf("decoding latest analytics snapshot: %w", err)
	}
	return stats, nil
}

// ListSnapshots returns up to limit snapshots, newest first. Rows that no
// longer decode are logged and skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, data FROM faq_analytics_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing analytics snapshots: %w", err)
	}
	defer rows.Close()

	var out []analytics.AggregatedStats
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scanning analytics snapshot: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(doc, &stats); err != nil {
			s.logger.Warn("skipping undecodable snapshot", "id", id, "error", err)
			continue
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating analytics snapshots: %w", err)
	}
	return out, nil
}

// StartPeriodicSave snapshots agg every interval, pruning rows older than
// retention after each save. Cancelling ctx takes one last snapshot; the
// returned channel closes once that has been written.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval, retention time.Duration) <-chan struct{} {
	done := make(chan struct{})
	s.logger.Info("periodic snapshot started", "interval", interval, "retention", retention)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(ctx, agg, retention)
			case <-ctx.Done():
				finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
				defer cancel()
				if err := s.SaveSnapshot(finalCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	return done
}

func (s *Store) tick(ctx context.Context, agg *analytics.Aggregator, retention time.Duration) {
	stats := agg.Stats()
	if err := s.SaveSnapshot(ctx, stats); err != nil {
		s.logger.Error("periodic snapshot failed", "error", err)
		return
	}
	pruned, err := s.Prune(ctx, retention)
	if err != nil {
		s.logger.Warn("snapshot pruning failed", "error", err)
	}
	s.logger.Debug("analytics snapshot saved",
		"total_asks", stats.TotalAsks,
		"no_match", stats.NoMatchCount,
		"pruned", pruned,
	)
}
