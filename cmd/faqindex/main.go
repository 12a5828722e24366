// Command faqindex builds or verifies the on-disk TF-IDF index snapshot
// ahead of a deploy, so faqdesk starts without rebuilding.
//
// Usage:
//
//	go run ./cmd/faqindex [--config configs/development.yaml] [--verify] [--force]
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/snapshot"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tfidf"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/resilience"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/development.yaml", "path to config file")
	verify := flag.Bool("verify", false, "check the snapshot against the corpus without writing")
	force := flag.Bool("force", false, "rebuild even if the snapshot is current")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *verify, *force); err != nil {
		slog.Error("faqindex failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, verify, force bool) error {
	var db *postgres.Client
	if cfg.Corpus.Source == "postgres" {
		var err error
		if db, err = postgres.Connect(ctx, cfg.Postgres); err != nil {
			return err
		}
		defer db.Close()
	}
	src, err := corpus.SourceFor(cfg.Corpus, db)
	if err != nil {
		return err
	}

	c, err := resilience.Call(ctx, cfg.Corpus.LoadTimeout, "corpus load", func(ctx context.Context) (*corpus.Corpus, error) {
		return corpus.Load(ctx, src)
	})
	if err != nil {
		return err
	}
	slog.Info("corpus loaded", "entries", c.Len(), "fingerprint", c.Fingerprint().Short())

	path := snapshot.Path(cfg.Corpus.SnapshotDir)
	m, hdr, err := snapshot.Read(path, c.Fingerprint())
	switch {
	case err == nil:
		slog.Info("snapshot is current",
			"path", path,
			"documents", hdr.DocCount,
			"terms", hdr.TermCount,
			"created_at", time.Unix(hdr.CreatedAt, 0).UTC(),
		)
		if verify || !force {
			return nil
		}
	case verify:
		return fmt.Errorf("snapshot %s does not serve this corpus: %w", path, err)
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("no snapshot yet", "path", path)
	default:
		slog.Warn("replacing unusable snapshot", "path", path, "reason", err)
	}

	start := time.Now()
	m = tfidf.Build(c.ProcessedQuestions())
	written, err := snapshot.Write(cfg.Corpus.SnapshotDir, c.Fingerprint(), m)
	if err != nil {
		return err
	}
	slog.Info("snapshot written",
		"path", written,
		"documents", m.NumDocs(),
		"terms", m.VocabularySize(),
		"duration", time.Since(start),
	)
	return nil
}
