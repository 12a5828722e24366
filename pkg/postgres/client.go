// Package postgres wraps database/sql with the lib/pq driver and the pool,
// transaction and schema helpers the stores share.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/resilience"
	_ "github.com/lib/pq"
)

type Client struct {
	DB *sql.DB
}

// New opens a pooled connection and verifies it with a ping.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db}, nil
}

// connectRetry spaces connection attempts while the database comes up
// alongside the service.
var connectRetry = resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}

// Connect calls New until it succeeds, backing off between attempts.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	var c *Client
	err := resilience.Retry(ctx, "postgres connect", connectRetry, func() error {
		var err error
		c, err = New(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("connected to postgres", "host", cfg.Host, "database", cfg.Database)
	return c, nil
}

// Wrap adapts an already-open *sql.DB, e.g. one created by sqlmock.
func Wrap(db *sql.DB) *Client {
	return &Client{DB: db}
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// InTx runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Migrate applies the DDL statements for one store in a single transaction,
// so a failure leaves none of them half-applied. Statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func (c *Client) Migrate(ctx context.Context, name string, stmts ...string) error {
	err := c.InTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrating %s: %w", name, err)
	}
	slog.Default().With("component", "postgres").Debug("schema ready", "store", name, "statements", len(stmts))
	return nil
}
