// Package ticket stores support tickets: a user question that the FAQ could
// not settle, later answered by an agent.
package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TimeLayout is how created_at is rendered to API clients.
const TimeLayout = "2006-01-02 15:04:05"

var schema = []string{`
CREATE TABLE IF NOT EXISTS tickets (
    id            BIGSERIAL PRIMARY KEY,
    ticket_number VARCHAR(20) UNIQUE NOT NULL,
    user_query    TEXT NOT NULL,
    response      TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, `
CREATE INDEX IF NOT EXISTS tickets_unanswered
    ON tickets (created_at) WHERE response IS NULL`,
}

// Ticket is one stored support request.
type Ticket struct {
	ID           int64
	TicketNumber string
	UserQuery    string
	Response     *string
	CreatedAt    time.Time
}

// View is the JSON shape of a ticket.
type View struct {
	ID           int64   `json:"id"`
	TicketNumber string  `json:"ticket_number"`
	UserQuery    string  `json:"user_query"`
	Response     *string `json:"response"`
	CreatedAt    string  `json:"created_at"`
}

func (t Ticket) View() View {
	return View{
		ID:           t.ID,
		TicketNumber: t.TicketNumber,
		UserQuery:    t.UserQuery,
		Response:     t.Response,
		CreatedAt:    t.CreatedAt.Format(TimeLayout),
	}
}

// NewNumber returns a fresh ticket number: "TKT" and eight upper-case hex
// digits.
func NewNumber() string {
	id := uuid.New()
	return "TKT" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// Store persists tickets in PostgreSQL.
type Store struct {
	db        *postgres.Client
	newNumber func() string
	logger    *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:        db,
		newNumber: NewNumber,
		logger:    slog.Default().With("component", "ticket-store"),
	}
}

// EnsureSchema creates the tickets table and its indexes if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.Migrate(ctx, "tickets", schema...)
}

// Create stores a new ticket for query. A ticket number collision is
// retried with a fresh number.
func (s *Store) Create(ctx context.Context, query string) (*Ticket, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "Query is required")
	}
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		t := &Ticket{TicketNumber: s.newNumber(), UserQuery: query}
		err := s.db.DB.QueryRowContext(ctx,
			`INSERT INTO tickets (ticket_number, user_query) VALUES ($1, $2)
			 RETURNING id, created_at`,
			t.TicketNumber, t.UserQuery,
		).Scan(&t.ID, &t.CreatedAt)
		if err == nil {
			s.logger.Info("ticket created", "ticket_number", t.TicketNumber)
			return t, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("inserting ticket: %w", err)
		}
		lastErr = err
		s.logger.Warn("ticket number collision, retrying", "ticket_number", t.TicketNumber)
	}
	return nil, fmt.Errorf("inserting ticket after %d attempts: %w", attempts, lastErr)
}

// Get loads a ticket by number or returns ErrTicketNotFound.
func (s *Store) Get(ctx context.Context, number string) (*Ticket, error) {
	var (
		t        Ticket
		response sql.NullString
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, ticket_number, user_query, response, created_at
		 FROM tickets WHERE ticket_number = $1`,
		number,
	).Scan(&t.ID, &t.TicketNumber, &t.UserQuery, &response, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTicketNotFound, 404, "ticket %s", number)
	}
	if err != nil {
		return nil, fmt.Errorf("querying ticket %s: %w", number, err)
	}
	if response.Valid {
		t.Response = &response.String
	}
	return &t, nil
}

// UpdateResponse records the agent's answer on a ticket, trimmed. An
// unknown ticket is reported before an empty response.
func (s *Store) UpdateResponse(ctx context.Context, number, response string) error {
	response = strings.TrimSpace(response)
	if response == "" {
		if _, err := s.Get(ctx, number); err != nil {
			return err
		}
		return apperrors.New(apperrors.ErrInvalidInput, 400, "Response cannot be empty")
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE tickets SET response = $1 WHERE ticket_number = $2`,
		response, number,
	)
	if err != nil {
		return fmt.Errorf("updating ticket %s: %w", number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating ticket %s: %w", number, err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.ErrTicketNotFound, 404, "ticket %s", number)
	}
	s.logger.Info("ticket answered", "ticket_number", number)
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
