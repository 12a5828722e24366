package corpus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/postgres"
)

// Source supplies question/answer pairs in corpus order.
type Source interface {
	Load(ctx context.Context) ([]Pair, error)
}

// StaticSource serves a fixed slice of pairs.
type StaticSource []Pair

func (s StaticSource) Load(ctx context.Context) ([]Pair, error) {
	out := make([]Pair, len(s))
	copy(out, s)
	return out, nil
}

// CSVSource reads a CSV file whose header row names a Question and an
// Answer column (case-insensitive, any position). Rows with an empty
// question or answer are skipped and counted.
type CSVSource struct {
	Path string
}

func (s CSVSource) Load(ctx context.Context) ([]Pair, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", apperrors.ErrCorpusUnavailable, s.Path, err)
	}
	defer f.Close()
	pairs, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	return pairs, nil
}

// ReadCSV parses FAQ rows from r. See CSVSource for the expected layout.
func ReadCSV(r io.Reader) ([]Pair, error) {
	logger := slog.Default().With("component", "corpus-loader")
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: csv has no header row", apperrors.ErrCorpusUnavailable)
		}
		return nil, fmt.Errorf("%w: reading csv header: %v", apperrors.ErrCorpusUnavailable, err)
	}
	qCol, aCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "question":
			qCol = i
		case "answer":
			aCol = i
		}
	}
	if qCol < 0 || aCol < 0 {
		return nil, fmt.Errorf("%w: csv header %q lacks Question/Answer columns", apperrors.ErrCorpusUnavailable, header)
	}

	pairs := make([]Pair, 0, 64)
	skipped := 0
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				logger.Warn("skipping malformed csv row", "line", line, "error", err)
				skipped++
				continue
			}
			return nil, fmt.Errorf("%w: reading csv: %v", apperrors.ErrCorpusUnavailable, err)
		}
		pair, ok := pairFromRecord(record, qCol, aCol)
		if !ok {
			skipped++
			continue
		}
		pairs = append(pairs, pair)
	}
	if skipped > 0 {
		logger.Warn("skipped incomplete faq rows", "skipped", skipped, "loaded", len(pairs))
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: csv contains no usable rows", apperrors.ErrCorpusUnavailable)
	}
	return pairs, nil
}

func pairFromRecord(record []string, qCol, aCol int) (Pair, bool) {
	if qCol >= len(record) || aCol >= len(record) {
		return Pair{}, false
	}
	q := strings.TrimSpace(record[qCol])
	a := strings.TrimSpace(record[aCol])
	if q == "" || a == "" {
		return Pair{}, false
	}
	return Pair{Question: q, Answer: a}, true
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresSource reads pairs from a table with question and answer
// columns, ordered by id.
type PostgresSource struct {
	DB    *postgres.Client
	Table string
}

func (s PostgresSource) Load(ctx context.Context) ([]Pair, error) {
	if !tableName.MatchString(s.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", apperrors.ErrInvalidInput, s.Table)
	}
	rows, err := s.DB.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT question, answer FROM %s ORDER BY id`, s.Table),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", apperrors.ErrCorpusUnavailable, s.Table, err)
	}
	defer rows.Close()

	pairs := make([]Pair, 0, 64)
	skipped := 0
	for rows.Next() {
		var q, a *string
		if err := rows.Scan(&q, &a); err != nil {
			return nil, fmt.Errorf("scanning faq row: %w", err)
		}
		if q == nil || a == nil || strings.TrimSpace(*q) == "" || strings.TrimSpace(*a) == "" {
			skipped++
			continue
		}
		pairs = append(pairs, Pair{Question: strings.TrimSpace(*q), Answer: strings.TrimSpace(*a)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating %s: %v", apperrors.ErrCorpusUnavailable, s.Table, err)
	}
	if skipped > 0 {
		slog.Default().With("component", "corpus-loader").Warn("skipped incomplete faq rows",
			"table", s.Table,
			"skipped", skipped,
			"loaded", len(pairs),
		)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: table %s has no usable rows", apperrors.ErrCorpusUnavailable, s.Table)
	}
	return pairs, nil
}

// SourceFor picks the Source named by cfg.Source. db is only consulted for
// the postgres source and must be non-nil there.
func SourceFor(cfg config.CorpusConfig, db *postgres.Client) (Source, error) {
	switch cfg.Source {
	case "csv":
		return CSVSource{Path: cfg.Path}, nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("corpus source postgres needs a database connection")
		}
		return PostgresSource{DB: db, Table: cfg.Table}, nil
	default:
		return nil, fmt.Errorf("%w: unknown corpus source %q", apperrors.ErrInvalidInput, cfg.Source)
	}
}

// Load reads pairs from src and builds the Corpus.
func Load(ctx context.Context, src Source) (*Corpus, error) {
	pairs, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return New(pairs)
}
