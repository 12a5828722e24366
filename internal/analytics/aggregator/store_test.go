package aggregator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/postgres"
	"github.com/DATA-DOG/go-sqlmock"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewStore(postgres.Wrap(db))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestSaveAndLatest(t *testing.T) {
	s, mock := newMockStore(t)
	stats := analytics.AggregatedStats{TotalAsks: 12, NoMatchCount: 2}
	doc, _ := json.Marshal(stats)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS faq_analytics_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO faq_analytics_snapshots").
		WithArgs(int64(12), int64(2), doc, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT data FROM faq_analytics_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(doc))

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(ctx, stats); err != nil {
		t.Fatal(err)
	}
	got, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.TotalAsks != 12 || got.NoMatchCount != 2 {
		t.Errorf("latest = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLatestSnapshotEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT data FROM faq_analytics_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	got, err := s.LatestSnapshot(context.Background())
	if err != nil || got != nil {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestListSnapshotsSkipsUndecodable(t *testing.T) {
	s, mock := newMockStore(t)
	good, _ := json.Marshal(analytics.AggregatedStats{TotalAsks: 1})
	mock.ExpectQuery("SELECT id, data FROM faq_analytics_snapshots").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).
			AddRow(int64(2), good).
			AddRow(int64(1), []byte("{broken")))
	got, err := s.ListSnapshots(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TotalAsks != 1 {
		t.Errorf("snapshots = %+v", got)
	}
}

func TestPrune(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM faq_analytics_snapshots").
		WithArgs(fixedNow.Add(-24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Prune(context.Background(), 24*time.Hour)
	if err != nil || n != 3 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if n, err := s.Prune(context.Background(), 0); err != nil || n != 0 {
		t.Fatalf("zero retention Prune = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStartPeriodicSaveFinalSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO faq_analytics_snapshots").WillReturnResult(sqlmock.NewResult(1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartPeriodicSave(ctx, analytics.NewAggregator(), time.Hour, 24*time.Hour)
	cancel()
	<-done
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
