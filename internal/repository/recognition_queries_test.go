package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockRepository(t *testing.T) (*RecognitionRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}
	return NewRecognitionRepository(db, zap.NewNop()), mock
}

func TestFindDuplicatesByHashQuery(t *testing.T) {
	repo, mock := newMockRepository(t)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "recognition_logs" WHERE user_id = $1 AND sha1_hash = $2 AND request_id <> $3 ORDER BY created_at DESC`)).
		WithArgs("user-1", "abc", "req-3").
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "user_id", "outcome", "sha1_hash", "created_at"}).
			AddRow(2, "req-2", "user-1", "plate", "abc", created).
			AddRow(1, "req-1", "user-1", "description", "abc", created.Add(-time.Hour)))

	logs, err := repo.FindDuplicatesByHash(context.Background(), "user-1", "abc", "req-3")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(logs) != 2 || logs[0].RequestID != "req-2" || logs[1].Outcome != "description" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if !logs[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected created_at: %v", logs[0].CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAggregateOutcomesMapsColumns(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT outcome, COUNT\(\*\) AS count, COALESCE\(AVG\(latency_ms\), 0\) AS average_latency_ms FROM "recognition_logs" GROUP BY "?outcome"? ORDER BY outcome`).
		WillReturnRows(sqlmock.NewRows([]string{"outcome", "count", "average_latency_ms"}).
			AddRow("description", 3, 1800.5).
			AddRow("identity", 1, 250.0))

	rows, err := repo.AggregateOutcomes(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	want := []OutcomeCount{
		{Outcome: "description", Count: 3, AverageLatencyMs: 1800.5},
		{Outcome: "identity", Count: 1, AverageLatencyMs: 250},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %+v", len(want), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row %d: expected %+v, got %+v", i, want[i], rows[i])
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByRequestIDAndUserNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT \* FROM "recognition_logs" WHERE request_id = \$1 AND user_id = \$2 ORDER BY "recognition_logs"."id" LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id"}))

	_, err := repo.FindByRequestIDAndUser(context.Background(), "req-9", "user-1")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}
