package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/snapshot-recognizer/internal/retry"
)

// RecognitionLog is one persisted pipeline invocation.
type RecognitionLog struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID    string    `gorm:"column:user_id;index;size:64"`
	Outcome   string    `gorm:"column:outcome;index;size:16"`
	Text      string    `gorm:"column:text;type:text"`
	SourceURL string    `gorm:"column:source_url;size:512"`
	ImageURL  string    `gorm:"column:image_url;size:512"`
	SHA1Hash  string    `gorm:"column:sha1_hash;index;size:40"`
	LatencyMs int64     `gorm:"column:latency_ms"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (RecognitionLog) TableName() string {
	return "recognition_logs"
}

// OutcomeCount is one row of the per-outcome aggregation.
type OutcomeCount struct {
	Outcome          string
	Count            int64
	AverageLatencyMs float64
}

// RecognitionRepository persists recognition logs in postgres.
type RecognitionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRecognitionRepository creates a repository with the default retry policy.
func NewRecognitionRepository(db *gorm.DB, logger *zap.Logger) *RecognitionRepository {
	p := retry.DefaultPolicy()
	return &RecognitionRepository{
		db:             db,
		logger:         logger.Named("recognition_repository"),
		retryAttempts:  p.Attempts,
		initialBackoff: p.InitialBackoff,
		maxBackoff:     p.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *RecognitionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RecognitionLog{})
}

// SaveLog persists a recognition log entry.
func (r *RecognitionRepository) SaveLog(ctx context.Context, log *RecognitionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a log owned by userID.
func (r *RecognitionRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*RecognitionLog, error) {
	var log RecognitionLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists earlier uploads of the same bytes by the same user.
func (r *RecognitionRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*RecognitionLog, error) {
	var logs []*RecognitionLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND sha1_hash = ? AND request_id <> ?", userID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateOutcomes counts logs per outcome with their mean latency.
func (r *RecognitionRepository) AggregateOutcomes(ctx context.Context) ([]OutcomeCount, error) {
	var rows []OutcomeCount
	err := r.executeWithRetry(ctx, "repository.aggregate_outcomes", "", func() error {
		return r.db.WithContext(ctx).
			Model(&RecognitionLog{}).
			Select("outcome, COUNT(*) AS count, COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
			Group("outcome").
			Order("outcome").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *RecognitionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, policy, r.logger, operation, requestID, fn)
}
