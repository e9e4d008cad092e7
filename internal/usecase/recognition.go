package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/snapshot-recognizer/internal/compose"
	"github.com/example/snapshot-recognizer/internal/imagestore"
	"github.com/example/snapshot-recognizer/internal/logging"
	"github.com/example/snapshot-recognizer/internal/recognition"
	"github.com/example/snapshot-recognizer/internal/repository"
	"github.com/example/snapshot-recognizer/internal/retry"
)

var (
	// ErrInvalidImage is returned when the upload cannot be decoded as a raster image.
	ErrInvalidImage = errors.New("upload is not a supported image")
	// ErrResultPending is returned while the request is still being processed.
	ErrResultPending = errors.New("recognition still in progress")
)

const (
	processingTTL = time.Minute
	resultTTL     = 5 * time.Minute
)

// RecognitionRepository defines the persistence operations needed by the use case.
type RecognitionRepository interface {
	SaveLog(ctx context.Context, log *repository.RecognitionLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.RecognitionLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.RecognitionLog, error)
	AggregateOutcomes(ctx context.Context) ([]repository.OutcomeCount, error)
}

// Pipeline runs recognition on one stored asset.
type Pipeline interface {
	Process(ctx context.Context, asset recognition.Asset) (recognition.Result, error)
}

// RecognitionUseCase stores the upload, runs the pipeline, and records the outcome.
type RecognitionUseCase struct {
	repo     RecognitionRepository
	cache    Cache
	pipeline Pipeline
	store    imagestore.Store
	workDir  string
	logger   *zap.Logger
	retry    retry.Policy
	now      func() time.Time
}

type cachedRecognition struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	Outcome   string    `json:"outcome"`
	Text      string    `json:"text"`
	SourceURL string    `json:"source_url"`
	ImageURL  string    `json:"image_url"`
	Hash      string    `json:"sha1_hash"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// DuplicateReport lists earlier uploads of the same image.
type DuplicateReport struct {
	Request    *repository.RecognitionLog
	Duplicates []*repository.RecognitionLog
}

// NewRecognitionUseCase constructs a new use case instance. Local copies of
// uploads are written under workDir.
func NewRecognitionUseCase(repo RecognitionRepository, cache Cache, pipeline Pipeline, store imagestore.Store, workDir string, logger *zap.Logger) *RecognitionUseCase {
	return &RecognitionUseCase{
		repo:     repo,
		cache:    cache,
		pipeline: pipeline,
		store:    store,
		workDir:  workDir,
		logger:   logger.Named("recognition_usecase"),
		retry:    retry.DefaultPolicy(),
		now:      time.Now,
	}
}

// Recognize runs one invocation for userID and returns its request id and reply.
func (uc *RecognitionUseCase) Recognize(ctx context.Context, userID string, imageBytes []byte) (string, *compose.Reply, error) {
	requestID := uuid.NewString()
	ctx = logging.ContextWithRequestID(ctx, requestID)
	opLogger := logging.WithOperation(uc.logger, "usecase.recognize", requestID)
	started := uc.now()

	cacheKey := resultKey(requestID)
	if err := retry.Do(ctx, uc.retry, uc.logger, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	asset, err := uc.ingest(ctx, requestID, imageBytes)
	if err != nil {
		opLogger.Error("failed to store upload", zap.Error(err))
		return "", nil, err
	}
	defer uc.release(opLogger, asset)

	result, err := uc.pipeline.Process(ctx, asset)
	if err != nil {
		opLogger.Error("pipeline failed", zap.Error(err))
		return "", nil, err
	}

	hash := sha1.Sum(imageBytes)
	log := &repository.RecognitionLog{
		RequestID: requestID,
		UserID:    userID,
		Outcome:   string(result.Outcome),
		Text:      result.Text,
		SourceURL: asset.URL,
		ImageURL:  result.ImageLink,
		SHA1Hash:  hex.EncodeToString(hash[:]),
		LatencyMs: uc.now().Sub(started).Milliseconds(),
		CreatedAt: uc.now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist recognition log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	serialized, err := json.Marshal(cachedRecognition{
		RequestID: log.RequestID,
		UserID:    log.UserID,
		Outcome:   log.Outcome,
		Text:      log.Text,
		SourceURL: log.SourceURL,
		ImageURL:  log.ImageURL,
		Hash:      log.SHA1Hash,
		LatencyMs: log.LatencyMs,
		CreatedAt: log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize recognition result", zap.Error(err))
		return "", nil, err
	}

	if err := retry.Do(ctx, uc.retry, uc.logger, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache recognition result", zap.Error(err))
		return "", nil, err
	}

	reply := compose.Compose(result)
	opLogger.Info("recognition finished", zap.String("outcome", string(result.Outcome)), zap.Int64("latency_ms", log.LatencyMs))
	return requestID, &reply, nil
}

// ingest validates the upload, writes the local copy and publishes it.
func (uc *RecognitionUseCase) ingest(ctx context.Context, requestID string, imageBytes []byte) (recognition.Asset, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	if err != nil {
		return recognition.Asset{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	ext := "." + format
	if format == "jpeg" {
		ext = ".jpg"
	}
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		return recognition.Asset{}, fmt.Errorf("%w: %s", ErrInvalidImage, format)
	}

	if err := os.MkdirAll(uc.workDir, 0o755); err != nil {
		return recognition.Asset{}, logging.NewOperationError("usecase.prepare_workdir", requestID, err)
	}
	path := filepath.Join(uc.workDir, requestID+ext)
	if err := os.WriteFile(path, imageBytes, 0o600); err != nil {
		return recognition.Asset{}, logging.NewOperationError("usecase.write_local", requestID, err)
	}

	url, err := uc.store.Upload(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return recognition.Asset{}, logging.NewOperationError("imagestore.upload", requestID, err)
	}
	return recognition.Asset{Path: path, URL: url}, nil
}

func (uc *RecognitionUseCase) release(logger *zap.Logger, asset recognition.Asset) {
	if err := os.Remove(asset.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove local upload", zap.String("path", asset.Path), zap.Error(err))
	}
}

// GetResult retrieves a cached recognition outcome or loads it from persistence.
func (uc *RecognitionUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.RecognitionLog, error) {
	cacheKey := resultKey(requestID)
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.cacheGet(ctx, requestID, cacheKey)
	switch {
	case err == nil && cached == "processing":
		return nil, ErrResultPending
	case err == nil:
		var payload cachedRecognition
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
			break
		}
		if payload.UserID != "" && payload.UserID != userID {
			break
		}
		return &repository.RecognitionLog{
			RequestID: payload.RequestID,
			UserID:    payload.UserID,
			Outcome:   payload.Outcome,
			Text:      payload.Text,
			SourceURL: payload.SourceURL,
			ImageURL:  payload.ImageURL,
			SHA1Hash:  payload.Hash,
			LatencyMs: payload.LatencyMs,
			CreatedAt: payload.CreatedAt,
		}, nil
	case err != nil && !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport lists earlier recognitions of the same bytes for userID.
func (uc *RecognitionUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *RecognitionUseCase) cacheGet(ctx context.Context, requestID, cacheKey string) (string, error) {
	var result string
	err := retry.Do(ctx, uc.retry, uc.logger, "cache.get.result", requestID, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("recognition:%s", requestID)
}
