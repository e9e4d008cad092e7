// Package ocr drives asynchronous text recognition jobs and picks license plates
// out of the recognized lines.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/snapshot-recognizer/internal/logging"
	"github.com/example/snapshot-recognizer/internal/vision"
)

// ErrPollExhausted is returned when a job is still running after the policy's
// attempt or time budget.
var ErrPollExhausted = errors.New("ocr: text recognition job did not finish in time")

// Policy bounds the status loop. Zero MaxAttempts or Timeout disables that bound.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// DefaultPolicy polls once a second for at most a minute and a half.
func DefaultPolicy() Policy {
	return Policy{
		Interval:    time.Second,
		MaxAttempts: 60,
		Timeout:     90 * time.Second,
	}
}

// Observer receives poll metrics.
type Observer interface {
	ObservePoll()
	ObserveJob(status string)
}

type nopObserver struct{}

func (nopObserver) ObservePoll()      {}
func (nopObserver) ObserveJob(string) {}

// Poller submits read jobs and waits for them to settle.
type Poller struct {
	recognizer vision.TextRecognizer
	policy     Policy
	logger     *zap.Logger
	observer   Observer
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// Option customises a Poller.
type Option func(*Poller)

// WithObserver reports polls and final statuses to o.
func WithObserver(o Observer) Option {
	return func(p *Poller) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithSleep replaces the wait between status reads.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithClock replaces the clock used for the timeout bound.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller builds a poller. A non-positive interval falls back to one second.
func NewPoller(recognizer vision.TextRecognizer, policy Policy, logger *zap.Logger, opts ...Option) *Poller {
	if policy.Interval <= 0 {
		policy.Interval = time.Second
	}
	p := &Poller{
		recognizer: recognizer,
		policy:     policy,
		logger:     logger.Named("ocr_poller"),
		observer:   nopObserver{},
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExtractPlate runs a read job on url and returns the normalized plate or "".
// A job that fails or exceeds the policy yields "" without an error.
func (p *Poller) ExtractPlate(ctx context.Context, url string) (string, error) {
	lines, err := p.Lines(ctx, url)
	if errors.Is(err, ErrPollExhausted) {
		logging.WithOperation(p.logger, "ocr.extract_plate", logging.RequestID(ctx)).
			Warn("text recognition abandoned", zap.Error(err), zap.Duration("timeout", p.policy.Timeout), zap.Int("max_attempts", p.policy.MaxAttempts))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	plate := FindPlate(lines)
	logging.WithOperation(p.logger, "ocr.extract_plate", logging.RequestID(ctx)).
		Debug("plate filter applied", zap.Int("lines", len(lines)), zap.String("plate", plate))
	return plate, nil
}

// Lines runs a read job and returns every recognized line in order. Only a
// succeeded job produces lines; other terminal statuses give an empty slice.
func (p *Poller) Lines(ctx context.Context, url string) ([]string, error) {
	requestID := logging.RequestID(ctx)
	opLogger := logging.WithOperation(p.logger, "ocr.poll", requestID)

	jobID, err := p.recognizer.SubmitTextRecognition(ctx, url)
	if err != nil {
		return nil, logging.NewOperationError("ocr.submit", requestID, err)
	}
	opLogger = opLogger.With(zap.String("job_id", jobID))

	started := p.now()
	for attempt := 1; ; attempt++ {
		p.observer.ObservePoll()
		result, err := p.recognizer.GetTextRecognitionStatus(ctx, jobID)
		if err != nil {
			return nil, logging.NewOperationError("ocr.status", requestID, err)
		}

		if result.Status.IsTerminal() {
			p.observer.ObserveJob(string(result.Status))
			opLogger.Debug("text recognition finished", zap.String("status", string(result.Status)), zap.Int("attempts", attempt))
			if result.Status != vision.StatusSucceeded {
				return []string{}, nil
			}
			return append([]string{}, result.Lines...), nil
		}

		if p.policy.MaxAttempts > 0 && attempt >= p.policy.MaxAttempts {
			p.observer.ObserveJob("exhausted")
			return nil, fmt.Errorf("%w: %d status reads", ErrPollExhausted, attempt)
		}
		if p.policy.Timeout > 0 && p.now().Sub(started)+p.policy.Interval > p.policy.Timeout {
			p.observer.ObserveJob("exhausted")
			return nil, fmt.Errorf("%w: %s elapsed", ErrPollExhausted, p.now().Sub(started))
		}

		if err := p.sleep(ctx, p.policy.Interval); err != nil {
			return nil, logging.NewOperationError("ocr.wait", requestID, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
