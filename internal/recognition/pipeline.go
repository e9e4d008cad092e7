// Package recognition turns one uploaded image into a person name, a license
// plate or a scene description, paired with the image link to show.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/snapshot-recognizer/internal/logging"
	"github.com/example/snapshot-recognizer/internal/vision"
)

// UnknownPerson is the name reported when a single face has no confident match.
const UnknownPerson = "unknown"

// DefaultIdentityThreshold is the minimum candidate confidence for a named match.
const DefaultIdentityThreshold = 0.5

// PlatePrefix starts the text of a plate result.
const PlatePrefix = "License Plate: "

// Outcome names the stage that produced the result text.
type Outcome string

const (
	OutcomeIdentity    Outcome = "identity"
	OutcomePlate       Outcome = "plate"
	OutcomeDescription Outcome = "description"
)

// Stage names used for logs and timings.
const (
	StageIdentity    = "identity"
	StagePlate       = "plate"
	StageAnnotation  = "annotation"
	StageDescription = "description"
)

// Asset is the image of one invocation: a local file and the public URL of the
// same bytes.
type Asset struct {
	Path string
	URL  string
}

// Result is the only output of an invocation.
type Result struct {
	Text      string
	ImageLink string
	Outcome   Outcome
}

// Identifier is the subset of the vision client used by the identity stage.
type Identifier interface {
	vision.FaceDetector
	vision.Identifier
}

// PlateExtractor returns a normalized plate read from url, or "".
type PlateExtractor interface {
	ExtractPlate(ctx context.Context, url string) (string, error)
}

// Annotator draws detections onto the local image and returns the new link.
type Annotator interface {
	Annotate(ctx context.Context, path, url string) (string, error)
}

// Observer receives pipeline metrics.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration)
	ObserveOutcome(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveOutcome(string)              {}

// Config carries the identity stage settings.
type Config struct {
	GalleryID         string
	IdentityThreshold float64
}

// Pipeline runs the stages in order: identity, plate, annotation, text selection.
// It holds no per-invocation state and is safe for concurrent use when its
// collaborators are.
type Pipeline struct {
	identifier Identifier
	plates     PlateExtractor
	annotator  Annotator
	describer  vision.Describer
	cfg        Config
	logger     *zap.Logger
	observer   Observer
	now        func() time.Time
}

// NewPipeline wires the stages. A zero threshold uses DefaultIdentityThreshold
// and a nil observer disables metrics.
func NewPipeline(identifier Identifier, plates PlateExtractor, annotator Annotator, describer vision.Describer, cfg Config, logger *zap.Logger, observer Observer) *Pipeline {
	if cfg.IdentityThreshold <= 0 {
		cfg.IdentityThreshold = DefaultIdentityThreshold
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pipeline{
		identifier: identifier,
		plates:     plates,
		annotator:  annotator,
		describer:  describer,
		cfg:        cfg,
		logger:     logger.Named("pipeline"),
		observer:   observer,
		now:        time.Now,
	}
}

// Process runs one invocation. Any collaborator failure aborts it with an error;
// detection outcomes that match nothing are not errors.
func (p *Pipeline) Process(ctx context.Context, asset Asset) (Result, error) {
	requestID := logging.RequestID(ctx)
	opLogger := logging.WithOperation(p.logger, "pipeline.process", requestID)

	image, err := os.ReadFile(asset.Path)
	if err != nil {
		return Result{}, logging.NewOperationError("pipeline.read_image", requestID, err)
	}

	name, resolved, err := p.timed(StageIdentity, func() (string, bool, error) {
		return p.resolveIdentity(ctx, image)
	})
	if err != nil {
		return Result{}, err
	}
	if resolved {
		opLogger.Info("identity resolved", zap.String("name", name))
		return p.finish(Result{Text: name, ImageLink: asset.URL, Outcome: OutcomeIdentity}), nil
	}

	plate, _, err := p.timed(StagePlate, func() (string, bool, error) {
		plate, err := p.plates.ExtractPlate(ctx, asset.URL)
		return plate, plate != "", err
	})
	if err != nil {
		p.removeLocal(opLogger, asset.Path)
		return Result{}, err
	}

	link, _, err := p.timed(StageAnnotation, func() (string, bool, error) {
		defer p.removeLocal(opLogger, asset.Path)
		link, err := p.annotator.Annotate(ctx, asset.Path, asset.URL)
		return link, err == nil, err
	})
	if err != nil {
		return Result{}, err
	}

	if plate != "" {
		opLogger.Info("plate recognized", zap.String("plate", plate))
		return p.finish(Result{Text: PlatePrefix + plate, ImageLink: link, Outcome: OutcomePlate}), nil
	}

	text, _, err := p.timed(StageDescription, func() (string, bool, error) {
		captions, err := p.describer.DescribeImage(ctx, asset.URL)
		if err != nil {
			return "", false, logging.NewOperationError("vision.describe_image", requestID, err)
		}
		return FormatCaptions(captions), true, nil
	})
	if err != nil {
		return Result{}, err
	}
	opLogger.Info("image described", zap.Int("length", len(text)))
	return p.finish(Result{Text: text, ImageLink: link, Outcome: OutcomeDescription}), nil
}

// resolveIdentity reports resolved=true whenever exactly one face is found,
// including when the best match is below the threshold.
func (p *Pipeline) resolveIdentity(ctx context.Context, image []byte) (string, bool, error) {
	requestID := logging.RequestID(ctx)

	faces, err := p.identifier.DetectFaces(ctx, image)
	if err != nil {
		return "", false, logging.NewOperationError("vision.detect_faces", requestID, err)
	}
	logging.WithOperation(p.logger, "pipeline.identity", requestID).Debug("faces detected", zap.Int("count", len(faces)))
	if len(faces) != 1 {
		return "", false, nil
	}

	candidates, err := p.identifier.IdentifyFace(ctx, faces[0].FaceID, p.cfg.GalleryID)
	if err != nil {
		return "", false, logging.NewOperationError("vision.identify_face", requestID, err)
	}
	if len(candidates) == 0 || candidates[0].Confidence < p.cfg.IdentityThreshold {
		return UnknownPerson, true, nil
	}

	name, err := p.identifier.GetPersonName(ctx, p.cfg.GalleryID, candidates[0].PersonID)
	if err != nil {
		return "", false, logging.NewOperationError("vision.get_person_name", requestID, err)
	}
	return name, true, nil
}

func (p *Pipeline) timed(stage string, fn func() (string, bool, error)) (string, bool, error) {
	started := p.now()
	value, ok, err := fn()
	p.observer.ObserveStage(stage, p.now().Sub(started))
	return value, ok, err
}

func (p *Pipeline) finish(r Result) Result {
	p.observer.ObserveOutcome(string(r.Outcome))
	return r
}

func (p *Pipeline) removeLocal(logger *zap.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove local image", zap.String("path", path), zap.Error(err))
	}
}

// FormatCaptions renders captions in service order, one per line, with the
// confidence as a percentage with two decimals.
func FormatCaptions(captions []vision.Caption) string {
	var b strings.Builder
	for _, c := range captions {
		fmt.Fprintf(&b, "'%s' with confidence %.2f%% \n", c.Text, c.Confidence*100)
	}
	return b.String()
}
