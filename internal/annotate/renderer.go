// Package annotate draws detection overlays onto uploaded images and republishes them.
package annotate

import (
	"context"
	"errors"
	"os"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/example/snapshot-recognizer/internal/imagestore"
	"github.com/example/snapshot-recognizer/internal/logging"
	"github.com/example/snapshot-recognizer/internal/vision"
)

// Observer receives renderer metrics.
type Observer interface {
	ObserveMarks(layer string, n int)
	ObserveUpload(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveMarks(string, int) {}
func (nopObserver) ObserveUpload(error)      {}

// Renderer annotates a local image with object and face/emotion detections of
// the same image at its public URL.
type Renderer struct {
	detector vision.Detector
	store    imagestore.Store
	logger   *zap.Logger
	observer Observer
}

// NewRenderer builds a renderer. A nil observer disables metrics.
func NewRenderer(detector vision.Detector, store imagestore.Store, logger *zap.Logger, observer Observer) *Renderer {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Renderer{
		detector: detector,
		store:    store,
		logger:   logger.Named("annotate"),
		observer: observer,
	}
}

// Annotate draws both layers onto the image at path, overwrites path, uploads
// the result and removes path. It returns the uploaded link.
func (r *Renderer) Annotate(ctx context.Context, path, url string) (string, error) {
	requestID := logging.RequestID(ctx)
	opLogger := logging.WithOperation(r.logger, "annotate.render", requestID)

	src, err := imaging.Open(path)
	if err != nil {
		return "", logging.NewOperationError("annotate.open", requestID, err)
	}
	canvas := imaging.Clone(src)
	fontSize := FontSizeFor(canvas.Bounds().Dy())

	objects, err := r.detector.DetectObjects(ctx, url)
	if err != nil {
		return "", logging.NewOperationError("vision.detect_objects", requestID, err)
	}
	faces, err := r.detector.DetectFacesWithEmotion(ctx, url)
	if err != nil {
		return "", logging.NewOperationError("vision.detect_faces_with_emotion", requestID, err)
	}

	marks := Layout(objects, faces, fontSize)
	for _, m := range marks {
		opLogger.Debug("mark", zap.String("layer", m.Layer), zap.String("label", m.Label),
			zap.Int("left", m.Rect.Left), zap.Int("top", m.Rect.Top),
			zap.Int("right", m.Rect.Right), zap.Int("bottom", m.Rect.Bottom))
	}
	if err := Draw(canvas, marks); err != nil {
		return "", logging.NewOperationError("annotate.draw", requestID, err)
	}
	r.observer.ObserveMarks(LayerObjects, countLayer(marks, LayerObjects))
	r.observer.ObserveMarks(LayerFaces, countLayer(marks, LayerFaces))

	if err := imaging.Save(canvas, path); err != nil {
		return "", logging.NewOperationError("annotate.save", requestID, err)
	}

	link, err := r.store.Upload(ctx, path)
	r.observer.ObserveUpload(err)
	if err != nil {
		return "", logging.NewOperationError("imagestore.upload", requestID, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		opLogger.Warn("failed to remove annotated file", zap.String("path", path), zap.Error(err))
	}

	opLogger.Info("image annotated",
		zap.Int("objects", len(objects)),
		zap.Int("faces", len(faces)),
		zap.Int("font_size", fontSize),
		zap.String("link", link))
	return link, nil
}
