// Package vision describes the recognition services the pipeline consumes and the
// result shapes they return. Adapters live in sub-packages and in internal/grpcclient.
package vision

import (
	"context"
	"sort"
	"strings"
)

// Client exposes the detection, identification, description and text recognition
// calls used by the pipeline. Implementations must be safe for concurrent use.
type Client interface {
	FaceDetector
	Identifier
	Detector
	Describer
	TextRecognizer
}

// FaceDetector finds faces in raw image bytes. No identity is attached.
type FaceDetector interface {
	DetectFaces(ctx context.Context, image []byte) ([]FaceRegion, error)
}

// Identifier matches a detected face against an enrolled gallery.
type Identifier interface {
	// IdentifyFace returns candidates ordered by descending confidence.
	IdentifyFace(ctx context.Context, faceID, galleryID string) ([]FaceCandidate, error)
	GetPersonName(ctx context.Context, galleryID, personID string) (string, error)
}

// Detector runs the two detection passes drawn by the annotation renderer.
type Detector interface {
	DetectObjects(ctx context.Context, url string) ([]DetectionBox, error)
	DetectFacesWithEmotion(ctx context.Context, url string) ([]EmotionFace, error)
}

// Describer produces scene captions.
type Describer interface {
	DescribeImage(ctx context.Context, url string) ([]Caption, error)
}

// TextRecognizer runs the asynchronous read job.
type TextRecognizer interface {
	SubmitTextRecognition(ctx context.Context, url string) (string, error)
	GetTextRecognitionStatus(ctx context.Context, jobID string) (TextRecognitionResult, error)
}

// Rect is a pixel rectangle in image coordinates.
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// RectFromSize converts the x/y/width/height form most services return.
func RectFromSize(x, y, width, height int) Rect {
	return Rect{Left: x, Top: y, Right: x + width, Bottom: y + height}
}

// FaceRegion is a detected face without identity.
type FaceRegion struct {
	FaceID string
	Rect   Rect
}

// FaceCandidate is one gallery match for a face.
type FaceCandidate struct {
	PersonID   string
	Name       string
	Confidence float64
}

// DetectionBox is a labelled rectangle produced by object or face/emotion detection.
type DetectionBox struct {
	Label      string
	Confidence float64
	Rect       Rect
}

// EmotionFace is a face rectangle with its per-emotion scores.
type EmotionFace struct {
	Rect     Rect
	Emotions map[string]float64
}

// Dominant returns the emotion with the highest score. Ties go to the lexically
// smallest name so repeated calls agree.
func (f EmotionFace) Dominant() (string, float64) {
	names := make([]string, 0, len(f.Emotions))
	for name := range f.Emotions {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		best  string
		score float64
		found bool
	)
	for _, name := range names {
		if s := f.Emotions[name]; !found || s > score {
			best, score, found = name, s, true
		}
	}
	return best, score
}

// Box converts the face into the box drawn on the face/emotion layer.
func (f EmotionFace) Box() DetectionBox {
	name, score := f.Dominant()
	return DetectionBox{Label: name, Confidence: score, Rect: f.Rect}
}

// Caption is one scene description.
type Caption struct {
	Text       string
	Confidence float64
}

// TextRecognitionStatus is the state of an asynchronous read job.
type TextRecognitionStatus string

const (
	StatusPending   TextRecognitionStatus = "pending"
	StatusRunning   TextRecognitionStatus = "running"
	StatusSucceeded TextRecognitionStatus = "succeeded"
	StatusFailed    TextRecognitionStatus = "failed"
)

// IsTerminal reports whether polling should stop. Anything other than pending or
// running is terminal, including statuses this package does not know.
func (s TextRecognitionStatus) IsTerminal() bool {
	return s != StatusPending && s != StatusRunning
}

// ParseTextRecognitionStatus maps a backend status name onto the known values
// regardless of case. "notStarted" and "queued" mean pending; unknown names are
// kept lowercased and count as terminal.
func ParseTextRecognitionStatus(s string) TextRecognitionStatus {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "notstarted", "queued", string(StatusPending):
		return StatusPending
	case string(StatusRunning):
		return StatusRunning
	case string(StatusSucceeded):
		return StatusSucceeded
	case string(StatusFailed):
		return StatusFailed
	default:
		return TextRecognitionStatus(v)
	}
}

// TextRecognitionResult is one status read of a job. Lines are only meaningful
// once Status is StatusSucceeded.
type TextRecognitionResult struct {
	JobID  string
	Status TextRecognitionStatus
	Lines  []string
}
