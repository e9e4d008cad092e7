package annotate

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/example/snapshot-recognizer/internal/vision"
)

const (
	LayerObjects = "objects"
	LayerFaces   = "faces"
)

// Mark is one rectangle with its label as it will be drawn.
type Mark struct {
	Layer    string
	Rect     vision.Rect
	Label    string
	LabelAt  image.Point
	FontSize int
}

// FontSizeFor returns the label size for an image of the given pixel height:
// five percent of the height, truncated, never below one.
func FontSizeFor(height int) int {
	size := int(0.05 * float64(height))
	if size < 1 {
		return 1
	}
	return size
}

// Layout places the object layer first and the face/emotion layer second.
// Labels sit at (left, |top - fontSize|), which puts them under the box top when
// the box starts closer to the image edge than one font size.
func Layout(objects []vision.DetectionBox, faces []vision.EmotionFace, fontSize int) []Mark {
	marks := make([]Mark, 0, len(objects)+len(faces))
	for _, obj := range objects {
		marks = append(marks, newMark(LayerObjects, obj, fontSize))
	}
	for _, face := range faces {
		marks = append(marks, newMark(LayerFaces, face.Box(), fontSize))
	}
	return marks
}

func newMark(layer string, box vision.DetectionBox, fontSize int) Mark {
	return Mark{
		Layer:    layer,
		Rect:     box.Rect,
		Label:    fmt.Sprintf("%s %s", box.Label, formatConfidence(box.Confidence)),
		LabelAt:  image.Pt(box.Rect.Left, abs(box.Rect.Top-fontSize)),
		FontSize: fontSize,
	}
}

// formatConfidence prints the shortest exact form and keeps a decimal point on
// whole numbers ("1.0", not "1"). Magnitudes below 1e-4 or from 1e16 switch to
// exponent form ("1e-05").
func formatConfidence(v float64) string {
	format := byte('f')
	if a := math.Abs(v); a != 0 && (a < 1e-4 || a >= 1e16) {
		format = 'e'
	}
	s := strconv.FormatFloat(v, format, -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func countLayer(marks []Mark, layer string) int {
	n := 0
	for _, m := range marks {
		if m.Layer == layer {
			n++
		}
	}
	return n
}
