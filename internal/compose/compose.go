// Package compose packages a pipeline result for the messaging layer.
package compose

import (
	"strings"

	"github.com/example/snapshot-recognizer/internal/recognition"
)

// AltText is shown by chat clients that cannot render the bubble.
const AltText = "Report"

// EmptyText replaces a blank result text, e.g. when the service returned no captions.
const EmptyText = "Nothing recognizable was found in this picture."

// Reply is what the caller sends back to the user.
type Reply struct {
	AltText  string              `json:"alt_text"`
	Text     string              `json:"text"`
	ImageURL string              `json:"image_url"`
	Outcome  recognition.Outcome `json:"outcome"`
	Bubble   Bubble              `json:"bubble"`
}

// Bubble is a flex message bubble: the result image as hero, the text as body.
type Bubble struct {
	Type   string `json:"type"`
	Header Box    `json:"header"`
	Body   Box    `json:"body"`
}

// Box is a flex container.
type Box struct {
	Type     string      `json:"type"`
	Layout   string      `json:"layout"`
	Contents []Component `json:"contents"`
}

// Component is an image or text flex component.
type Component struct {
	Type        string `json:"type"`
	URL         string `json:"url,omitempty"`
	Size        string `json:"size,omitempty"`
	AspectMode  string `json:"aspectMode,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Text        string `json:"text,omitempty"`
	Wrap        bool   `json:"wrap,omitempty"`
}

// Compose builds the reply for r. The bubble text drops the trailing newline of
// description lists; Reply.Text keeps the pipeline text unchanged.
func Compose(r recognition.Result) Reply {
	body := strings.TrimRight(r.Text, " \n")
	if body == "" {
		body = EmptyText
	}
	return Reply{
		AltText:  AltText,
		Text:     r.Text,
		ImageURL: r.ImageLink,
		Outcome:  r.Outcome,
		Bubble: Bubble{
			Type: "bubble",
			Header: Box{
				Type:   "box",
				Layout: "vertical",
				Contents: []Component{{
					Type:        "image",
					URL:         r.ImageLink,
					Size:        "full",
					AspectMode:  "fit",
					AspectRatio: "1:1",
				}},
			},
			Body: Box{
				Type:   "box",
				Layout: "vertical",
				Contents: []Component{{
					Type: "text",
					Text: body,
					Wrap: true,
				}},
			},
		},
	}
}
