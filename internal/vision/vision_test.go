package vision

import "testing"

func TestDominantPicksHighestScore(t *testing.T) {
	face := EmotionFace{Emotions: map[string]float64{
		"anger":     0.01,
		"happiness": 0.93,
		"neutral":   0.06,
	}}

	name, score := face.Dominant()
	if name != "happiness" || score != 0.93 {
		t.Fatalf("expected happiness 0.93, got %s %v", name, score)
	}
}

func TestDominantBreaksTiesByName(t *testing.T) {
	face := EmotionFace{Emotions: map[string]float64{
		"surprise": 0.5,
		"fear":     0.5,
	}}

	for i := 0; i < 10; i++ {
		if name, _ := face.Dominant(); name != "fear" {
			t.Fatalf("expected fear, got %s", name)
		}
	}
}

func TestDominantEmptyScores(t *testing.T) {
	name, score := EmotionFace{}.Dominant()
	if name != "" || score != 0 {
		t.Fatalf("expected zero values, got %q %v", name, score)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	cases := map[TextRecognitionStatus]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusSucceeded: true,
		StatusFailed:    true,
		"cancelled":     true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: expected %v, got %v", status, want, got)
		}
	}
}

func TestParseTextRecognitionStatus(t *testing.T) {
	cases := map[string]TextRecognitionStatus{
		"notStarted": StatusPending,
		"Pending":    StatusPending,
		"Running":    StatusRunning,
		"RUNNING":    StatusRunning,
		"Succeeded":  StatusSucceeded,
		" failed ":   StatusFailed,
		"Cancelled":  "cancelled",
	}
	for raw, want := range cases {
		if got := ParseTextRecognitionStatus(raw); got != want {
			t.Fatalf("%q: expected %q, got %q", raw, want, got)
		}
	}
	if ParseTextRecognitionStatus("Running").IsTerminal() {
		t.Fatal("mixed-case running must not be terminal")
	}
}

func TestRectFromSize(t *testing.T) {
	got := RectFromSize(10, 20, 30, 40)
	want := Rect{Left: 10, Top: 20, Right: 40, Bottom: 60}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
