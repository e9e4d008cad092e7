package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsCount(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveOutcome("plate")
	c.ObserveOutcome("plate")
	c.ObservePoll()
	c.ObserveJob("succeeded")
	c.ObserveMarks("objects", 3)
	c.ObserveUpload(nil)
	c.ObserveUpload(errors.New("boom"))
	c.ObserveStage("identity", 120*time.Millisecond)

	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("plate")); got != 2 {
		t.Fatalf("expected 2 plate outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(c.ocrPolls); got != 1 {
		t.Fatalf("expected 1 poll, got %v", got)
	}
	if got := testutil.ToFloat64(c.marks.WithLabelValues("objects")); got != 3 {
		t.Fatalf("expected 3 object marks, got %v", got)
	}
	if got := testutil.ToFloat64(c.uploads.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed upload, got %v", got)
	}
	if got := testutil.CollectAndCount(c.stageDuration); got != 1 {
		t.Fatalf("expected one stage series, got %d", got)
	}
}
