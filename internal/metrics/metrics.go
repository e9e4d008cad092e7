// Package metrics holds the prometheus collectors of the recognition service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapshot"

// Collectors groups every metric the pipeline reports. It satisfies the observer
// interfaces of the recognition, ocr and annotate packages.
type Collectors struct {
	outcomes      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	ocrPolls      prometheus.Counter
	ocrTerminal   *prometheus.CounterVec
	marks         *prometheus.CounterVec
	uploads       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_results_total",
			Help:      "Pipeline invocations by the stage that produced the text.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		ocrPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_status_polls_total",
			Help:      "Status reads issued against text recognition jobs.",
		}),
		ocrTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_jobs_total",
			Help:      "Text recognition jobs by final status.",
		}, []string{"status"}),
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_marks_total",
			Help:      "Rectangles drawn by the annotation renderer per layer.",
		}, []string{"layer"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_uploads_total",
			Help:      "Image store uploads by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.outcomes, c.stageDuration, c.ocrPolls, c.ocrTerminal, c.marks, c.uploads)
	return c
}

func (c *Collectors) ObserveOutcome(outcome string) {
	c.outcomes.WithLabelValues(outcome).Inc()
}

func (c *Collectors) ObserveStage(stage string, elapsed time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (c *Collectors) ObservePoll() {
	c.ocrPolls.Inc()
}

func (c *Collectors) ObserveJob(status string) {
	c.ocrTerminal.WithLabelValues(status).Inc()
}

func (c *Collectors) ObserveMarks(layer string, n int) {
	c.marks.WithLabelValues(layer).Add(float64(n))
}

func (c *Collectors) ObserveUpload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.uploads.WithLabelValues(result).Inc()
}
