package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/example/snapshot-recognizer/internal/auth"
	"github.com/example/snapshot-recognizer/internal/compose"
	"github.com/example/snapshot-recognizer/internal/repository"
	"github.com/example/snapshot-recognizer/internal/usecase"
)

// MaxUploadSize bounds the multipart body of /recognize.
const MaxUploadSize = 10 << 20

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
}

// RecognitionService is the use case surface served over HTTP.
type RecognitionService interface {
	Recognize(ctx context.Context, userID string, image []byte) (string, *compose.Reply, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.RecognitionLog, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetStatsSummary(ctx context.Context) (*usecase.StatsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc RecognitionService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.POST("/recognize", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+1<<20)

		file, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}

		contentType := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
		if _, ok := allowedContentTypes[contentType]; !ok {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only jpeg and png images are accepted"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		requestID, reply, err := svc.Recognize(c.Request.Context(), userID, data)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidImage) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recognition failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": requestID,
			"outcome":    reply.Outcome,
			"text":       reply.Text,
			"image_url":  reply.ImageURL,
			"reply":      reply,
		})
	})

	protected.GET("/result/:id", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := svc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			writeLookupError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": log.RequestID,
			"outcome":    log.Outcome,
			"text":       log.Text,
			"source_url": log.SourceURL,
			"image_url":  log.ImageURL,
			"latency_ms": log.LatencyMs,
			"created_at": log.CreatedAt,
		})
	})

	protected.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeLookupError(c, err)
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, gin.H{
				"request_id": d.RequestID,
				"outcome":    d.Outcome,
				"text":       d.Text,
				"created_at": d.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id": report.Request.RequestID,
			"sha1_hash":  report.Request.SHA1Hash,
			"duplicates": duplicates,
		})
	})

	protected.GET("/stats", func(c *gin.Context) {
		summary, err := svc.GetStatsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// RegisterMetrics exposes the prometheus registry at /metrics.
func RegisterMetrics(router *gin.Engine, gatherer prometheus.Gatherer) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterMedia serves files written by the filesystem image store.
func RegisterMedia(router *gin.Engine, dir string) {
	router.Static("/media", dir)
}

func writeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrResultPending):
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
	}
}
