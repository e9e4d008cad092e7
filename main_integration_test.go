package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/snapshot-recognizer/internal/auth"
	"github.com/example/snapshot-recognizer/internal/compose"
	"github.com/example/snapshot-recognizer/internal/handlers"
	"github.com/example/snapshot-recognizer/internal/recognition"
	"github.com/example/snapshot-recognizer/internal/repository"
	"github.com/example/snapshot-recognizer/internal/usecase"
)

const integrationSecret = "integration-secret"

// blockingService holds every Recognize call until release is closed.
type blockingService struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingService) Recognize(ctx context.Context, userID string, image []byte) (string, *compose.Reply, error) {
	select {
	case <-s.started:
	default:
		close(s.started)
	}
	<-s.release
	reply := compose.Compose(recognition.Result{
		Text:      "License Plate: AB-1234",
		ImageLink: "https://img.example/annotated.png",
		Outcome:   recognition.OutcomePlate,
	})
	return "req-" + userID, &reply, nil
}

func (s *blockingService) GetResult(ctx context.Context, userID, requestID string) (*repository.RecognitionLog, error) {
	return nil, usecase.ErrResultPending
}

func (s *blockingService) GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error) {
	return &usecase.DuplicateReport{Request: &repository.RecognitionLog{RequestID: requestID}}, nil
}

func (s *blockingService) GetStatsSummary(ctx context.Context) (*usecase.StatsSummary, error) {
	return &usecase.StatsSummary{ByOutcome: map[string]int64{}}, nil
}

func TestServerFinishesRecognitionOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	svc := &blockingService{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-svc.release:
		default:
			close(svc.release)
		}
	}()

	router := gin.New()
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, svc, auth.JWTMiddleware(auth.Config{Secret: integrationSecret}))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	req := newRecognizeRequest(t, "http://"+addr+"/recognize", "user-7")
	client := &http.Client{Timeout: 3 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("recognition did not start in time")
	}

	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(svc.release)

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
		var payload struct {
			RequestID string `json:"request_id"`
			Outcome   string `json:"outcome"`
			Text      string `json:"text"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if payload.RequestID != "req-user-7" || payload.Outcome != "plate" || payload.Text != "License Plate: AB-1234" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func newRecognizeRequest(t *testing.T, url, subject string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="plate.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write([]byte("png")); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(integrationSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
