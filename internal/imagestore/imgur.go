package imagestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultImgurEndpoint = "https://api.imgur.com/3/image"

// ImgurConfig holds the credentials of the imgur upload API. An access token
// uploads into the owner's account; otherwise the client id uploads anonymously.
type ImgurConfig struct {
	ClientID    string
	AccessToken string
	Album       string
	Endpoint    string
}

// ImgurStore uploads images to imgur.
type ImgurStore struct {
	cfg        ImgurConfig
	httpClient *http.Client
}

// NewImgurStore creates an imgur backed store.
func NewImgurStore(cfg ImgurConfig, httpClient *http.Client) (*ImgurStore, error) {
	if cfg.ClientID == "" && cfg.AccessToken == "" {
		return nil, errors.New("imgur: client id or access token required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultImgurEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImgurStore{cfg: cfg, httpClient: httpClient}, nil
}

type imgurResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		Link  string `json:"link"`
		Error any    `json:"error"`
	} `json:"data"`
}

// Upload posts the file as multipart form data and returns data.link.
func (s *ImgurStore) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("imgur: open %s: %w", localPath, err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("imgur: create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("imgur: copy image: %w", err)
	}
	_ = writer.WriteField("type", "file")
	if s.cfg.Album != "" {
		_ = writer.WriteField("album", s.cfg.Album)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("imgur: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("imgur: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	} else {
		req.Header.Set("Authorization", "Client-ID "+s.cfg.ClientID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("imgur: upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("imgur: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("imgur: upload failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded imgurResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("imgur: decode response: %w", err)
	}
	if !decoded.Success || decoded.Data.Link == "" {
		return "", fmt.Errorf("imgur: upload rejected: %v", decoded.Data.Error)
	}
	return decoded.Data.Link, nil
}
