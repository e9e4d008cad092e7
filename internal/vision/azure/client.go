// Package azure implements vision.Client on top of the Azure Face and Computer
// Vision REST APIs.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/example/snapshot-recognizer/internal/vision"
)

const (
	subscriptionHeader = "Ocp-Apim-Subscription-Key"
	maxResponseBytes   = 4 << 20
)

// Config holds endpoints and keys. Endpoints are the resource roots, for example
// https://my-vision.cognitiveservices.azure.com/.
type Config struct {
	VisionEndpoint string
	VisionKey      string
	FaceEndpoint   string
	FaceKey        string
	// DetectionModel and RecognitionModel are passed to the Face API detect call.
	DetectionModel   string
	RecognitionModel string
	MaxCandidates    int
}

// Client talks to both services over HTTPS.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ vision.Client = (*Client)(nil)

// APIError is a non-2xx answer from either service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("azure: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("azure: status %d: %s", e.StatusCode, e.Message)
}

// Temporary marks throttling and server errors as retryable.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewClient validates cfg and fills model defaults.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.VisionEndpoint == "" || cfg.VisionKey == "" {
		return nil, errors.New("azure: vision endpoint and key required")
	}
	if cfg.FaceEndpoint == "" || cfg.FaceKey == "" {
		return nil, errors.New("azure: face endpoint and key required")
	}
	if cfg.DetectionModel == "" {
		cfg.DetectionModel = "detection_01"
	}
	if cfg.RecognitionModel == "" {
		cfg.RecognitionModel = "recognition_04"
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: httpClient}, nil
}

type rectangle struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r rectangle) rect() vision.Rect {
	return vision.RectFromSize(r.Left, r.Top, r.Width, r.Height)
}

type detectedFace struct {
	FaceID         string    `json:"faceId"`
	FaceRectangle  rectangle `json:"faceRectangle"`
	FaceAttributes struct {
		Emotion map[string]float64 `json:"emotion"`
	} `json:"faceAttributes"`
}

// DetectFaces uploads the raw bytes to the Face API detect endpoint.
func (c *Client) DetectFaces(ctx context.Context, image []byte) ([]vision.FaceRegion, error) {
	q := url.Values{}
	q.Set("returnFaceId", "true")
	q.Set("detectionModel", c.cfg.DetectionModel)
	q.Set("recognitionModel", c.cfg.RecognitionModel)

	var faces []detectedFace
	if _, err := c.do(ctx, c.faceRequest(http.MethodPost, "face/v1.0/detect", q), "application/octet-stream", bytes.NewReader(image), &faces); err != nil {
		return nil, err
	}

	out := make([]vision.FaceRegion, 0, len(faces))
	for _, f := range faces {
		out = append(out, vision.FaceRegion{FaceID: f.FaceID, Rect: f.FaceRectangle.rect()})
	}
	return out, nil
}

type identifyRequest struct {
	FaceIDs                    []string `json:"faceIds"`
	PersonGroupID              string   `json:"personGroupId"`
	MaxNumOfCandidatesReturned int      `json:"maxNumOfCandidatesReturned"`
}

type identifyResult struct {
	FaceID     string `json:"faceId"`
	Candidates []struct {
		PersonID   string  `json:"personId"`
		Confidence float64 `json:"confidence"`
	} `json:"candidates"`
}

// IdentifyFace matches one face against a person group.
func (c *Client) IdentifyFace(ctx context.Context, faceID, galleryID string) ([]vision.FaceCandidate, error) {
	body := identifyRequest{
		FaceIDs:                    []string{faceID},
		PersonGroupID:              galleryID,
		MaxNumOfCandidatesReturned: c.cfg.MaxCandidates,
	}
	var results []identifyResult
	if err := c.doJSON(ctx, c.faceRequest(http.MethodPost, "face/v1.0/identify", nil), body, &results); err != nil {
		return nil, err
	}

	var out []vision.FaceCandidate
	for _, r := range results {
		if r.FaceID != faceID {
			continue
		}
		for _, cand := range r.Candidates {
			out = append(out, vision.FaceCandidate{PersonID: cand.PersonID, Confidence: cand.Confidence})
		}
	}
	return out, nil
}

// GetPersonName looks up the registered name of a person in a group.
func (c *Client) GetPersonName(ctx context.Context, galleryID, personID string) (string, error) {
	var person struct {
		Name string `json:"name"`
	}
	p := path.Join("face/v1.0/persongroups", url.PathEscape(galleryID), "persons", url.PathEscape(personID))
	if _, err := c.do(ctx, c.faceRequest(http.MethodGet, p, nil), "", nil, &person); err != nil {
		return "", err
	}
	return person.Name, nil
}

type urlBody struct {
	URL string `json:"url"`
}

// DetectObjects runs Computer Vision object detection on a public URL.
func (c *Client) DetectObjects(ctx context.Context, imageURL string) ([]vision.DetectionBox, error) {
	var resp struct {
		Objects []struct {
			Rectangle struct {
				X int `json:"x"`
				Y int `json:"y"`
				W int `json:"w"`
				H int `json:"h"`
			} `json:"rectangle"`
			Object     string  `json:"object"`
			Confidence float64 `json:"confidence"`
		} `json:"objects"`
	}
	if err := c.doJSON(ctx, c.visionRequest(http.MethodPost, "vision/v3.2/detect", nil), urlBody{URL: imageURL}, &resp); err != nil {
		return nil, err
	}

	out := make([]vision.DetectionBox, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		out = append(out, vision.DetectionBox{
			Label:      o.Object,
			Confidence: o.Confidence,
			Rect:       vision.RectFromSize(o.Rectangle.X, o.Rectangle.Y, o.Rectangle.W, o.Rectangle.H),
		})
	}
	return out, nil
}

// DetectFacesWithEmotion runs Face API detection on a URL with the emotion attribute.
func (c *Client) DetectFacesWithEmotion(ctx context.Context, imageURL string) ([]vision.EmotionFace, error) {
	q := url.Values{}
	q.Set("returnFaceId", "false")
	q.Set("returnFaceLandmarks", "false")
	q.Set("returnFaceAttributes", "emotion")

	var faces []detectedFace
	if err := c.doJSON(ctx, c.faceRequest(http.MethodPost, "face/v1.0/detect", q), urlBody{URL: imageURL}, &faces); err != nil {
		return nil, err
	}

	out := make([]vision.EmotionFace, 0, len(faces))
	for _, f := range faces {
		out = append(out, vision.EmotionFace{Rect: f.FaceRectangle.rect(), Emotions: f.FaceAttributes.Emotion})
	}
	return out, nil
}

// DescribeImage returns captions in service order.
func (c *Client) DescribeImage(ctx context.Context, imageURL string) ([]vision.Caption, error) {
	var resp struct {
		Description struct {
			Captions []struct {
				Text       string  `json:"text"`
				Confidence float64 `json:"confidence"`
			} `json:"captions"`
		} `json:"description"`
	}
	if err := c.doJSON(ctx, c.visionRequest(http.MethodPost, "vision/v3.2/describe", nil), urlBody{URL: imageURL}, &resp); err != nil {
		return nil, err
	}

	out := make([]vision.Caption, 0, len(resp.Description.Captions))
	for _, caption := range resp.Description.Captions {
		out = append(out, vision.Caption{Text: caption.Text, Confidence: caption.Confidence})
	}
	return out, nil
}

// SubmitTextRecognition starts a Read operation and returns its operation id.
func (c *Client) SubmitTextRecognition(ctx context.Context, imageURL string) (string, error) {
	payload, err := json.Marshal(urlBody{URL: imageURL})
	if err != nil {
		return "", err
	}
	header, err := c.do(ctx, c.visionRequest(http.MethodPost, "vision/v3.2/read/analyze", nil), "application/json", bytes.NewReader(payload), nil)
	if err != nil {
		return "", err
	}
	location := header.Get("Operation-Location")
	if location == "" {
		return "", errors.New("azure: read response without Operation-Location")
	}
	return path.Base(strings.TrimRight(location, "/")), nil
}

// GetTextRecognitionStatus reads the Read operation result.
func (c *Client) GetTextRecognitionStatus(ctx context.Context, jobID string) (vision.TextRecognitionResult, error) {
	var resp struct {
		Status        string `json:"status"`
		AnalyzeResult struct {
			ReadResults []struct {
				Lines []struct {
					Text string `json:"text"`
				} `json:"lines"`
			} `json:"readResults"`
		} `json:"analyzeResult"`
	}
	p := path.Join("vision/v3.2/read/analyzeResults", url.PathEscape(jobID))
	if _, err := c.do(ctx, c.visionRequest(http.MethodGet, p, nil), "", nil, &resp); err != nil {
		return vision.TextRecognitionResult{}, err
	}

	result := vision.TextRecognitionResult{JobID: jobID, Status: vision.ParseTextRecognitionStatus(resp.Status)}
	for _, page := range resp.AnalyzeResult.ReadResults {
		for _, line := range page.Lines {
			result.Lines = append(result.Lines, line.Text)
		}
	}
	return result, nil
}

type endpointRequest struct {
	method string
	url    string
	key    string
}

func (c *Client) faceRequest(method, p string, q url.Values) endpointRequest {
	return endpointRequest{method: method, url: buildURL(c.cfg.FaceEndpoint, p, q), key: c.cfg.FaceKey}
}

func (c *Client) visionRequest(method, p string, q url.Values) endpointRequest {
	return endpointRequest{method: method, url: buildURL(c.cfg.VisionEndpoint, p, q), key: c.cfg.VisionKey}
}

func buildURL(endpoint, p string, q url.Values) string {
	u := strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(p, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) doJSON(ctx context.Context, er endpointRequest, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("azure: encode request: %w", err)
	}
	_, err = c.do(ctx, er, "application/json", bytes.NewReader(payload), out)
	return err
}

func (c *Client) do(ctx context.Context, er endpointRequest, contentType string, body io.Reader, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, er.method, er.url, body)
	if err != nil {
		return nil, fmt.Errorf("azure: build request: %w", err)
	}
	req.Header.Set(subscriptionHeader, er.key)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: %s %s: %w", er.method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("azure: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, raw)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("azure: decode response: %w", err)
		}
	}
	return resp.Header, nil
}

func decodeAPIError(status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
}
