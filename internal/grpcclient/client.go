package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/snapshot-recognizer/internal/logging"
	"github.com/example/snapshot-recognizer/internal/vision"
)

// Service is the fully qualified name of the inference gateway. Every method
// takes and returns a google.protobuf.Struct.
const Service = "vision.v1.VisionGateway"

// DialVisionGateway connects to the gateway and returns a vision.Client bound to it.
func DialVisionGateway(ctx context.Context, addr string, logger *zap.Logger) (*VisionGateway, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_vision_gateway", "", err)
		logger.Error("failed to dial vision gateway", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewVisionGateway(conn, logger), conn, nil
}

// VisionGateway implements vision.Client over a gRPC connection.
type VisionGateway struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

var _ vision.Client = (*VisionGateway)(nil)

// NewVisionGateway wraps an existing connection.
func NewVisionGateway(conn grpc.ClientConnInterface, logger *zap.Logger) *VisionGateway {
	return &VisionGateway{conn: conn, logger: logger.Named("vision_gateway")}
}

func (g *VisionGateway) call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient."+method, logging.RequestID(ctx), err)
	}
	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, "/"+Service+"/"+method, in, out); err != nil {
		wrapped := logging.NewOperationError("grpcclient."+method, logging.RequestID(ctx), err)
		g.logger.Error("vision gateway call failed", zap.Error(wrapped), zap.String("method", method))
		return nil, wrapped
	}
	return out.AsMap(), nil
}

func (g *VisionGateway) DetectFaces(ctx context.Context, image []byte) ([]vision.FaceRegion, error) {
	resp, err := g.call(ctx, "DetectFaces", map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}
	var out []vision.FaceRegion
	for _, item := range list(resp, "faces") {
		out = append(out, vision.FaceRegion{FaceID: str(item, "face_id"), Rect: rect(item)})
	}
	return out, nil
}

func (g *VisionGateway) IdentifyFace(ctx context.Context, faceID, galleryID string) ([]vision.FaceCandidate, error) {
	resp, err := g.call(ctx, "IdentifyFace", map[string]any{
		"face_id":    faceID,
		"gallery_id": galleryID,
	})
	if err != nil {
		return nil, err
	}
	var out []vision.FaceCandidate
	for _, item := range list(resp, "candidates") {
		out = append(out, vision.FaceCandidate{
			PersonID:   str(item, "person_id"),
			Name:       str(item, "name"),
			Confidence: num(item, "confidence"),
		})
	}
	return out, nil
}

func (g *VisionGateway) GetPersonName(ctx context.Context, galleryID, personID string) (string, error) {
	resp, err := g.call(ctx, "GetPerson", map[string]any{
		"gallery_id": galleryID,
		"person_id":  personID,
	})
	if err != nil {
		return "", err
	}
	return str(resp, "name"), nil
}

func (g *VisionGateway) DetectObjects(ctx context.Context, url string) ([]vision.DetectionBox, error) {
	resp, err := g.call(ctx, "DetectObjects", map[string]any{"url": url})
	if err != nil {
		return nil, err
	}
	var out []vision.DetectionBox
	for _, item := range list(resp, "objects") {
		out = append(out, vision.DetectionBox{
			Label:      str(item, "label"),
			Confidence: num(item, "confidence"),
			Rect:       rect(item),
		})
	}
	return out, nil
}

func (g *VisionGateway) DetectFacesWithEmotion(ctx context.Context, url string) ([]vision.EmotionFace, error) {
	resp, err := g.call(ctx, "DetectEmotions", map[string]any{"url": url})
	if err != nil {
		return nil, err
	}
	var out []vision.EmotionFace
	for _, item := range list(resp, "faces") {
		scores := map[string]float64{}
		if raw, ok := item["emotions"].(map[string]any); ok {
			for name, v := range raw {
				if f, ok := v.(float64); ok {
					scores[name] = f
				}
			}
		}
		out = append(out, vision.EmotionFace{Rect: rect(item), Emotions: scores})
	}
	return out, nil
}

func (g *VisionGateway) DescribeImage(ctx context.Context, url string) ([]vision.Caption, error) {
	resp, err := g.call(ctx, "DescribeImage", map[string]any{"url": url})
	if err != nil {
		return nil, err
	}
	var out []vision.Caption
	for _, item := range list(resp, "captions") {
		out = append(out, vision.Caption{Text: str(item, "text"), Confidence: num(item, "confidence")})
	}
	return out, nil
}

func (g *VisionGateway) SubmitTextRecognition(ctx context.Context, url string) (string, error) {
	resp, err := g.call(ctx, "SubmitRead", map[string]any{"url": url})
	if err != nil {
		return "", err
	}
	jobID := str(resp, "job_id")
	if jobID == "" {
		return "", logging.NewOperationError("grpcclient.SubmitRead", logging.RequestID(ctx), fmt.Errorf("gateway returned no job id"))
	}
	return jobID, nil
}

func (g *VisionGateway) GetTextRecognitionStatus(ctx context.Context, jobID string) (vision.TextRecognitionResult, error) {
	resp, err := g.call(ctx, "GetRead", map[string]any{"job_id": jobID})
	if err != nil {
		return vision.TextRecognitionResult{}, err
	}
	result := vision.TextRecognitionResult{
		JobID:  jobID,
		Status: vision.ParseTextRecognitionStatus(str(resp, "status")),
	}
	for _, region := range list(resp, "regions") {
		if lines, ok := region["lines"].([]any); ok {
			for _, line := range lines {
				if s, ok := line.(string); ok {
					result.Lines = append(result.Lines, s)
				}
			}
		}
	}
	return result, nil
}

func list(m map[string]any, key string) []map[string]any {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

// rect reads {left, top, width, height} in pixels.
func rect(m map[string]any) vision.Rect {
	box, ok := m["box"].(map[string]any)
	if !ok {
		return vision.Rect{}
	}
	return vision.RectFromSize(int(num(box, "left")), int(num(box, "top")), int(num(box, "width")), int(num(box, "height")))
}
