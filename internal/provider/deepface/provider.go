package deepface

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider"
)

// Provider implements provider.FaceProvider using DeepFace API
type Provider struct {
	client *Client
	model  string
}

// NewProvider creates a new DeepFace provider
func NewProvider(config Config) *Provider {
	return &Provider{
		client: NewClient(config),
		model:  config.Model,
	}
}

func (p *Provider) Model() string {
	return p.model
}

// DetectFaces returns one entry per facial area reported by /represent.
// DeepFace's "face could not be detected" answer maps to an empty result.
func (p *Provider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	resp, err := p.client.Represent(ctx, base64.StdEncoding.EncodeToString(image), true)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.faceNotDetected() {
			return []provider.DetectedFace{}, nil
		}
		return nil, fmt.Errorf("detect faces: %w", mapError(err))
	}

	faces := make([]provider.DetectedFace, 0, len(resp.Results))
	for _, result := range resp.Results {
		confidence := 1.0
		if result.FaceConfidence != nil {
			confidence = *result.FaceConfidence
		}

		faces = append(faces, provider.DetectedFace{
			BoundingBox: provider.BoundingBox{
				X:      result.FacialArea.X,
				Y:      result.FacialArea.Y,
				Width:  result.FacialArea.W,
				Height: result.FacialArea.H,
			},
			Confidence: confidence,
		})
	}

	return faces, nil
}

// Embed returns the embedding of the first face DeepFace reports.
func (p *Provider) Embed(ctx context.Context, image []byte) ([]float32, error) {
	resp, err := p.client.Represent(ctx, base64.StdEncoding.EncodeToString(image), true)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.faceNotDetected() {
			return nil, domain.ErrEmbeddingExtractionFailed.WithError(ErrNoFaceInResponse)
		}
		return nil, fmt.Errorf("embed face: %w", mapError(err))
	}

	if len(resp.Results) == 0 || len(resp.Results[0].Embedding) == 0 {
		return nil, domain.ErrEmbeddingExtractionFailed.WithError(ErrNoFaceInResponse)
	}

	src := resp.Results[0].Embedding
	embedding := make([]float32, len(src))
	for i, v := range src {
		embedding[i] = float32(v)
	}

	return embedding, nil
}

// mapError translates client failures into the domain taxonomy.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidResponse):
		return domain.ErrEmbeddingExtractionFailed.WithError(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDeepFaceUnavailable):
		return domain.ErrProviderUnavailable.WithError(err)
	case errors.Is(err, context.Canceled):
		return err
	case isClientError(err):
		return domain.ErrInvalidImage.WithError(err)
	default:
		return domain.ErrProviderUnavailable.WithError(err)
	}
}

// Ensure Provider implements provider.FaceProvider
var _ provider.FaceProvider = (*Provider)(nil)
