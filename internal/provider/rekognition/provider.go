package rekognition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"

	// registered decoders
	_ "image/jpeg"
	_ "image/png"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider"
)

const (
	// maxImageSize is the maximum image size supported by AWS Rekognition (5MB)
	maxImageSize = 5 * 1024 * 1024
	// minImageSize is the minimum image size for valid processing
	minImageSize = 100
)

// Detector implements provider.FaceDetector using AWS Rekognition.
// Rekognition does not expose embeddings, so it is paired with another
// Embedder through provider.Composite.
type Detector struct {
	client *Client
}

var _ provider.FaceDetector = (*Detector)(nil)

func NewDetector(ctx context.Context, cfg Config) (*Detector, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create rekognition client: %w", err)
	}
	return &Detector{client: client}, nil
}

// validateImage checks if image data is valid for Rekognition processing
func validateImage(img []byte) error {
	if len(img) == 0 {
		return ErrInvalidImage
	}
	if len(img) < minImageSize {
		return fmt.Errorf("%w: image too small (%d bytes, minimum %d)", ErrInvalidImage, len(img), minImageSize)
	}
	if len(img) > maxImageSize {
		return fmt.Errorf("%w: image too large (%d bytes, maximum %d)", ErrInvalidImage, len(img), maxImageSize)
	}
	return nil
}

// DetectFaces detects faces using the DetectFaces API and converts the
// ratio-based boxes to pixels. No faces is an empty slice, not an error.
func (d *Detector) DetectFaces(ctx context.Context, img []byte) ([]provider.DetectedFace, error) {
	if err := validateImage(img); err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(fmt.Errorf("%w: %v", ErrInvalidImage, err))
	}

	output, err := d.client.rekognition.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: img},
		Attributes: []types.Attribute{types.AttributeDefault},
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", mapAPIError(err))
	}

	faces := make([]provider.DetectedFace, 0, len(output.FaceDetails))
	for _, detail := range output.FaceDetails {
		if detail.BoundingBox == nil {
			continue
		}
		confidence := float32(0)
		if detail.Confidence != nil {
			confidence = *detail.Confidence
		}
		if confidence < d.client.config.MinConfidence {
			continue
		}

		faces = append(faces, provider.DetectedFace{
			BoundingBox: toPixels(detail.BoundingBox, cfg.Width, cfg.Height),
			Confidence:  float64(confidence) / 100,
		})
	}

	return faces, nil
}

// toPixels converts a Rekognition box (ratios of the image size, possibly
// negative at the edges) into pixel coordinates.
func toPixels(box *types.BoundingBox, width, height int) provider.BoundingBox {
	ratio := func(v *float32) float64 {
		if v == nil {
			return 0
		}
		return float64(*v)
	}

	return provider.BoundingBox{
		X:      int(math.Round(ratio(box.Left) * float64(width))),
		Y:      int(math.Round(ratio(box.Top) * float64(height))),
		Width:  int(math.Round(ratio(box.Width) * float64(width))),
		Height: int(math.Round(ratio(box.Height) * float64(height))),
	}
}
