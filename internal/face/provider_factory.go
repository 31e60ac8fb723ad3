package face

import (
	"context"
	"fmt"

	"github.com/saturnino-fabrica-de-software/facegate/internal/config"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider/deepface"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider/rekognition"
)

// ProviderType defines supported face recognition provider types
type ProviderType string

const (
	// ProviderTypeDeepFace detects and embeds through a DeepFace service
	ProviderTypeDeepFace ProviderType = config.ProviderDeepFace
	// ProviderTypeRekognition detects with AWS Rekognition and embeds with DeepFace
	ProviderTypeRekognition ProviderType = config.ProviderRekognition
	// ProviderTypeMock is deterministic and needs no external service
	ProviderTypeMock ProviderType = config.ProviderMock
)

// NewFaceProvider creates a FaceProvider instance based on configuration.
//
// Rekognition does not expose embeddings, so it is composed with a DeepFace
// embedder configured from the same DEEPFACE_* variables.
func NewFaceProvider(ctx context.Context, cfg *config.Config) (provider.FaceProvider, error) {
	switch ProviderType(cfg.ProviderType) {
	case ProviderTypeRekognition:
		detector, err := createRekognitionDetector(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return provider.NewComposite(detector, createDeepFaceProvider(cfg)), nil

	case ProviderTypeMock:
		return mock.New(cfg.IndexDimension), nil

	case ProviderTypeDeepFace, "":
		return createDeepFaceProvider(cfg), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s, %s, %s)",
			cfg.ProviderType, ProviderTypeDeepFace, ProviderTypeRekognition, ProviderTypeMock)
	}
}

// createRekognitionDetector creates an AWS Rekognition face detector
func createRekognitionDetector(ctx context.Context, cfg *config.Config) (*rekognition.Detector, error) {
	rekogConfig := rekognition.DefaultConfig()
	if cfg.AWSRegion != "" {
		rekogConfig.Region = cfg.AWSRegion
	}

	detector, err := rekognition.NewDetector(ctx, rekogConfig)
	if err != nil {
		return nil, fmt.Errorf("create rekognition detector: %w", err)
	}

	return detector, nil
}

// createDeepFaceProvider creates a DeepFace provider instance
func createDeepFaceProvider(cfg *config.Config) *deepface.Provider {
	deepfaceConfig := deepface.DefaultConfig()

	if cfg.DeepFaceURL != "" {
		deepfaceConfig.BaseURL = cfg.DeepFaceURL
	}
	if cfg.DeepFaceModel != "" {
		deepfaceConfig.Model = cfg.DeepFaceModel
	}
	if cfg.DeepFaceDetector != "" {
		deepfaceConfig.Detector = cfg.DeepFaceDetector
	}
	if cfg.ProviderTimeout > 0 {
		deepfaceConfig.Timeout = cfg.ProviderTimeout
	}

	return deepface.NewProvider(deepfaceConfig)
}
