package mock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"image"
	"math"

	// registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/provider"
)

const (
	DefaultDimension = 512
	modelName        = "mock"
)

// Provider implementa provider.FaceProvider para testes e desenvolvimento
type Provider struct {
	dimension int
}

// New cria uma nova instância do MockProvider
func New(dimension int) *Provider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Provider{dimension: dimension}
}

func (p *Provider) Model() string {
	return modelName
}

// DetectFaces simula detecção de uma face centralizada cobrindo 80% da imagem
func (p *Provider) DetectFaces(ctx context.Context, img []byte) ([]provider.DetectedFace, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}

	return []provider.DetectedFace{
		{
			BoundingBox: provider.BoundingBox{
				X:      cfg.Width / 10,
				Y:      cfg.Height / 10,
				Width:  cfg.Width * 8 / 10,
				Height: cfg.Height * 8 / 10,
			},
			Confidence: 0.99,
		},
	}, nil
}

// Embed gera embedding determinístico baseado no hash da imagem
func (p *Provider) Embed(ctx context.Context, img []byte) ([]float32, error) {
	if len(img) == 0 {
		return nil, domain.ErrEmbeddingExtractionFailed
	}
	return generateEmbedding(img, p.dimension), nil
}

// generateEmbedding gera embedding determinístico baseado no hash da imagem
func generateEmbedding(img []byte, dimension int) []float32 {
	hash := sha256.Sum256(img)
	embedding := make([]float64, dimension)
	hashLen := len(hash)

	// chain hashes so dimensions past 32 do not simply repeat
	for i := 0; i < dimension; i++ {
		if i > 0 && i%hashLen == 0 {
			hash = sha256.Sum256(hash[:])
		}
		embedding[i] = (float64(hash[i%hashLen])/255.0)*2 - 1
	}

	norm := 0.0
	for _, v := range embedding {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dimension)
	for i, v := range embedding {
		out[i] = float32(v / norm)
	}

	return out
}

var _ provider.FaceProvider = (*Provider)(nil)
