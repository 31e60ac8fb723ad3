package provider

import (
	"context"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

// FaceDetector localiza faces na imagem. Pode retornar uma lista vazia.
type FaceDetector interface {
	DetectFaces(ctx context.Context, image []byte) ([]DetectedFace, error)
}

// Embedder extrai o embedding da face principal da imagem.
// Retorna domain.ErrEmbeddingExtractionFailed quando nenhuma face utilizável é encontrada.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)

	// Model identifies the embedding model, stored with every record.
	Model() string
}

// FaceProvider define a interface para provedores de reconhecimento facial
type FaceProvider interface {
	FaceDetector
	Embedder
}

// BoundingBox is the face area in pixels.
type BoundingBox = domain.BoundingBox

// DetectedFace represents a detected face in the image
type DetectedFace struct {
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
}

// Composite pairs a detector with an embedder from a different backend.
type Composite struct {
	FaceDetector
	Embedder
}

func NewComposite(detector FaceDetector, embedder Embedder) *Composite {
	return &Composite{FaceDetector: detector, Embedder: embedder}
}

var _ FaceProvider = (*Composite)(nil)
