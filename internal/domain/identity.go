package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const identityIDPrefix = "user_"

// Identity representa uma pessoa cadastrada no sistema
type Identity struct {
	ID        string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewIdentityID returns "user_" followed by the first 12 hex chars of a random UUID.
func NewIdentityID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return identityIDPrefix + hex[:12]
}

// BoundingBox is a face region in pixel coordinates of the source image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// EmbeddingRecord liga um slot do índice vetorial a uma identidade
type EmbeddingRecord struct {
	ID                uuid.UUID   `json:"id"`
	IdentityID        string      `json:"user_id"`
	SlotID            *uint32     `json:"slot_id"`
	Model             string      `json:"model"`
	QualityScore      float64     `json:"quality_score"`
	FaceRegion        BoundingBox `json:"face_region"`
	Notes             string      `json:"notes,omitempty"`
	ImagePath         string      `json:"image_path,omitempty"`
	Embedding         []float32   `json:"-"`
	NeedsReEnrollment bool        `json:"needs_reenrollment"`
	CreatedAt         time.Time   `json:"created_at"`
}
