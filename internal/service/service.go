package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

type IdentityRepositoryInterface interface {
	Create(ctx context.Context, identity *domain.Identity) error
	FindByEmail(ctx context.Context, email string) (*domain.Identity, error)
	FindByID(ctx context.Context, id string) (*domain.Identity, error)
}

type EmbeddingRecordRepositoryInterface interface {
	Create(ctx context.Context, record *domain.EmbeddingRecord) error
	ListAll(ctx context.Context) ([]domain.EmbeddingRecord, error)
	FlagForReEnrollment(ctx context.Context, ids []uuid.UUID) (int64, error)
	RemapSlots(ctx context.Context, remap map[uint32]uint32) error
}

type MatchAuditRepositoryInterface interface {
	Create(ctx context.Context, audit *domain.MatchAudit) error
}

// ImageStore persists enrollment images.
type ImageStore interface {
	Save(ctx context.Context, data []byte) (string, error)
	Remove(path string) error
}

// VectorIndex is the part of *vectorindex.Index the pipelines use.
type VectorIndex interface {
	Insert(vec []float32, identityID string) (uint32, error)
	Search(query []float32, k int, maxDistance *float32) ([]vectorindex.Result, error)
	Size() int
	LiveCount() int
}

var _ VectorIndex = (*vectorindex.Index)(nil)

// Timeouts bound calls to the embedding provider and the metadata store.
type Timeouts struct {
	Provider time.Duration
	Store    time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Provider: 30 * time.Second,
		Store:    5 * time.Second,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// providerError keeps domain errors from the provider and turns timeouts
// and unknown failures into ErrProviderUnavailable.
func providerError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrProviderUnavailable.WithError(fmt.Errorf("%s: %w", op, err))
	}

	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}

	return domain.ErrProviderUnavailable.WithError(fmt.Errorf("%s: %w", op, err))
}
