package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

// IdentityRepositoryInterface defines operations for identity data access
type IdentityRepositoryInterface interface {
	Create(ctx context.Context, identity *domain.Identity) error
	FindByEmail(ctx context.Context, email string) (*domain.Identity, error)
	FindByID(ctx context.Context, id string) (*domain.Identity, error)
	Count(ctx context.Context) (int, error)
}

// EmbeddingRecordRepositoryInterface defines operations for embedding record data access
type EmbeddingRecordRepositoryInterface interface {
	Create(ctx context.Context, record *domain.EmbeddingRecord) error
	ListAll(ctx context.Context) ([]domain.EmbeddingRecord, error)
	FlagForReEnrollment(ctx context.Context, ids []uuid.UUID) (int64, error)
	RemapSlots(ctx context.Context, remap map[uint32]uint32) error
}

// MatchAuditRepositoryInterface defines operations for match audit logging
type MatchAuditRepositoryInterface interface {
	Create(ctx context.Context, audit *domain.MatchAudit) error
}
