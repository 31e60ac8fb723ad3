package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

type MatchAuditRepository struct {
	pool PgxPool
}

func NewMatchAuditRepository(pool PgxPool) *MatchAuditRepository {
	return &MatchAuditRepository{pool: pool}
}

// Create inserts a new match audit record
func (r *MatchAuditRepository) Create(ctx context.Context, audit *domain.MatchAudit) error {
	query := `
		INSERT INTO match_audits (
			id, matched, results_count, top_match_identity_id,
			top_match_confidence, threshold, top_k, latency_ms, client_ip, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		audit.ID,
		audit.Matched,
		audit.ResultsCount,
		audit.TopMatchIdentityID,
		audit.TopMatchConfidence,
		audit.Threshold,
		audit.TopK,
		audit.LatencyMs,
		audit.ClientIP,
	).Scan(&audit.CreatedAt)

	if err != nil {
		return fmt.Errorf("create match audit: %w", err)
	}

	return nil
}
