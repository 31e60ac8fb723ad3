package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

type EmbeddingRecordRepository struct {
	pool PgxPool
}

func NewEmbeddingRecordRepository(pool PgxPool) *EmbeddingRecordRepository {
	return &EmbeddingRecordRepository{pool: pool}
}

// Create persists the record that ties an index slot to an identity.
func (r *EmbeddingRecordRepository) Create(ctx context.Context, record *domain.EmbeddingRecord) error {
	query := `
		INSERT INTO embedding_records (
			id, identity_id, slot_id, model, quality_score,
			region_x, region_y, region_width, region_height,
			notes, image_path, embedding, needs_reenrollment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	var slot *int64
	if record.SlotID != nil {
		s := int64(*record.SlotID)
		slot = &s
	}

	var embedding *pgvector.Vector
	if len(record.Embedding) > 0 {
		v := pgvector.NewVector(record.Embedding)
		embedding = &v
	}

	err := r.pool.QueryRow(ctx, query,
		record.ID,
		record.IdentityID,
		slot,
		record.Model,
		record.QualityScore,
		record.FaceRegion.X,
		record.FaceRegion.Y,
		record.FaceRegion.Width,
		record.FaceRegion.Height,
		nullString(record.Notes),
		nullString(record.ImagePath),
		embedding,
		record.NeedsReEnrollment,
	).Scan(&record.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateKey.WithError(err)
		}
		return fmt.Errorf("create embedding record: %w", err)
	}

	return nil
}

// ListAll returns every record ordered by slot, records without a slot last.
func (r *EmbeddingRecordRepository) ListAll(ctx context.Context) ([]domain.EmbeddingRecord, error) {
	query := `
		SELECT id, identity_id, slot_id, model, quality_score,
			region_x, region_y, region_width, region_height,
			notes, image_path, embedding, needs_reenrollment, created_at
		FROM embedding_records
		ORDER BY slot_id ASC NULLS LAST, created_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list embedding records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.EmbeddingRecord, 0)
	for rows.Next() {
		record, err := scanEmbeddingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding records: %w", err)
	}

	return records, nil
}

// FlagForReEnrollment marks records as needing a new enrollment and
// returns how many were changed. Already flagged records are left alone.
func (r *EmbeddingRecordRepository) FlagForReEnrollment(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE embedding_records
		SET needs_reenrollment = TRUE
		WHERE id = ANY($1::uuid[]) AND needs_reenrollment = FALSE
	`

	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = id.String()
	}

	tag, err := r.pool.Exec(ctx, query, values)
	if err != nil {
		return 0, fmt.Errorf("flag embedding records: %w", err)
	}

	return tag.RowsAffected(), nil
}

// RemapSlots rewrites slot ids after an index rebuild. Records whose
// slot is not a key of remap lose their slot and get flagged.
func (r *EmbeddingRecordRepository) RemapSlots(ctx context.Context, remap map[uint32]uint32) error {
	olds := make([]uint32, 0, len(remap))
	for old := range remap {
		olds = append(olds, old)
	}
	slices.Sort(olds)

	oldSlots := make([]int64, len(olds))
	newSlots := make([]int64, len(olds))
	for i, old := range olds {
		oldSlots[i] = int64(old)
		newSlots[i] = int64(remap[old])
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remap slots: %w", err)
	}

	if err := remapSlots(ctx, tx, oldSlots, newSlots); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remap slots: %w", err)
	}

	return nil
}

func remapSlots(ctx context.Context, tx pgx.Tx, oldSlots, newSlots []int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE embedding_records
		SET slot_id = NULL, needs_reenrollment = TRUE
		WHERE slot_id IS NOT NULL AND NOT (slot_id = ANY($1::bigint[]))
	`, oldSlots)
	if err != nil {
		return fmt.Errorf("detach stale slots: %w", err)
	}

	if len(oldSlots) == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE embedding_records r
		SET slot_id = m.new_slot
		FROM unnest($1::bigint[], $2::bigint[]) AS m(old_slot, new_slot)
		WHERE r.slot_id = m.old_slot
	`, oldSlots, newSlots)
	if err != nil {
		return fmt.Errorf("remap slots: %w", err)
	}

	return nil
}

func scanEmbeddingRecord(row pgx.Row) (*domain.EmbeddingRecord, error) {
	var record domain.EmbeddingRecord
	var slot *int64
	var notes, imagePath *string
	var embedding *pgvector.Vector

	err := row.Scan(
		&record.ID,
		&record.IdentityID,
		&slot,
		&record.Model,
		&record.QualityScore,
		&record.FaceRegion.X,
		&record.FaceRegion.Y,
		&record.FaceRegion.Width,
		&record.FaceRegion.Height,
		&notes,
		&imagePath,
		&embedding,
		&record.NeedsReEnrollment,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if slot != nil {
		s := uint32(*slot)
		record.SlotID = &s
	}
	if notes != nil {
		record.Notes = *notes
	}
	if imagePath != nil {
		record.ImagePath = *imagePath
	}
	if embedding != nil {
		record.Embedding = embedding.Slice()
	}

	return &record, nil
}
