//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/facegate/internal/database"
	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

func setupIntegrationTest(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "facegate_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/facegate_test?sslmode=disable", host, port.Port())

	sqlDB, err := database.OpenSQL(ctx, connStr)
	require.NoError(t, err)

	migrator, err := database.NewMigrator(sqlDB, "facegate_test")
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := database.Connect(ctx, database.DefaultPoolConfig(connStr))
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

func unitEmbedding(axis int) []float32 {
	v := make([]float32, 512)
	v[axis] = 1
	return v
}

func TestRepositories_Integration(t *testing.T) {
	db, cleanup := setupIntegrationTest(t)
	defer cleanup()

	ctx := context.Background()
	identities := NewIdentityRepository(db)
	records := NewEmbeddingRecordRepository(db)
	audits := NewMatchAuditRepository(db)

	ana := &domain.Identity{ID: domain.NewIdentityID(), Name: "Ana", Email: "ana@example.com", IsActive: true}
	bia := &domain.Identity{ID: domain.NewIdentityID(), Name: "Bia", Email: "bia@example.com", Phone: "+5511900000000", IsActive: true}
	require.NoError(t, identities.Create(ctx, ana))
	require.NoError(t, identities.Create(ctx, bia))

	t.Run("email lookup ignores case", func(t *testing.T) {
		got, err := identities.FindByEmail(ctx, "ANA@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Equal(t, ana.ID, got.ID)
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		err := identities.Create(ctx, &domain.Identity{ID: domain.NewIdentityID(), Name: "Ana 2", Email: "Ana@example.com"})
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	slot0, slot1 := uint32(0), uint32(1)
	first := &domain.EmbeddingRecord{IdentityID: ana.ID, SlotID: &slot0, Model: "mock", QualityScore: 0.8, Embedding: unitEmbedding(0)}
	second := &domain.EmbeddingRecord{IdentityID: bia.ID, SlotID: &slot1, Model: "mock", QualityScore: 0.7, Embedding: unitEmbedding(1)}
	require.NoError(t, records.Create(ctx, first))
	require.NoError(t, records.Create(ctx, second))

	t.Run("embedding column follows the configured dimension", func(t *testing.T) {
		carla := &domain.Identity{ID: domain.NewIdentityID(), Name: "Carla", Email: "carla@example.com", IsActive: true}
		require.NoError(t, identities.Create(ctx, carla))

		small := make([]float32, 128)
		small[3] = 1
		slot := uint32(99)
		rec := &domain.EmbeddingRecord{IdentityID: carla.ID, SlotID: &slot, Model: "Facenet", Embedding: small}
		require.NoError(t, records.Create(ctx, rec))

		all, err := records.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, small, all[2].Embedding)

		_, err = db.Exec(ctx, "DELETE FROM identities WHERE id = $1", carla.ID)
		require.NoError(t, err)
	})

	t.Run("slot ids are unique", func(t *testing.T) {
		err := records.Create(ctx, &domain.EmbeddingRecord{IdentityID: bia.ID, SlotID: &slot1, Model: "mock"})
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
	})

	t.Run("list returns embeddings in slot order", func(t *testing.T) {
		all, err := records.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, ana.ID, all[0].IdentityID)
		assert.Equal(t, unitEmbedding(0), all[0].Embedding)
		assert.Equal(t, uint32(1), *all[1].SlotID)
	})

	t.Run("remap swaps slots and detaches the rest", func(t *testing.T) {
		require.NoError(t, records.RemapSlots(ctx, map[uint32]uint32{1: 0}))

		all, err := records.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, bia.ID, all[0].IdentityID)
		assert.Equal(t, uint32(0), *all[0].SlotID)
		assert.Nil(t, all[1].SlotID)
		assert.True(t, all[1].NeedsReEnrollment)
	})

	t.Run("flagging is idempotent", func(t *testing.T) {
		n, err := records.FlagForReEnrollment(ctx, []uuid.UUID{first.ID, second.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = records.FlagForReEnrollment(ctx, []uuid.UUID{first.ID, second.ID})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("audit is stored", func(t *testing.T) {
		audit := &domain.MatchAudit{Matched: false, Threshold: 0.6, TopK: 5, LatencyMs: 12, ClientIP: "127.0.0.1"}
		require.NoError(t, audits.Create(ctx, audit))
		assert.False(t, audit.CreatedAt.IsZero())
	})
}
