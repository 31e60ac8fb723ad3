package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facegate/internal/audit"
	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

func newMaintainedIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	return newTestIndex(t)
}

func slotPtr(s uint32) *uint32 {
	return &s
}

// seedDrift builds an index with four slots:
// 0 backed by a record, 1 without a record, 2 owned by another identity
// in the store, 3 tombstoned while its record still points at it.
func seedDrift(t *testing.T) (*vectorindex.Index, *memoryRecords) {
	t.Helper()
	ix := newMaintainedIndex(t)

	for i, id := range []string{"user_000000000000", "user_111111111111", "user_222222222222", "user_333333333333"} {
		vec := make([]float32, testDim)
		vec[i] = 1
		_, err := ix.Insert(vec, id)
		require.NoError(t, err)
	}
	_, err := ix.RemoveMapping(3)
	require.NoError(t, err)

	records := &memoryRecords{records: []domain.EmbeddingRecord{
		{ID: uuid.New(), IdentityID: "user_000000000000", SlotID: slotPtr(0), Embedding: []float32{1, 0, 0, 0}},
		{ID: uuid.New(), IdentityID: "user_999999999999", SlotID: slotPtr(2), Embedding: []float32{0, 0, 1, 0}},
		{ID: uuid.New(), IdentityID: "user_333333333333", SlotID: slotPtr(3), Embedding: []float32{0, 0, 0, 1}},
		{ID: uuid.New(), IdentityID: "user_444444444444", NeedsReEnrollment: true},
	}}
	return ix, records
}

func TestReconciler_Run(t *testing.T) {
	ix, records := seedDrift(t)
	events := &recordingAudit{}
	r := NewReconciler(ix, records, testLogger()).WithAudit(events)

	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, report.DryRun)
	assert.Equal(t, 3, report.MappedSlots)
	assert.Equal(t, 4, report.Records)
	assert.Equal(t, []uint32{1, 2}, report.OrphanSlots)
	assert.ElementsMatch(t, []uuid.UUID{records.records[1].ID, records.records[2].ID}, report.FlaggedRecords)

	assert.Equal(t, map[uint32]string{0: "user_000000000000"}, ix.Mappings())
	assert.Equal(t, 4, ix.Size())

	all, _ := records.ListAll(context.Background())
	assert.False(t, all[0].NeedsReEnrollment)
	assert.True(t, all[1].NeedsReEnrollment)
	assert.True(t, all[2].NeedsReEnrollment)

	require.Len(t, events.events, 3)
	assert.Equal(t, audit.EventSlotTombstoned, events.events[0].EventType)
	assert.Equal(t, uint32(1), *events.events[0].SlotID)
	assert.Equal(t, audit.EventSlotTombstoned, events.events[1].EventType)
	assert.Equal(t, audit.EventRecordsFlagged, events.events[2].EventType)
	assert.Equal(t, "2", events.events[2].Metadata["count"])

	again, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, again.OrphanSlots)
	assert.Empty(t, again.FlaggedRecords)
}

func TestReconciler_Run_DryRun(t *testing.T) {
	ix, records := seedDrift(t)
	r := NewReconciler(ix, records, testLogger())

	report, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, []uint32{1, 2}, report.OrphanSlots)
	assert.Len(t, report.FlaggedRecords, 2)

	assert.Equal(t, 3, ix.LiveCount())
	all, _ := records.ListAll(context.Background())
	assert.False(t, all[1].NeedsReEnrollment)
}

func TestReconciler_Run_StoreError(t *testing.T) {
	ix := newMaintainedIndex(t)
	repo := new(MockEmbeddingRecordRepository)
	repo.On("ListAll", mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := NewReconciler(ix, repo, testLogger()).Run(context.Background(), false)

	assert.EqualError(t, err, "reconcile: connection refused")
}

func TestReconciler_Compact(t *testing.T) {
	ix, records := seedDrift(t)
	r := NewReconciler(ix, records, testLogger())

	_, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	report, err := r.Compact(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "index", report.Source)
	assert.Equal(t, 4, report.Before)
	assert.Equal(t, 1, report.After)
	assert.Equal(t, map[uint32]string{0: "user_000000000000"}, ix.Mappings())

	all, _ := records.ListAll(context.Background())
	require.NotNil(t, all[0].SlotID)
	assert.Equal(t, uint32(0), *all[0].SlotID)
	assert.Nil(t, all[1].SlotID)
	assert.Nil(t, all[2].SlotID)

	again, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, again.OrphanSlots)
	assert.Empty(t, again.FlaggedRecords)
}

func TestReconciler_RebuildFromStore(t *testing.T) {
	ix := newMaintainedIndex(t)
	for i := 0; i < 3; i++ {
		vec := make([]float32, testDim)
		vec[i] = 1
		_, err := ix.Insert(vec, "user_stale")
		require.NoError(t, err)
	}

	records := &memoryRecords{records: []domain.EmbeddingRecord{
		{ID: uuid.New(), IdentityID: "user_aaaaaaaaaaaa", SlotID: slotPtr(4), Embedding: []float32{0, 0, 0, 2}},
		{ID: uuid.New(), IdentityID: "user_bbbbbbbbbbbb", SlotID: slotPtr(7), Embedding: []float32{0, 3, 0, 0}},
		{ID: uuid.New(), IdentityID: "user_cccccccccccc", SlotID: slotPtr(9)},
		{ID: uuid.New(), IdentityID: "user_dddddddddddd", SlotID: slotPtr(10), Embedding: []float32{1, 0, 0, 0}, NeedsReEnrollment: true},
	}}

	var ticks []int
	report, err := NewReconciler(ix, records, testLogger()).
		WithProgress(func(done, total int) {
			assert.Equal(t, 4, total)
			ticks = append(ticks, done)
		}).
		RebuildFromStore(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, ticks)
	assert.Equal(t, "store", report.Source)
	assert.Equal(t, 3, report.Before)
	assert.Equal(t, 2, report.After)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, map[uint32]string{0: "user_aaaaaaaaaaaa", 1: "user_bbbbbbbbbbbb"}, ix.Mappings())

	hits, err := ix.Search([]float32{0, 1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "user_bbbbbbbbbbbb", hits[0].IdentityID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)

	all, _ := records.ListAll(context.Background())
	assert.Equal(t, uint32(0), *all[0].SlotID)
	assert.Equal(t, uint32(1), *all[1].SlotID)
	assert.Nil(t, all[2].SlotID)
	assert.True(t, all[2].NeedsReEnrollment)
}

func TestReconciler_RemapFailure(t *testing.T) {
	ix := newMaintainedIndex(t)
	_, err := ix.Insert([]float32{1, 0, 0, 0}, "user_aaaaaaaaaaaa")
	require.NoError(t, err)

	repo := new(MockEmbeddingRecordRepository)
	repo.On("RemapSlots", mock.Anything, map[uint32]uint32{0: 0}).Return(errors.New("tx aborted"))

	_, err = NewReconciler(ix, repo, testLogger()).Compact(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "remap record slots")
	assert.Equal(t, 1, ix.Size())
}
