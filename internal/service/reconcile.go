package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/facegate/internal/audit"
	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

// MaintainedIndex is the part of *vectorindex.Index used by offline maintenance.
type MaintainedIndex interface {
	Mappings() map[uint32]string
	RemoveMapping(slot uint32) (bool, error)
	Entries() []vectorindex.Entry
	Rebuild(entries []vectorindex.Entry) error
	Dimension() int
	Size() int
	LiveCount() int
}

var _ MaintainedIndex = (*vectorindex.Index)(nil)

type ReconcileReport struct {
	DryRun         bool        `json:"dry_run"`
	MappedSlots    int         `json:"mapped_slots"`
	Records        int         `json:"records"`
	OrphanSlots    []uint32    `json:"orphan_slots"`
	FlaggedRecords []uuid.UUID `json:"flagged_records"`
}

type RebuildReport struct {
	Source  string `json:"source"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
	Skipped int    `json:"skipped"`
}

// Reconciler repairs drift between the index mapping and the embedding
// records left behind by partially failed enrollments.
type Reconciler struct {
	index    MaintainedIndex
	records  EmbeddingRecordRepositoryInterface
	logger   *slog.Logger
	audit    audit.Logger
	progress func(done, total int)
}

func NewReconciler(index MaintainedIndex, records EmbeddingRecordRepositoryInterface, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{index: index, records: records, logger: logger, audit: &audit.NoOpLogger{}}
}

func (r *Reconciler) WithAudit(logger audit.Logger) *Reconciler {
	r.audit = logger
	return r
}

func (r *Reconciler) emit(ctx context.Context, event audit.Event) {
	event.Success = true
	if err := r.audit.Log(ctx, event); err != nil {
		r.logger.Warn("failed to write audit event", "event_type", event.EventType, "error", err)
	}
}

// WithProgress reports per-item progress of slow loops to fn.
func (r *Reconciler) WithProgress(fn func(done, total int)) *Reconciler {
	r.progress = fn
	return r
}

func (r *Reconciler) report(done, total int) {
	if r.progress != nil {
		r.progress(done, total)
	}
}

// Run tombstones mapped slots that no record backs and flags records whose
// slot is not mapped to their identity. With dryRun nothing is changed.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	mappings := r.index.Mappings()

	records, err := r.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	report := &ReconcileReport{
		DryRun:         dryRun,
		MappedSlots:    len(mappings),
		Records:        len(records),
		OrphanSlots:    []uint32{},
		FlaggedRecords: []uuid.UUID{},
	}

	owners := make(map[uint32]string, len(records))
	for _, rec := range records {
		if rec.SlotID != nil && !rec.NeedsReEnrollment {
			owners[*rec.SlotID] = rec.IdentityID
		}
	}

	for slot, identityID := range mappings {
		if owner, ok := owners[slot]; !ok || owner != identityID {
			report.OrphanSlots = append(report.OrphanSlots, slot)
		}
	}
	slices.Sort(report.OrphanSlots)

	for _, rec := range records {
		if rec.NeedsReEnrollment {
			continue
		}
		if rec.SlotID == nil {
			report.FlaggedRecords = append(report.FlaggedRecords, rec.ID)
			continue
		}
		if mapped, ok := mappings[*rec.SlotID]; !ok || mapped != rec.IdentityID {
			report.FlaggedRecords = append(report.FlaggedRecords, rec.ID)
		}
	}

	if dryRun {
		return report, nil
	}

	for i, slot := range report.OrphanSlots {
		if _, err := r.index.RemoveMapping(slot); err != nil {
			return report, fmt.Errorf("tombstone slot %d: %w", slot, err)
		}
		r.logger.Warn("tombstoned orphan slot", "slot_id", slot, "user_id", mappings[slot])
		r.emit(ctx, audit.Event{EventType: audit.EventSlotTombstoned, IdentityID: mappings[slot], SlotID: &slot})
		r.report(i+1, len(report.OrphanSlots))
	}

	if len(report.FlaggedRecords) > 0 {
		n, err := r.records.FlagForReEnrollment(ctx, report.FlaggedRecords)
		if err != nil {
			return report, fmt.Errorf("flag records: %w", err)
		}
		r.logger.Warn("records flagged for re-enrollment", "count", n)
		r.emit(ctx, audit.Event{
			EventType: audit.EventRecordsFlagged,
			Metadata:  map[string]string{"count": strconv.FormatInt(n, 10)},
		})
	}

	r.logger.Info("reconcile finished",
		"orphan_slots", len(report.OrphanSlots),
		"flagged_records", len(report.FlaggedRecords),
	)

	return report, nil
}

// Compact rebuilds the index from its own live entries, dropping
// tombstones, and rewrites record slot ids to match.
func (r *Reconciler) Compact(ctx context.Context) (*RebuildReport, error) {
	before := r.index.Size()
	entries := r.index.Entries()

	remap := make(map[uint32]uint32, len(entries))
	for i, e := range entries {
		remap[e.Slot] = uint32(i)
	}

	if err := r.rebuild(ctx, entries, remap); err != nil {
		return nil, err
	}

	report := &RebuildReport{Source: "index", Before: before, After: r.index.Size()}
	r.emitRebuilt(ctx, report)
	return report, nil
}

// RebuildFromStore reconstructs the index from the embeddings kept in the
// metadata store. Records without a usable embedding lose their slot.
func (r *Reconciler) RebuildFromStore(ctx context.Context) (*RebuildReport, error) {
	before := r.index.Size()

	records, err := r.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild from store: %w", err)
	}

	dim := r.index.Dimension()
	entries := make([]vectorindex.Entry, 0, len(records))
	remap := make(map[uint32]uint32, len(records))
	skipped := 0

	for i, rec := range records {
		r.report(i+1, len(records))
		if rec.SlotID == nil || rec.NeedsReEnrollment || len(rec.Embedding) != dim {
			skipped++
			continue
		}
		remap[*rec.SlotID] = uint32(len(entries))
		entries = append(entries, vectorindex.Entry{Vector: rec.Embedding, IdentityID: rec.IdentityID})
	}

	if err := r.rebuild(ctx, entries, remap); err != nil {
		return nil, err
	}

	report := &RebuildReport{Source: "store", Before: before, After: r.index.Size(), Skipped: skipped}
	r.emitRebuilt(ctx, report)
	return report, nil
}

func (r *Reconciler) rebuild(ctx context.Context, entries []vectorindex.Entry, remap map[uint32]uint32) error {
	if err := r.index.Rebuild(entries); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	if err := r.records.RemapSlots(ctx, remap); err != nil {
		r.logger.Error("index rebuilt but record slots not updated, run reconcile", "error", err)
		return fmt.Errorf("remap record slots: %w", err)
	}

	r.logger.Info("index rebuilt", "size", r.index.Size())
	return nil
}

func (r *Reconciler) emitRebuilt(ctx context.Context, report *RebuildReport) {
	r.emit(ctx, audit.Event{
		EventType: audit.EventIndexRebuilt,
		Metadata: map[string]string{
			"source":  report.Source,
			"before":  strconv.Itoa(report.Before),
			"after":   strconv.Itoa(report.After),
			"skipped": strconv.Itoa(report.Skipped),
		},
	})
}
