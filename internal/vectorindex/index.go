// Package vectorindex is an exact-search embedding store with a durable
// slot to identity mapping.
//
// Vectors live in an append-only arena addressed by dense uint32 slots.
// A slot without a mapping entry is tombstoned: its vector stays on disk
// and is skipped by Search until Rebuild compacts the arena.
package vectorindex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

const DefaultDimension = 512

type Config struct {
	Dir       string
	Dimension int
	Metric    Metric
}

func (c Config) withDefaults() Config {
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	return c
}

// Result is one search hit. Distance is squared Euclidean.
type Result struct {
	IdentityID string  `json:"identity_id"`
	Distance   float32 `json:"distance"`
	Slot       uint32  `json:"slot_id"`
}

// Entry is a (vector, identity) pair used by Rebuild. Slot is filled by
// Entries and ignored by Rebuild, which assigns slots by position.
type Entry struct {
	Vector     []float32
	IdentityID string
	Slot       uint32
}

type Stats struct {
	Dir       string `json:"dir"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
	Size      int    `json:"size"`
	Live      int    `json:"live"`
}

// snapshot is immutable once published. vectors and owners may share
// backing arrays with later snapshots, which only ever append past len.
type snapshot struct {
	vectors []float32
	owners  []string
	live    *roaring.Bitmap
}

func (s *snapshot) count() int {
	return len(s.owners)
}

func (s *snapshot) vector(dim int, slot uint32) []float32 {
	off := int(slot) * dim
	return s.vectors[off : off+dim : off+dim]
}

type Index struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex // serializes mutate+persist
	log    *vectorLog
	closed bool

	snap atomic.Pointer[snapshot]
}

// Open loads the index from cfg.Dir. Missing or corrupt artifacts produce a
// fresh empty index instead of an error.
func Open(cfg Config, logger *slog.Logger) (*Index, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("vectorindex: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	ix := &Index{cfg: cfg, logger: logger.With("component", "vectorindex")}

	snap, size, err := ix.load()
	switch {
	case err == nil:
		ix.logger.Info("index loaded",
			"dir", cfg.Dir,
			"size", snap.count(),
			"live", snap.live.GetCardinality(),
		)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errCorrupt):
		ix.logger.Warn("starting with empty index", "dir", cfg.Dir, "reason", err)
		if errors.Is(err, errCorrupt) {
			ix.quarantine()
		}
		snap = emptySnapshot()
		if size, err = ix.reset(nil, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load index: %w", err)
	}

	lg, err := openVectorLog(ix.vectorsPath(), cfg.Dimension, size)
	if err != nil {
		return nil, fmt.Errorf("open vectors file: %w", err)
	}
	ix.log = lg
	ix.snap.Store(snap)

	return ix, nil
}

func emptySnapshot() *snapshot {
	return &snapshot{live: roaring.New()}
}

func (ix *Index) vectorsPath() string {
	return filepath.Join(ix.cfg.Dir, vectorsFileName)
}

func (ix *Index) load() (*snapshot, int64, error) {
	doc, err := readMapping(ix.cfg.Dir)
	if err != nil {
		return nil, 0, err
	}
	// vectors are stored already normalized for cosine, so the metric is
	// part of the on-disk format
	if doc.Metric != string(ix.cfg.Metric) {
		return nil, 0, fmt.Errorf("%w: mapping metric %q, configured %q", errCorrupt, doc.Metric, ix.cfg.Metric)
	}
	if doc.Dimension != ix.cfg.Dimension {
		return nil, 0, fmt.Errorf("%w: mapping dimension %d, configured %d", errCorrupt, doc.Dimension, ix.cfg.Dimension)
	}
	data, err := os.ReadFile(ix.vectorsPath())
	if err != nil {
		return nil, 0, err
	}

	flat, validLen, err := decodeVectors(data, ix.cfg.Dimension)
	if err != nil {
		return nil, 0, err
	}
	count := len(flat) / ix.cfg.Dimension
	owners, err := doc.owners(count)
	if err != nil {
		return nil, 0, err
	}

	if validLen < int64(len(data)) {
		ix.logger.Warn("truncating partial trailing vector record",
			"bytes", int64(len(data))-validLen,
		)
		if err := os.Truncate(ix.vectorsPath(), validLen); err != nil {
			return nil, 0, fmt.Errorf("truncate vectors file: %w", err)
		}
	}
	if count > doc.VectorCount {
		ix.logger.Warn("vectors beyond mapping kept as tombstones",
			"mapped_count", doc.VectorCount,
			"physical_count", count,
		)
	}

	live := roaring.New()
	for slot, id := range owners {
		if id != "" {
			live.Add(uint32(slot))
		}
	}

	return &snapshot{vectors: flat, owners: owners, live: live}, validLen, nil
}

// quarantine moves unreadable artifacts aside so a fresh index does not
// overwrite them.
func (ix *Index) quarantine() {
	suffix := ".corrupt-" + time.Now().UTC().Format("20060102T150405")
	for _, name := range []string{vectorsFileName, mappingFileName} {
		path := filepath.Join(ix.cfg.Dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Rename(path, path+suffix); err != nil {
			ix.logger.Warn("could not move corrupt artifact", "file", path, "error", err)
			continue
		}
		ix.logger.Warn("corrupt artifact moved aside", "file", path+suffix)
	}
}

// reset rewrites both artifacts from scratch and returns the vectors file
// length. The mapping is emptied first so a crash between the two writes
// reloads as tombstones instead of a mapping that outruns the vectors.
func (ix *Index) reset(flat []float32, owners []string) (int64, error) {
	if err := writeMapping(ix.cfg.Dir, newMappingDoc(ix.cfg, 0, nil)); err != nil {
		return 0, persistError("clear mapping", err)
	}
	if err := saveArtifact(ix.vectorsPath(), func(w io.Writer) error {
		return writeVectors(w, ix.cfg.Dimension, flat)
	}); err != nil {
		return 0, persistError("write vectors", err)
	}
	if err := writeMapping(ix.cfg.Dir, newMappingDoc(ix.cfg, len(owners), owners)); err != nil {
		return 0, persistError("write mapping", err)
	}
	return int64(headerSize + len(owners)*recordSize(ix.cfg.Dimension)), nil
}

func (ix *Index) prepare(vec []float32) ([]float32, error) {
	if len(vec) != ix.cfg.Dimension {
		return nil, dimensionError(len(vec), ix.cfg.Dimension)
	}
	// NaN compares false against any cutoff and would match every query
	for i, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, nonFiniteError(i, x)
		}
	}
	if ix.cfg.Metric == MetricCosine {
		return normalizeL2(vec), nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

// Insert appends vec at the next slot bound to identityID. The slot is
// visible to Search only after both artifacts are on stable storage.
func (ix *Index) Insert(vec []float32, identityID string) (uint32, error) {
	v, err := ix.prepare(vec)
	if err != nil {
		return 0, err
	}
	if identityID == "" {
		return 0, errors.New("vectorindex: identity id is required")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, ErrClosed
	}

	cur := ix.snap.Load()
	slot := uint32(cur.count())

	if err := ix.log.append(v); err != nil {
		return 0, persistError("append vector", err)
	}

	next := &snapshot{
		vectors: append(cur.vectors, v...),
		owners:  append(cur.owners, identityID),
		live:    cur.live.Clone(),
	}
	next.live.Add(slot)

	if err := writeMapping(ix.cfg.Dir, newMappingDoc(ix.cfg, next.count(), next.owners)); err != nil {
		// The vector is already on disk; keep the arena in step with it
		// and leave the slot unmapped.
		next.owners[slot] = ""
		next.live.Remove(slot)
		ix.snap.Store(next)
		ix.logger.Error("mapping write failed, slot left tombstoned",
			"slot", slot,
			"identity_id", identityID,
			"error", err,
		)
		return 0, persistError("write mapping", err)
	}

	ix.snap.Store(next)
	return slot, nil
}

// Search returns up to k live slots nearest to query in ascending distance,
// ties broken by ascending slot. A nil maxDistance disables the cutoff.
func (ix *Index) Search(query []float32, k int, maxDistance *float32) ([]Result, error) {
	q, err := ix.prepare(query)
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, ErrInvalidK
	}

	snap := ix.snap.Load()
	if snap.live.IsEmpty() {
		return []Result{}, nil
	}

	top := make([]Result, 0, min(k, int(snap.live.GetCardinality())))
	it := snap.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		d := squaredL2(q, snap.vector(ix.cfg.Dimension, slot))
		if maxDistance != nil && d > *maxDistance {
			continue
		}
		if len(top) == k && d >= top[k-1].Distance {
			continue
		}
		top = insertSorted(top, k, Result{IdentityID: snap.owners[slot], Distance: d, Slot: slot})
	}

	return top, nil
}

// insertSorted places r after every element with distance <= r.Distance,
// which keeps ascending-slot order among equal distances.
func insertSorted(top []Result, k int, r Result) []Result {
	pos := len(top)
	for pos > 0 && top[pos-1].Distance > r.Distance {
		pos--
	}
	if len(top) < k {
		top = append(top, Result{})
	}
	copy(top[pos+1:], top[pos:len(top)-1])
	top[pos] = r
	return top
}

// RemoveMapping tombstones slot. It returns false when the slot was not mapped.
func (ix *Index) RemoveMapping(slot uint32) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return false, ErrClosed
	}

	cur := ix.snap.Load()
	if !cur.live.Contains(slot) {
		return false, nil
	}

	owners := make([]string, len(cur.owners))
	copy(owners, cur.owners)
	owners[slot] = ""

	next := &snapshot{vectors: cur.vectors, owners: owners, live: cur.live.Clone()}
	next.live.Remove(slot)

	if err := writeMapping(ix.cfg.Dir, newMappingDoc(ix.cfg, next.count(), next.owners)); err != nil {
		return false, persistError("write mapping", err)
	}

	ix.snap.Store(next)
	ix.logger.Info("slot tombstoned", "slot", slot, "identity_id", cur.owners[slot])
	return true, nil
}

// Rebuild discards all state and re-inserts entries as slots 0..n-1.
// It must not run while the index is serving traffic.
func (ix *Index) Rebuild(entries []Entry) error {
	flat := make([]float32, 0, len(entries)*ix.cfg.Dimension)
	owners := make([]string, len(entries))
	live := roaring.New()

	for i, e := range entries {
		v, err := ix.prepare(e.Vector)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if e.IdentityID == "" {
			return fmt.Errorf("entry %d: empty identity id", i)
		}
		flat = append(flat, v...)
		owners[i] = e.IdentityID
		live.Add(uint32(i))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return ErrClosed
	}

	if err := ix.log.close(); err != nil {
		ix.logger.Warn("closing vectors file before rebuild", "error", err)
	}

	size, err := ix.reset(flat, owners)
	if err != nil {
		ix.restoreAfterFailedReset()
		return err
	}
	lg, err := openVectorLog(ix.vectorsPath(), ix.cfg.Dimension, size)
	if err != nil {
		return persistError("reopen vectors", err)
	}
	ix.log = lg

	ix.snap.Store(&snapshot{vectors: flat, owners: owners, live: live})
	ix.logger.Info("index rebuilt", "size", len(owners))
	return nil
}

// restoreAfterFailedReset puts the published state back on disk after a
// failed rewrite and reopens the vectors file. Caller holds ix.mu.
func (ix *Index) restoreAfterFailedReset() {
	cur := ix.snap.Load()

	size, err := ix.reset(cur.vectors, cur.owners)
	if err != nil {
		ix.logger.Error("could not restore index artifacts after failed rebuild", "error", err)

		snap, loadedSize, loadErr := ix.load()
		if loadErr != nil {
			ix.logger.Error("index artifacts unreadable, refusing further writes", "error", loadErr)
			ix.closed = true
			return
		}
		// the vectors file survived untouched: only the mapping needs putting back
		if slices.Equal(snap.vectors, cur.vectors) {
			if err := writeMapping(ix.cfg.Dir, newMappingDoc(ix.cfg, cur.count(), cur.owners)); err == nil {
				snap = cur
			}
		}
		if snap != cur {
			ix.logger.Error("index reloaded from disk after failed rebuild, run reconcile",
				"size", snap.count(),
				"live", snap.live.GetCardinality(),
			)
		}
		ix.snap.Store(snap)
		size = loadedSize
	}

	lg, err := openVectorLog(ix.vectorsPath(), ix.cfg.Dimension, size)
	if err != nil {
		ix.logger.Error("could not reopen vectors file, refusing further writes", "error", err)
		ix.closed = true
		return
	}
	ix.log = lg
}

// Size is the physical slot count, tombstones included.
func (ix *Index) Size() int {
	return ix.snap.Load().count()
}

// LiveCount is the number of mapped slots.
func (ix *Index) LiveCount() int {
	return int(ix.snap.Load().live.GetCardinality())
}

// Mappings returns a copy of the slot to identity mapping.
func (ix *Index) Mappings() map[uint32]string {
	snap := ix.snap.Load()
	out := make(map[uint32]string, snap.live.GetCardinality())
	it := snap.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		out[slot] = snap.owners[slot]
	}
	return out
}

// Entries returns the live (vector, identity) pairs in slot order.
func (ix *Index) Entries() []Entry {
	snap := ix.snap.Load()
	out := make([]Entry, 0, snap.live.GetCardinality())
	it := snap.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		v := snap.vector(ix.cfg.Dimension, slot)
		cp := make([]float32, len(v))
		copy(cp, v)
		out = append(out, Entry{Vector: cp, IdentityID: snap.owners[slot], Slot: slot})
	}
	return out
}

func (ix *Index) Stats() Stats {
	snap := ix.snap.Load()
	return Stats{
		Dir:       ix.cfg.Dir,
		Dimension: ix.cfg.Dimension,
		Metric:    ix.cfg.Metric,
		Size:      snap.count(),
		Live:      int(snap.live.GetCardinality()),
	}
}

func (ix *Index) Dimension() int {
	return ix.cfg.Dimension
}

// Close flushes the vectors file. Search keeps working on the last snapshot.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.closed = true

	if err := ix.log.close(); err != nil {
		return persistError("close vectors", err)
	}
	ix.logger.Info("index closed", "size", ix.snap.Load().count())
	return nil
}
