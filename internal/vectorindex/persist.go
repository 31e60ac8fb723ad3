package vectorindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

const (
	vectorsFileName = "vectors.bin"
	mappingFileName = "mapping.json"

	fileMagic            = "FGVI"
	formatVersion uint16 = 1
	headerSize           = 12 // magic(4) + version(2) + reserved(2) + dimension(4)
	mappingVersion       = 1
)

var crcTable = crc32.MakeTable(crc32.IEEE)

// mappingDoc is the on-disk form of the slot to identity mapping.
type mappingDoc struct {
	Version     int               `json:"version"`
	Dimension   int               `json:"dimension"`
	Metric      string            `json:"metric"`
	VectorCount int               `json:"vector_count"`
	Mappings    map[string]string `json:"mappings"`
}

func newMappingDoc(cfg Config, count int, owners []string) mappingDoc {
	doc := mappingDoc{
		Version:     mappingVersion,
		Dimension:   cfg.Dimension,
		Metric:      string(cfg.Metric),
		VectorCount: count,
		Mappings:    make(map[string]string, len(owners)),
	}
	for slot, id := range owners {
		if id != "" {
			doc.Mappings[strconv.Itoa(slot)] = id
		}
	}
	return doc
}

// owners expands the mapping into a slot-indexed slice of length count.
func (d mappingDoc) owners(count int) ([]string, error) {
	if d.VectorCount > count {
		return nil, fmt.Errorf("%w: mapping records %d vectors, file holds %d", errCorrupt, d.VectorCount, count)
	}
	out := make([]string, count)
	for key, id := range d.Mappings {
		slot, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping key %q", errCorrupt, key)
		}
		if int(slot) >= d.VectorCount || id == "" {
			return nil, fmt.Errorf("%w: mapping slot %d outside %d vectors", errCorrupt, slot, d.VectorCount)
		}
		out[slot] = id
	}
	return out, nil
}

// saveArtifact is replaced in tests to simulate a failing disk.
var saveArtifact = saveToFile

func writeMapping(dir string, doc mappingDoc) error {
	return saveArtifact(filepath.Join(dir, mappingFileName), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		return enc.Encode(doc)
	})
}

func readMapping(dir string) (mappingDoc, error) {
	var doc mappingDoc
	data, err := os.ReadFile(filepath.Join(dir, mappingFileName))
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: mapping: %v", errCorrupt, err)
	}
	if doc.Version != mappingVersion || doc.VectorCount < 0 {
		return doc, fmt.Errorf("%w: mapping version %d", errCorrupt, doc.Version)
	}
	return doc, nil
}

func encodeHeader(dim int) []byte {
	buf := make([]byte, headerSize)
	copy(buf, fileMagic)
	binary.LittleEndian.PutUint16(buf[4:], formatVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(dim))
	return buf
}

func recordSize(dim int) int {
	return dim*4 + 4
}

func encodeRecord(dst []byte, vec []float32) []byte {
	start := len(dst)
	for _, v := range vec {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	sum := crc32.Checksum(dst[start:], crcTable)
	return binary.LittleEndian.AppendUint32(dst, sum)
}

// writeVectors streams a complete vectors artifact for the flat vector arena.
func writeVectors(w io.Writer, dim int, flat []float32) error {
	if _, err := w.Write(encodeHeader(dim)); err != nil {
		return err
	}
	rec := make([]byte, 0, recordSize(dim))
	for off := 0; off < len(flat); off += dim {
		rec = encodeRecord(rec[:0], flat[off:off+dim])
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// decodeVectors parses a vectors artifact. A trailing partial record is
// reported through validLen so the caller can truncate it.
func decodeVectors(data []byte, dim int) (flat []float32, validLen int64, err error) {
	if len(data) < headerSize || string(data[:4]) != fileMagic {
		return nil, 0, fmt.Errorf("%w: bad vectors header", errCorrupt)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != formatVersion {
		return nil, 0, fmt.Errorf("%w: vectors version %d", errCorrupt, v)
	}
	if d := int(binary.LittleEndian.Uint32(data[8:])); d != dim {
		return nil, 0, fmt.Errorf("%w: vectors dimension %d, configured %d", errCorrupt, d, dim)
	}

	size := recordSize(dim)
	body := data[headerSize:]
	count := len(body) / size
	flat = make([]float32, 0, count*dim)

	for i := 0; i < count; i++ {
		rec := body[i*size : (i+1)*size]
		payload := rec[:dim*4]
		want := binary.LittleEndian.Uint32(rec[dim*4:])
		if crc32.Checksum(payload, crcTable) != want {
			return nil, 0, fmt.Errorf("%w: checksum mismatch at slot %d", errCorrupt, i)
		}
		for j := 0; j < dim; j++ {
			flat = append(flat, math.Float32frombits(binary.LittleEndian.Uint32(payload[j*4:])))
		}
	}

	return flat, int64(headerSize + count*size), nil
}

// vectorLog is the append-only handle on vectors.bin.
type vectorLog struct {
	f    *os.File
	dim  int
	size int64
	buf  []byte
}

func openVectorLog(path string, dim int, size int64) (*vectorLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &vectorLog{f: f, dim: dim, size: size}, nil
}

// append writes one record and fsyncs. On failure the file is cut back to
// its previous length.
func (l *vectorLog) append(vec []float32) error {
	if l.f == nil {
		return os.ErrClosed
	}
	l.buf = encodeRecord(l.buf[:0], vec)
	if _, err := l.f.WriteAt(l.buf, l.size); err != nil {
		_ = l.f.Truncate(l.size)
		return err
	}
	if err := l.f.Sync(); err != nil {
		_ = l.f.Truncate(l.size)
		return err
	}
	l.size += int64(len(l.buf))
	return nil
}

func (l *vectorLog) close() error {
	if l == nil || l.f == nil {
		return nil
	}
	syncErr := l.f.Sync()
	closeErr := l.f.Close()
	l.f = nil
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// saveToFile writes through a temp file in the same directory, fsyncs it,
// renames it over filename and fsyncs the directory.
func saveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	tmpName = ""

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func vectorsBytes(dim int, flat []float32) []byte {
	var b bytes.Buffer
	b.Grow(headerSize + len(flat)/max(dim, 1)*recordSize(dim))
	_ = writeVectors(&b, dim, flat)
	return b.Bytes()
}
