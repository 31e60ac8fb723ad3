package vectorindex

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// WriteSnapshot writes a zstd-compressed tar holding both artifacts as of
// the last committed state.
func (ix *Index) WriteSnapshot(w io.Writer) error {
	snap := ix.snap.Load()

	mapping, err := json.Marshal(newMappingDoc(ix.cfg, snap.count(), snap.owners))
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	vectors := vectorsBytes(ix.cfg.Dimension, snap.vectors)

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	tw := tar.NewWriter(enc)
	now := time.Now()
	for _, f := range []struct {
		name string
		data []byte
	}{
		{vectorsFileName, vectors},
		{mappingFileName, mapping},
	} {
		hdr := &tar.Header{
			Name:    f.name,
			Mode:    0o644,
			Size:    int64(len(f.data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			_ = enc.Close()
			return fmt.Errorf("write %s header: %w", f.name, err)
		}
		if _, err := tw.Write(f.data); err != nil {
			_ = enc.Close()
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		_ = enc.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	return enc.Close()
}

// RestoreSnapshot unpacks a snapshot produced by WriteSnapshot into dir.
// Both artifacts are validated before either is written.
func RestoreSnapshot(r io.Reader, dir string, dimension int) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	files := make(map[string][]byte, 2)
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if hdr.Name != vectorsFileName && hdr.Name != mappingFileName {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, io.LimitReader(tr, hdr.Size)); err != nil {
			return fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		files[hdr.Name] = buf.Bytes()
	}

	vectors, ok := files[vectorsFileName]
	if !ok {
		return fmt.Errorf("%w: snapshot missing %s", errCorrupt, vectorsFileName)
	}
	mapping, ok := files[mappingFileName]
	if !ok {
		return fmt.Errorf("%w: snapshot missing %s", errCorrupt, mappingFileName)
	}

	flat, validLen, err := decodeVectors(vectors, dimension)
	if err != nil {
		return err
	}
	if validLen != int64(len(vectors)) {
		return fmt.Errorf("%w: snapshot vectors truncated", errCorrupt)
	}
	var doc mappingDoc
	if err := json.Unmarshal(mapping, &doc); err != nil {
		return fmt.Errorf("%w: snapshot mapping: %v", errCorrupt, err)
	}
	if _, err := doc.owners(len(flat) / dimension); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	for _, name := range []string{vectorsFileName, mappingFileName} {
		data := files[name]
		if err := saveToFile(filepath.Join(dir, name), func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
