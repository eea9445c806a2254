// Package snapshot stores discovered static path segments so a later run on
// the same map and quest set can skip discovery.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/pathcache"
)

const Version = 1

// ErrStale is returned when a snapshot was taken for another map or quest set.
var ErrStale = errors.New("snapshot: digest mismatch")

type Header struct {
	Version     int       `json:"version"`
	MapDigest   string    `json:"map_digest"`
	QuestDigest string    `json:"quest_digest"`
	Segments    int       `json:"segments"`
	CreatedAt   time.Time `json:"created_at"`
}

type SegmentV1 struct {
	Start   geom.Vec3   `json:"start"`
	End     geom.Vec3   `json:"end"`
	Corners []geom.Vec3 `json:"corners"`
	Length  float64     `json:"length"`
}

type PathsV1 struct {
	Header   Header      `json:"header"`
	Segments []SegmentV1 `json:"segments"`
}

// FromSegments captures the complete segments of segs.
func FromSegments(mapDigest, questDigest string, segs []pathcache.Segment, now time.Time) PathsV1 {
	out := PathsV1{Header: Header{
		Version:     Version,
		MapDigest:   mapDigest,
		QuestDigest: questDigest,
		CreatedAt:   now.UTC(),
	}}
	for _, s := range segs {
		if s.Status != pathcache.StatusComplete {
			continue
		}
		out.Segments = append(out.Segments, SegmentV1{
			Start:   s.Start,
			End:     s.End,
			Corners: append([]geom.Vec3(nil), s.Corners...),
			Length:  s.Length,
		})
	}
	out.Header.Segments = len(out.Segments)
	return out
}

func (p PathsV1) ToSegments() []pathcache.Segment {
	out := make([]pathcache.Segment, 0, len(p.Segments))
	for _, s := range p.Segments {
		out = append(out, pathcache.Segment{
			Start:   s.Start,
			End:     s.End,
			Corners: append([]geom.Vec3(nil), s.Corners...),
			Status:  pathcache.StatusComplete,
			Length:  s.Length,
		})
	}
	return out
}

// Check reports ErrStale unless the snapshot matches both digests.
func (p PathsV1) Check(mapDigest, questDigest string) error {
	if p.Header.Version != Version {
		return fmt.Errorf("%w: version %d", ErrStale, p.Header.Version)
	}
	if p.Header.MapDigest != mapDigest || p.Header.QuestDigest != questDigest {
		return ErrStale
	}
	return nil
}

// WritePaths writes a JSON header line followed by the gob-encoded snapshot,
// zstd-compressed.
func WritePaths(path string, snap PathsV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadPaths(path string) (PathsV1, error) {
	var snap PathsV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
