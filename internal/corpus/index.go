package corpus

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	vectorsFile = "vectors.bin"
	recordsFile = "records.json"

	// currentFile names the live segment directory. Swapping this
	// pointer is the single atomic commit point for both artifacts.
	currentFile = "CURRENT"

	// vectorsMagic identifies the vectors file format ("CVX1").
	vectorsMagic = uint32(0x43565831)
)

// Record is the metadata row stored alongside one vector. Its position
// in the metadata table is the vector's ordinal, so the two files are
// always the same length.
type Record struct {
	FileID      string    `json:"file_id"`
	Filename    string    `json:"filename"`
	WorkspaceID string    `json:"workspace_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Start       int       `json:"start"`
	End         int       `json:"end"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchResult is one ranked similarity hit.
type SearchResult struct {
	Record Record
	Score  float64
	Rank   int // 1-based
}

// VectorIndex is a flat per-workspace vector index plus its
// ordinal-aligned metadata table, persisted as two artifacts inside a
// segment directory named by the CURRENT pointer file. Ordinals are
// dense: after any add or delete, positions 0..Count()-1 each hold
// exactly one vector and one record.
//
// The index does no locking of its own; Workspace serializes access.
type VectorIndex struct {
	dir     string
	dim     int
	segment string
	epoch   uint64
	vectors [][]float32
	records []Record
}

// OpenVectorIndex loads the persisted index under dir if one exists,
// or creates an empty index fixed to dimension. Opening is idempotent;
// once a persisted index exists its stored dimension wins.
func OpenVectorIndex(dir string, dimension int) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	ix := &VectorIndex{dir: dir, dim: dimension}

	if _, err := os.Stat(filepath.Join(dir, currentFile)); os.IsNotExist(err) {
		return ix, nil // fresh workspace
	}

	if err := ix.load(); err != nil {
		return nil, err
	}
	return ix, nil
}

// load reads the CURRENT pointer and both artifacts of the segment it
// names, validating them together.
func (ix *VectorIndex) load() error {
	pointer, err := os.ReadFile(filepath.Join(ix.dir, currentFile))
	if err != nil {
		return fmt.Errorf("failed to read segment pointer: %w", err)
	}
	segment := strings.TrimSpace(string(pointer))
	if segment == "" || strings.ContainsAny(segment, "/\\") {
		return fmt.Errorf("invalid segment pointer %q", segment)
	}
	segDir := filepath.Join(ix.dir, segment)

	vecData, err := os.ReadFile(filepath.Join(segDir, vectorsFile))
	if err != nil {
		return fmt.Errorf("failed to read vectors file: %w", err)
	}
	dim, vectors, err := decodeVectors(vecData)
	if err != nil {
		return fmt.Errorf("failed to decode vectors file: %w", err)
	}

	recData, err := os.ReadFile(filepath.Join(segDir, recordsFile))
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(recData, &records); err != nil {
		return fmt.Errorf("failed to decode records file: %w", err)
	}

	if len(vectors) != len(records) {
		return fmt.Errorf("index/metadata length mismatch: %d vectors, %d records", len(vectors), len(records))
	}

	ix.dim = dim
	ix.segment = segment
	ix.epoch = segmentEpoch(segment)
	ix.vectors = vectors
	ix.records = records
	return nil
}

// segmentEpoch parses the numeric suffix of a segment name so writes
// resume from a later epoch after a reload.
func segmentEpoch(segment string) uint64 {
	i := strings.LastIndexByte(segment, '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(segment[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Dimension returns the fixed vector dimension of this index.
func (ix *VectorIndex) Dimension() int { return ix.dim }

// Count returns the number of live records.
func (ix *VectorIndex) Count() int { return len(ix.records) }

// Add appends vectors with their records, assigning dense ordinals
// continuing from the current size, and persists both artifacts.
// Vectors are L2-normalized before storage so the stored inner product
// is cosine similarity. On any error nothing is mutated.
func (ix *VectorIndex) Add(vectors [][]float32, records []Record) error {
	if len(vectors) != len(records) {
		return fmt.Errorf("got %d vectors for %d records", len(vectors), len(records))
	}
	if len(vectors) == 0 {
		return nil
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("vector %d has dimension %d, index requires %d", i, len(v), ix.dim)
		}
		normalized[i] = normalize(v)
	}

	newVectors := make([][]float32, 0, len(ix.vectors)+len(normalized))
	newVectors = append(append(newVectors, ix.vectors...), normalized...)
	newRecords := make([]Record, 0, len(ix.records)+len(records))
	newRecords = append(append(newRecords, ix.records...), records...)

	if err := ix.persist(newVectors, newRecords); err != nil {
		return err
	}
	ix.vectors = newVectors
	ix.records = newRecords
	return nil
}

// Search returns the top-k most similar records by inner product over
// normalized vectors (cosine similarity), ranked 1-based by descending
// score. An empty index yields an empty list, not an error.
func (ix *VectorIndex) Search(query []float32, topK int) ([]SearchResult, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query has dimension %d, index requires %d", len(query), ix.dim)
	}
	if topK <= 0 || len(ix.vectors) == 0 {
		return []SearchResult{}, nil
	}

	q := normalize(query)

	type scored struct {
		ordinal int
		score   float64
	}
	scores := make([]scored, len(ix.vectors))
	for i, v := range ix.vectors {
		scores[i] = scored{ordinal: i, score: dot(q, v)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	results := make([]SearchResult, topK)
	for i := 0; i < topK; i++ {
		results[i] = SearchResult{
			Record: ix.records[scores[i].ordinal],
			Score:  scores[i].score,
			Rank:   i + 1,
		}
	}
	return results, nil
}

// Delete removes the named ordinals by rebuilding the index from the
// surviving records. The flat index has no in-place removal, and the
// rebuild keeps ordinals dense: survivors are re-numbered from 0 with
// metadata rebuilt in lockstep. Removing every record leaves a valid
// empty index of the same dimension.
func (ix *VectorIndex) Delete(ordinals []int) error {
	if len(ordinals) == 0 {
		return nil
	}

	drop := make(map[int]bool, len(ordinals))
	for _, o := range ordinals {
		if o < 0 || o >= len(ix.records) {
			return fmt.Errorf("ordinal %d out of range [0, %d)", o, len(ix.records))
		}
		drop[o] = true
	}

	newVectors := make([][]float32, 0, len(ix.vectors)-len(drop))
	newRecords := make([]Record, 0, len(ix.records)-len(drop))
	for i := range ix.vectors {
		if drop[i] {
			continue
		}
		newVectors = append(newVectors, ix.vectors[i])
		newRecords = append(newRecords, ix.records[i])
	}

	if err := ix.persist(newVectors, newRecords); err != nil {
		return err
	}
	ix.vectors = newVectors
	ix.records = newRecords
	return nil
}

// persist stages both artifacts in a fresh segment directory and then
// swaps the CURRENT pointer with a temp-file+rename. A crash at any
// point before the pointer swap leaves the previous segment
// authoritative; the stale segment is removed only after the swap.
func (ix *VectorIndex) persist(vectors [][]float32, records []Record) error {
	vecData, err := encodeVectors(ix.dim, vectors)
	if err != nil {
		return fmt.Errorf("failed to encode vectors: %w", err)
	}
	recData, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	segment := fmt.Sprintf("seg-%d", ix.epoch+1)
	segDir := filepath.Join(ix.dir, segment)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return fmt.Errorf("failed to create segment directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(segDir, vectorsFile), vecData, 0o644); err != nil {
		os.RemoveAll(segDir)
		return fmt.Errorf("failed to write vectors file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(segDir, recordsFile), recData, 0o644); err != nil {
		os.RemoveAll(segDir)
		return fmt.Errorf("failed to write records file: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(ix.dir, currentFile), []byte(segment)); err != nil {
		os.RemoveAll(segDir)
		return fmt.Errorf("failed to commit segment pointer: %w", err)
	}

	if ix.segment != "" && ix.segment != segment {
		if err := os.RemoveAll(filepath.Join(ix.dir, ix.segment)); err != nil {
			log.Printf("⚠️  Failed to remove stale segment %s: %v", ix.segment, err)
		}
	}
	ix.segment = segment
	ix.epoch++
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// encodeVectors serializes vectors as a little-endian binary blob:
// magic, dimension, count, then count*dimension float32 values.
func encodeVectors(dim int, vectors [][]float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	header := []uint32{vectorsMagic, uint32(dim), uint32(len(vectors))}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// decodeVectors parses the binary blob written by encodeVectors.
func decodeVectors(data []byte) (int, [][]float32, error) {
	buf := bytes.NewReader(data)
	header := make([]uint32, 3)
	if err := binary.Read(buf, binary.LittleEndian, header); err != nil {
		return 0, nil, fmt.Errorf("truncated header: %w", err)
	}
	if header[0] != vectorsMagic {
		return 0, nil, fmt.Errorf("bad magic %#x", header[0])
	}
	dim, count := int(header[1]), int(header[2])
	if dim <= 0 {
		return 0, nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if expected := 12 + count*dim*4; len(data) != expected {
		return 0, nil, fmt.Errorf("vectors file has %d bytes, want %d for %d vectors of dimension %d", len(data), expected, count, dim)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(buf, binary.LittleEndian, v); err != nil {
			return 0, nil, fmt.Errorf("truncated vector %d: %w", i, err)
		}
		vectors[i] = v
	}
	return dim, vectors, nil
}

// normalize returns an L2-normalized copy of v. Zero vectors are
// returned as-is.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// dot computes the inner product of two equal-length vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
