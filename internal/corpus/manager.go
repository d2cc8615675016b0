package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

const (
	// rrfK dampens rank differences in reciprocal rank fusion.
	rrfK = 60

	// hybridCandidates is how many hits each retriever contributes
	// before fusion.
	hybridCandidates = 100
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// DataDir is the root directory for all persisted state.
	DataDir string

	// Embedder produces vectors; defaults to a 384-dim no-op embedder.
	Embedder Embedder

	// ChunkSize and Overlap configure the chunker, in bytes.
	ChunkSize int
	Overlap   int
}

// Manager is the top-level entry point: it owns the registry, the
// document catalog, and the ingest pipeline, and adds duplicate
// detection and hybrid search on top.
type Manager struct {
	registry *Registry
	catalog  *Catalog
	pipeline *Pipeline
	embedder Embedder
}

// NewManager creates a manager rooted at cfg.DataDir.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.Embedder == nil {
		cfg.Embedder = NewNoopEmbedder(384)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = DefaultChunkOverlap
	}

	chunker, err := NewChunker(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg.DataDir, cfg.Embedder.Dimension())
	if err != nil {
		return nil, err
	}

	catalog, err := OpenCatalog(ctx, filepath.Join(cfg.DataDir, "catalog.db"))
	if err != nil {
		registry.Close()
		return nil, err
	}

	log.Printf("📦 Corpus manager ready (data dir: %s, dimension: %d)", cfg.DataDir, cfg.Embedder.Dimension())
	return &Manager{
		registry: registry,
		catalog:  catalog,
		pipeline: NewPipeline(registry, cfg.Embedder, chunker),
		embedder: cfg.Embedder,
	}, nil
}

// Default chunker configuration.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// IngestText indexes one document's extracted text into a workspace.
// A document whose content hash already exists in the workspace is
// skipped. Returns the assigned file ID alongside the result.
func (m *Manager) IngestText(ctx context.Context, workspaceID, filename, text string) (string, IngestResult, error) {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	existing, err := m.catalog.FindByHash(ctx, workspaceID, hash)
	if err != nil {
		return "", IngestResult{Status: StatusError, Reason: "catalog lookup failed"}, err
	}
	if existing != nil {
		log.Printf("⏭️  Skipping %s: identical content already indexed as %s", filename, existing.Filename)
		return existing.FileID, IngestResult{
			Status:        StatusSkipped,
			Reason:        fmt.Sprintf("duplicate of %s", existing.Filename),
			ChunksCreated: existing.ChunkCount,
		}, nil
	}

	fileID := uuid.New().String()
	doc := Document{
		FileID:      fileID,
		WorkspaceID: workspaceID,
		Filename:    filename,
		Hash:        hash,
		SizeBytes:   int64(len(text)),
	}
	if err := m.catalog.Insert(ctx, doc); err != nil {
		return "", IngestResult{Status: StatusError, Reason: "catalog insert failed"}, err
	}

	result, err := m.pipeline.Ingest(ctx, IngestRequest{
		FileID:      fileID,
		Filename:    filename,
		WorkspaceID: workspaceID,
		Text:        text,
	})
	if result.Status != StatusProcessed {
		if markErr := m.catalog.MarkFailed(ctx, fileID, result.Reason); markErr != nil {
			log.Printf("⚠️  Failed to record ingest failure for %s: %v", fileID, markErr)
		}
		if err != nil {
			log.Printf("❌ Ingest failed for %s: %v", filename, err)
		} else {
			log.Printf("⚠️  Nothing to index in %s: %s", filename, result.Reason)
		}
		return fileID, result, err
	}

	if err := m.catalog.MarkIndexed(ctx, fileID, result.ChunksCreated); err != nil {
		log.Printf("⚠️  Failed to record ingest success for %s: %v", fileID, err)
	}
	log.Printf("✅ Indexed %s: %d chunks, %d chars (workspace %s now holds %d)",
		filename, result.ChunksCreated, result.TotalCharacters, workspaceID, result.IndexSize)
	return fileID, result, nil
}

// DeleteDocument removes a document from its workspace indexes and the
// catalog. Returns the number of chunks removed.
func (m *Manager) DeleteDocument(ctx context.Context, fileID string) (int, error) {
	doc, err := m.catalog.Get(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, fmt.Errorf("document %s not found", fileID)
	}

	ws, err := m.registry.Get(doc.WorkspaceID)
	if err != nil {
		return 0, err
	}
	removed, err := ws.DeleteFile(fileID)
	if err != nil {
		return removed, err
	}
	if err := m.catalog.Delete(ctx, fileID); err != nil {
		return removed, err
	}

	log.Printf("🗑️  Deleted %s (%d chunks) from workspace %s", doc.Filename, removed, doc.WorkspaceID)
	return removed, nil
}

// Search runs a pure similarity search in a workspace.
func (m *Manager) Search(ctx context.Context, workspaceID, query string, topK int) ([]SearchResult, error) {
	return m.pipeline.Search(ctx, workspaceID, query, topK)
}

// SearchHybrid fuses vector and keyword retrieval with reciprocal rank
// fusion: each hit scores sum(1/(60+rank)) across the lists it appears
// in, so documents found by both retrievers rise.
func (m *Manager) SearchHybrid(ctx context.Context, workspaceID, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	ws, err := m.registry.Get(workspaceID)
	if err != nil {
		return nil, err
	}

	vecResults, err := m.pipeline.Search(ctx, workspaceID, query, hybridCandidates)
	if err != nil {
		return nil, err
	}
	kwHits, err := ws.SearchKeyword(query, hybridCandidates)
	if err != nil {
		log.Printf("⚠️  Keyword search failed, falling back to vector-only: %v", err)
		kwHits = nil
	}

	type fused struct {
		record Record
		score  float64
	}
	byID := make(map[string]*fused)

	for _, r := range vecResults {
		id := keywordDocID(r.Record.FileID, r.Record.ChunkIndex)
		byID[id] = &fused{record: r.Record, score: 1.0 / float64(rrfK+r.Rank)}
	}
	for rank, hit := range kwHits {
		contribution := 1.0 / float64(rrfK+rank+1)
		if f, ok := byID[hit.ID]; ok {
			f.score += contribution
			continue
		}
		rec, ok := ws.Record(hit.FileID, hit.ChunkIndex)
		if !ok {
			continue // keyword index lagging behind a delete
		}
		byID[hit.ID] = &fused{record: rec, score: contribution}
	}

	all := make([]fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, *f)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].score > all[j].score
	})

	if topK > len(all) {
		topK = len(all)
	}
	results := make([]SearchResult, topK)
	for i := 0; i < topK; i++ {
		results[i] = SearchResult{Record: all[i].record, Score: all[i].score, Rank: i + 1}
	}
	return results, nil
}

// ListDocuments returns the catalog entries for a workspace.
func (m *Manager) ListDocuments(ctx context.Context, workspaceID string) ([]Document, error) {
	return m.catalog.List(ctx, workspaceID)
}

// Count returns the number of indexed chunks in a workspace.
func (m *Manager) Count(workspaceID string) (int, error) {
	ws, err := m.registry.Get(workspaceID)
	if err != nil {
		return 0, err
	}
	return ws.Count(), nil
}

// Close releases the registry and catalog.
func (m *Manager) Close() error {
	regErr := m.registry.Close()
	catErr := m.catalog.Close()
	if regErr != nil {
		return regErr
	}
	return catErr
}
