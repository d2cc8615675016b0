package corpus

import (
	"context"
	"fmt"
	"time"
)

// Ingest outcome statuses.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

// IngestRequest describes one document to index. Text is the already
// extracted plain text; extraction itself happens upstream.
type IngestRequest struct {
	FileID      string
	Filename    string
	WorkspaceID string
	Text        string
}

// IngestResult reports what one ingest did.
type IngestResult struct {
	Status          string
	Reason          string
	ChunksCreated   int
	TotalCharacters int
	IndexSize       int
}

// Pipeline chunks, embeds, and indexes documents. A document either
// lands fully in its workspace or not at all; there are no partial
// commits.
type Pipeline struct {
	registry *Registry
	embedder Embedder
	chunker  *Chunker
}

// NewPipeline wires a pipeline over a registry.
func NewPipeline(registry *Registry, embedder Embedder, chunker *Chunker) *Pipeline {
	return &Pipeline{
		registry: registry,
		embedder: embedder,
		chunker:  chunker,
	}
}

// Ingest processes one document end to end. Content problems (nothing
// to index after chunking) come back as a Status of "error" with a nil
// error; infrastructure failures return a non-nil error alongside the
// error result.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	chunks := p.chunker.Split(req.Text)
	if len(chunks) == 0 {
		return IngestResult{Status: StatusError, Reason: "no content"}, nil
	}

	texts := make([]string, len(chunks))
	totalChars := 0
	for i, c := range chunks {
		texts[i] = c.Text
		totalChars += len(c.Text)
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return IngestResult{Status: StatusError, Reason: "embedding failed"},
			fmt.Errorf("failed to embed %s: %w", req.Filename, err)
	}
	if len(vectors) != len(chunks) {
		return IngestResult{Status: StatusError, Reason: "embedding count mismatch"},
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	now := time.Now().UTC()
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			FileID:      req.FileID,
			Filename:    req.Filename,
			WorkspaceID: req.WorkspaceID,
			ChunkIndex:  c.Index,
			Start:       c.Start,
			End:         c.End,
			Text:        c.Text,
			CreatedAt:   now,
		}
	}

	ws, err := p.registry.Get(req.WorkspaceID)
	if err != nil {
		return IngestResult{Status: StatusError, Reason: "workspace unavailable"},
			fmt.Errorf("failed to open workspace %s: %w", req.WorkspaceID, err)
	}
	if err := ws.Add(vectors, records); err != nil {
		return IngestResult{Status: StatusError, Reason: "indexing failed"},
			fmt.Errorf("failed to index %s: %w", req.Filename, err)
	}

	return IngestResult{
		Status:          StatusProcessed,
		ChunksCreated:   len(chunks),
		TotalCharacters: totalChars,
		IndexSize:       ws.Count(),
	}, nil
}

// Search embeds the query and runs a similarity search in the
// workspace.
func (p *Pipeline) Search(ctx context.Context, workspaceID, query string, topK int) ([]SearchResult, error) {
	vectors, err := p.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	ws, err := p.registry.Get(workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.Search(vectors[0], topK)
}
