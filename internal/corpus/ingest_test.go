package corpus

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
)

// fakeEmbedder produces deterministic vectors from a hash of each
// text, so similar strings map to identical vectors and distinct
// strings rarely collide.
type fakeEmbedder struct {
	dim  int
	fail error
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim}
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(sum[j%len(sum)]) - 128
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func newTestPipeline(t *testing.T) (*Pipeline, *Registry) {
	t.Helper()
	registry, err := NewRegistry(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	chunker, err := NewChunker(100, 20)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}
	return NewPipeline(registry, newFakeEmbedder(8), chunker), registry
}

func TestIngestSuccess(t *testing.T) {
	p, registry := newTestPipeline(t)
	ctx := context.Background()

	text := strings.Repeat("The cairn marks the summit trail. ", 10)
	result, err := p.Ingest(ctx, IngestRequest{
		FileID:      "f1",
		Filename:    "trail.txt",
		WorkspaceID: "ws1",
		Text:        text,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Status != StatusProcessed {
		t.Fatalf("status is %q, want %q (reason: %s)", result.Status, StatusProcessed, result.Reason)
	}
	if result.ChunksCreated == 0 {
		t.Error("no chunks created")
	}
	if result.TotalCharacters == 0 || result.TotalCharacters > len(text)*2 {
		t.Errorf("total characters is %d for a %d-char document", result.TotalCharacters, len(text))
	}

	ws, err := registry.Get("ws1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ws.Count() != result.ChunksCreated {
		t.Errorf("workspace holds %d records, result reported %d", ws.Count(), result.ChunksCreated)
	}
	if result.IndexSize != ws.Count() {
		t.Errorf("IndexSize is %d, workspace holds %d", result.IndexSize, ws.Count())
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	p, _ := newTestPipeline(t)

	result, err := p.Ingest(context.Background(), IngestRequest{
		FileID:      "f1",
		Filename:    "empty.txt",
		WorkspaceID: "ws1",
		Text:        "   \n  ",
	})
	if err != nil {
		t.Fatalf("empty document should not return an error, got: %v", err)
	}
	if result.Status != StatusError {
		t.Errorf("status is %q, want %q", result.Status, StatusError)
	}
	if result.Reason != "no content" {
		t.Errorf("reason is %q", result.Reason)
	}
}

func TestIngestEmbeddingFailureCommitsNothing(t *testing.T) {
	registry, err := NewRegistry(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer registry.Close()

	embedder := newFakeEmbedder(8)
	embedder.fail = errors.New("provider down")
	chunker, _ := NewChunker(100, 20)
	p := NewPipeline(registry, embedder, chunker)

	result, err := p.Ingest(context.Background(), IngestRequest{
		FileID:      "f1",
		Filename:    "doc.txt",
		WorkspaceID: "ws1",
		Text:        "some real content to index",
	})
	if err == nil {
		t.Fatal("expected error from failed embedding")
	}
	if result.Status != StatusError {
		t.Errorf("status is %q, want %q", result.Status, StatusError)
	}

	ws, _ := registry.Get("ws1")
	if ws.Count() != 0 {
		t.Errorf("failed ingest left %d records in the workspace", ws.Count())
	}
}

func TestIngestDimensionMismatchCommitsNothing(t *testing.T) {
	registry, err := NewRegistry(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer registry.Close()

	// Embedder dimension disagrees with the registry.
	chunker, _ := NewChunker(100, 20)
	p := NewPipeline(registry, newFakeEmbedder(4), chunker)

	result, err := p.Ingest(context.Background(), IngestRequest{
		FileID:      "f1",
		Filename:    "doc.txt",
		WorkspaceID: "ws1",
		Text:        "content that will embed at the wrong dimension",
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if result.Status != StatusError {
		t.Errorf("status is %q, want %q", result.Status, StatusError)
	}

	ws, _ := registry.Get("ws1")
	if ws.Count() != 0 {
		t.Errorf("failed ingest left %d records", ws.Count())
	}
}

func TestSearchFindsIngestedContent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	docs := map[string]string{
		"alpha.txt": "Alpine cairns guide hikers across granite fields.",
		"beta.txt":  "Sourdough bread needs a mature and active starter.",
	}
	for name, text := range docs {
		result, err := p.Ingest(ctx, IngestRequest{
			FileID:      name,
			Filename:    name,
			WorkspaceID: "ws1",
			Text:        text,
		})
		if err != nil || result.Status != StatusProcessed {
			t.Fatalf("ingest of %s failed: %v (%s)", name, err, result.Reason)
		}
	}

	// The fake embedder maps identical text to identical vectors, so
	// searching with a document's exact text must rank it first.
	results, err := p.Search(ctx, "ws1", docs["alpha.txt"], 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Record.Filename != "alpha.txt" {
		t.Errorf("top result is %s, want alpha.txt", results[0].Record.Filename)
	}
}

func TestIngestLargeDocumentChunkCount(t *testing.T) {
	registry, err := NewRegistry(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer registry.Close()

	chunker, _ := NewChunker(1000, 200)
	p := NewPipeline(registry, newFakeEmbedder(8), chunker)

	// 2500 chars with no early boundaries: windows land at
	// [0,1000), [800,1800), [1600,2500).
	text := strings.Repeat("x", 2500)
	result, err := p.Ingest(context.Background(), IngestRequest{
		FileID:      "big",
		Filename:    "big.txt",
		WorkspaceID: "ws1",
		Text:        text,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.ChunksCreated != 3 {
		t.Errorf("created %d chunks, want 3", result.ChunksCreated)
	}
	if result.IndexSize != 3 {
		t.Errorf("index size is %d, want 3", result.IndexSize)
	}
}

func TestSearchUnknownWorkspaceIsEmpty(t *testing.T) {
	p, _ := newTestPipeline(t)

	results, err := p.Search(context.Background(), "never-used", "anything", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("unknown workspace returned %d results", len(results))
	}
}
