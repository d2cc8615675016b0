package corpus

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace pairs one vector index with its keyword index and guards
// both with a single lock: writers are exclusive, readers share. All
// access goes through these methods so the two indexes never drift
// apart under concurrency.
type Workspace struct {
	ID string

	mu      sync.RWMutex
	index   *VectorIndex
	keyword *KeywordIndex
}

// Add commits vectors, records, and keyword documents as one exclusive
// write. The vector index persists first; if that fails nothing is
// indexed. The keyword index is best effort: hybrid search degrades to
// vector-only if it lags, so a keyword failure is logged, not fatal.
func (w *Workspace) Add(vectors [][]float32, records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.index.Add(vectors, records); err != nil {
		return err
	}
	if w.keyword != nil {
		if err := w.keyword.IndexRecords(records); err != nil {
			log.Printf("⚠️  Keyword indexing failed in workspace %s: %v", w.ID, err)
		}
	}
	return nil
}

// Search runs a similarity query under a shared lock.
func (w *Workspace) Search(query []float32, topK int) ([]SearchResult, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.index.Search(query, topK)
}

// SearchKeyword runs a BM25 query under a shared lock.
func (w *Workspace) SearchKeyword(query string, topK int) ([]KeywordHit, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.keyword == nil {
		return []KeywordHit{}, nil
	}
	return w.keyword.Search(query, topK)
}

// DeleteFile removes every record belonging to fileID from both
// indexes and returns how many were removed.
func (w *Workspace) DeleteFile(fileID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ordinals []int
	var docIDs []string
	for i, rec := range w.index.records {
		if rec.FileID == fileID {
			ordinals = append(ordinals, i)
			docIDs = append(docIDs, keywordDocID(rec.FileID, rec.ChunkIndex))
		}
	}
	if len(ordinals) == 0 {
		return 0, nil
	}

	if err := w.index.Delete(ordinals); err != nil {
		return 0, err
	}
	if w.keyword != nil {
		if err := w.keyword.Delete(docIDs); err != nil {
			log.Printf("⚠️  Keyword deletion failed in workspace %s: %v", w.ID, err)
		}
	}
	return len(ordinals), nil
}

// Count returns the number of live records.
func (w *Workspace) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.index.Count()
}

// Record looks up the record for a file chunk, for resolving keyword
// hits back to full metadata.
func (w *Workspace) Record(fileID string, chunkIndex int) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, rec := range w.index.records {
		if rec.FileID == fileID && rec.ChunkIndex == chunkIndex {
			return rec, true
		}
	}
	return Record{}, false
}

// close releases the keyword index.
func (w *Workspace) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keyword == nil {
		return nil
	}
	err := w.keyword.Close()
	w.keyword = nil
	return err
}

// Registry owns all workspaces under one data root, opening each
// lazily on first use. Every workspace shares the registry's embedding
// dimension; a workspace persisted with a different dimension keeps
// its own.
type Registry struct {
	root string
	dim  int

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewRegistry creates a registry rooted at root for indexes of the
// given dimension.
func NewRegistry(root string, dimension int) (*Registry, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if err := os.MkdirAll(filepath.Join(root, "workspaces"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry root: %w", err)
	}
	return &Registry{
		root:       root,
		dim:        dimension,
		workspaces: make(map[string]*Workspace),
	}, nil
}

// Get returns the workspace for id, opening its persisted state on
// first access. A workspace whose artifacts fail to load is isolated:
// the failure is logged and the workspace starts empty rather than
// poisoning the rest of the registry.
func (r *Registry) Get(id string) (*Workspace, error) {
	if err := validateWorkspaceID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ws, ok := r.workspaces[id]; ok {
		return ws, nil
	}

	dir := filepath.Join(r.root, "workspaces", id)
	index, err := OpenVectorIndex(dir, r.dim)
	if err != nil {
		log.Printf("⚠️  Workspace %s failed to load (%v), starting empty", id, err)
		index = &VectorIndex{dir: dir, dim: r.dim}
	}

	kw, err := OpenKeywordIndex(filepath.Join(dir, "keyword.bleve"))
	if err != nil {
		log.Printf("⚠️  Keyword index for workspace %s unavailable: %v", id, err)
		kw = nil
	}

	ws := &Workspace{ID: id, index: index, keyword: kw}
	r.workspaces[id] = ws
	return ws, nil
}

// Close releases every open workspace.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, ws := range r.workspaces {
		if err := ws.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close workspace %s: %w", id, err)
		}
	}
	r.workspaces = make(map[string]*Workspace)
	return firstErr
}

// validateWorkspaceID rejects IDs that would escape the workspaces
// directory or collide with path syntax.
func validateWorkspaceID(id string) error {
	if id == "" {
		return fmt.Errorf("workspace ID must not be empty")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("invalid workspace ID %q", id)
	}
	return nil
}
