package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(func() { registry.Close() })
	return registry
}

func TestRegistryRejectsBadWorkspaceIDs(t *testing.T) {
	registry := newTestRegistry(t)

	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := registry.Get(id); err == nil {
			t.Errorf("Get(%q) succeeded, want error", id)
		}
	}
}

func TestRegistryIsolatesWorkspaces(t *testing.T) {
	registry := newTestRegistry(t)

	wsA, err := registry.Get("alpha")
	if err != nil {
		t.Fatalf("Get(alpha) failed: %v", err)
	}
	wsB, err := registry.Get("beta")
	if err != nil {
		t.Fatalf("Get(beta) failed: %v", err)
	}

	if err := wsA.Add([][]float32{{1, 0, 0, 0}}, testRecords("f1", 1)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if wsA.Count() != 1 {
		t.Errorf("alpha holds %d records, want 1", wsA.Count())
	}
	if wsB.Count() != 0 {
		t.Errorf("beta holds %d records, want 0", wsB.Count())
	}

	results, err := wsB.Search([]float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("beta returned %d results from alpha's data", len(results))
	}
}

func TestRegistryReturnsSameWorkspace(t *testing.T) {
	registry := newTestRegistry(t)

	first, _ := registry.Get("ws")
	second, _ := registry.Get("ws")
	if first != second {
		t.Error("repeated Get returned different workspace instances")
	}
}

func TestRegistryCorruptWorkspaceStartsEmpty(t *testing.T) {
	root := t.TempDir()
	registry, err := NewRegistry(root, 4)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer registry.Close()

	// Plant a committed segment with a corrupt vectors file before
	// first access.
	dir := filepath.Join(root, "workspaces", "broken")
	segDir := filepath.Join(dir, "seg-1")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(segDir, vectorsFile), []byte("not a vector file"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, currentFile), []byte("seg-1"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ws, err := registry.Get("broken")
	if err != nil {
		t.Fatalf("corrupt workspace should open empty, got: %v", err)
	}
	if ws.Count() != 0 {
		t.Errorf("corrupt workspace holds %d records", ws.Count())
	}

	// And it stays usable.
	if err := ws.Add([][]float32{{1, 0, 0, 0}}, testRecords("f1", 1)); err != nil {
		t.Errorf("Add to recovered workspace failed: %v", err)
	}
}

func TestWorkspaceDeleteFile(t *testing.T) {
	registry := newTestRegistry(t)
	ws, _ := registry.Get("ws")

	vectors := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	records := append(testRecords("keep", 1), testRecords("drop", 2)...)
	if err := ws.Add(vectors, records); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	removed, err := ws.DeleteFile("drop")
	if err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d records, want 2", removed)
	}
	if ws.Count() != 1 {
		t.Errorf("workspace holds %d records, want 1", ws.Count())
	}

	results, err := ws.Search([]float32{0, 1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.Record.FileID == "drop" {
			t.Error("deleted file still returned from search")
		}
	}
}

func TestWorkspaceDeleteUnknownFile(t *testing.T) {
	registry := newTestRegistry(t)
	ws, _ := registry.Get("ws")

	removed, err := ws.DeleteFile("missing")
	if err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed %d records from empty workspace", removed)
	}
}

func TestWorkspaceConcurrentReadersAndWriters(t *testing.T) {
	registry := newTestRegistry(t)
	ws, _ := registry.Get("ws")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			fileID := fmt.Sprintf("f%d", n)
			err := ws.Add([][]float32{{1, 0, 0, float32(n)}}, testRecords(fileID, 1))
			if err != nil {
				t.Errorf("concurrent Add failed: %v", err)
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ws.Search([]float32{1, 0, 0, 0}, 3); err != nil {
				t.Errorf("concurrent Search failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if ws.Count() != 4 {
		t.Errorf("workspace holds %d records after 4 adds", ws.Count())
	}
}

func TestWorkspaceSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	registry, err := NewRegistry(root, 4)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	ws, _ := registry.Get("ws")
	if err := ws.Add([][]float32{{1, 0, 0, 0}}, testRecords("f1", 1)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	registry2, err := NewRegistry(root, 4)
	if err != nil {
		t.Fatalf("second NewRegistry failed: %v", err)
	}
	defer registry2.Close()

	ws2, err := registry2.Get("ws")
	if err != nil {
		t.Fatalf("Get after restart failed: %v", err)
	}
	if ws2.Count() != 1 {
		t.Errorf("restarted workspace holds %d records, want 1", ws2.Count())
	}
}
