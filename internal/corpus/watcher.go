package corpus

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
)

// ignoreFile holds extra ignore patterns inside a watched drop folder,
// one gitignore-style pattern per line.
const ignoreFile = ".cairnignore"

// defaultIgnorePatterns filter editor and OS junk out of drop folders.
var defaultIgnorePatterns = []string{
	".*",
	"*~",
	"*.tmp",
	"*.swp",
}

// textExtensions lists the file types the watcher ingests.
var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// DropWatcher watches a drop folder and ingests text files placed in
// it into one workspace. Events are debounced so a file still being
// written lands once, after it settles.
type DropWatcher struct {
	dir         string
	workspaceID string
	manager     *Manager
	watcher     *fsnotify.Watcher
	ignorer     *ignore.GitIgnore

	debounce time.Duration
	mu       sync.Mutex
	pending  map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDropWatcher creates a watcher over dir that ingests into
// workspaceID via manager.
func NewDropWatcher(dir, workspaceID string, manager *Manager) (*DropWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	patterns := append([]string{}, defaultIgnorePatterns...)
	if data, err := os.ReadFile(filepath.Join(dir, ignoreFile)); err == nil {
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DropWatcher{
		dir:         dir,
		workspaceID: workspaceID,
		manager:     manager,
		watcher:     watcher,
		ignorer:     ignore.CompileIgnoreLines(patterns...),
		debounce:    500 * time.Millisecond,
		pending:     make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching. Files already present in the folder are
// ingested first.
func (dw *DropWatcher) Start() error {
	if err := os.MkdirAll(dw.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create drop folder: %w", err)
	}
	if err := dw.watcher.Add(dw.dir); err != nil {
		return fmt.Errorf("failed to watch drop folder: %w", err)
	}

	entries, err := os.ReadDir(dw.dir)
	if err != nil {
		return fmt.Errorf("failed to read drop folder: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if dw.shouldIngest(entry.Name()) {
			dw.ingestFile(entry.Name())
		}
	}

	dw.wg.Add(2)
	go dw.eventLoop()
	go dw.debounceLoop()

	log.Printf("👀 Watching drop folder %s (workspace %s)", dw.dir, dw.workspaceID)
	return nil
}

// Stop stops the watcher and waits for in-flight work.
func (dw *DropWatcher) Stop() error {
	dw.cancel()
	dw.wg.Wait()
	return dw.watcher.Close()
}

// shouldIngest reports whether a file name is a text file that is not
// ignored.
func (dw *DropWatcher) shouldIngest(name string) bool {
	if dw.ignorer.MatchesPath(name) {
		return false
	}
	return textExtensions[strings.ToLower(filepath.Ext(name))]
}

// eventLoop receives filesystem events and queues candidate files.
func (dw *DropWatcher) eventLoop() {
	defer dw.wg.Done()

	for {
		select {
		case <-dw.ctx.Done():
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if !dw.shouldIngest(name) {
				continue
			}
			dw.mu.Lock()
			dw.pending[name] = true
			dw.mu.Unlock()

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Watcher error: %v", err)
		}
	}
}

// debounceLoop flushes pending files on a fixed interval.
func (dw *DropWatcher) debounceLoop() {
	defer dw.wg.Done()

	ticker := time.NewTicker(dw.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-dw.ctx.Done():
			return
		case <-ticker.C:
			dw.processPending()
		}
	}
}

// processPending ingests every file collected since the last tick.
func (dw *DropWatcher) processPending() {
	dw.mu.Lock()
	if len(dw.pending) == 0 {
		dw.mu.Unlock()
		return
	}
	names := make([]string, 0, len(dw.pending))
	for name := range dw.pending {
		names = append(names, name)
	}
	dw.pending = make(map[string]bool)
	dw.mu.Unlock()

	for _, name := range names {
		dw.ingestFile(name)
	}
}

// ingestFile reads one drop-folder file and hands it to the manager.
// Duplicate content is skipped by the manager's hash check, so a
// re-triggered event for an unchanged file is harmless.
func (dw *DropWatcher) ingestFile(name string) {
	path := filepath.Join(dw.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("⚠️  Failed to read %s: %v", path, err)
		return
	}

	if _, _, err := dw.manager.IngestText(dw.ctx, dw.workspaceID, name, string(data)); err != nil {
		log.Printf("❌ Failed to ingest %s: %v", name, err)
	}
}
