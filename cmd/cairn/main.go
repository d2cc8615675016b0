package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cairnlabs/cairn/internal/config"
	"github.com/cairnlabs/cairn/internal/corpus"
)

const usage = `cairn indexes documents into per-workspace vector indexes.

Usage:
  cairn ingest  -workspace <id> <file> [<file>...]
  cairn search  -workspace <id> [-k N] <query>
  cairn hybrid  -workspace <id> [-k N] <query>
  cairn delete  <file-id>
  cairn list    -workspace <id>
  cairn watch   [-dir <folder>] [-workspace <id>]
`

func main() {
	ctx := context.Background()

	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	mgr, err := newManager(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer mgr.Close()

	switch args[0] {
	case "ingest":
		err = runIngest(ctx, mgr, args[1:])
	case "search":
		err = runSearch(ctx, mgr, args[1:], false)
	case "hybrid":
		err = runSearch(ctx, mgr, args[1:], true)
	case "delete":
		err = runDelete(ctx, mgr, args[1:])
	case "list":
		err = runList(ctx, mgr, args[1:])
	case "watch":
		err = runWatch(mgr, cfg, args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

// newManager builds the corpus manager with the configured embedder.
func newManager(ctx context.Context, cfg *config.Config) (*corpus.Manager, error) {
	var embedder corpus.Embedder
	switch cfg.EmbeddingsProvider {
	case "openai":
		embedder = corpus.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIEmbeddingsModel, cfg.EmbeddingDimensions)
	case "gemini":
		embedder = corpus.NewGeminiEmbedder(cfg.GeminiAPIKey, cfg.GeminiEmbeddingsModel, cfg.EmbeddingDimensions)
	default:
		dim := cfg.EmbeddingDimensions
		if dim == 0 {
			dim = 384
		}
		embedder = corpus.NewNoopEmbedder(dim)
	}

	return corpus.NewManager(ctx, corpus.ManagerConfig{
		DataDir:   cfg.DataDir,
		Embedder:  embedder,
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
	})
}

func runIngest(ctx context.Context, mgr *corpus.Manager, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	workspace := fs.String("workspace", "default", "Workspace to ingest into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		fileID, result, err := mgr.IngestText(ctx, *workspace, filepath.Base(path), string(data))
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s  %s  chunks=%d\n", result.Status, fileID, path, result.ChunksCreated)
	}
	return nil
}

func runSearch(ctx context.Context, mgr *corpus.Manager, args []string, hybrid bool) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	workspace := fs.String("workspace", "default", "Workspace to search")
	topK := fs.Int("k", 5, "Number of results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one query is required")
	}
	query := fs.Arg(0)

	var results []corpus.SearchResult
	var err error
	if hybrid {
		results, err = mgr.SearchHybrid(ctx, *workspace, query, *topK)
	} else {
		results, err = mgr.Search(ctx, *workspace, query, *topK)
	}
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%2d. [%.4f] %s #%d\n    %s\n", r.Rank, r.Score, r.Record.Filename, r.Record.ChunkIndex, snippet(r.Record.Text, 160))
	}
	return nil
}

func runDelete(ctx context.Context, mgr *corpus.Manager, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("exactly one file ID is required")
	}
	removed, err := mgr.DeleteDocument(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d chunks\n", removed)
	return nil
}

func runList(ctx context.Context, mgr *corpus.Manager, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	workspace := fs.String("workspace", "default", "Workspace to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	docs, err := mgr.ListDocuments(ctx, *workspace)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("no documents")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%s  %-10s  chunks=%-4d  %s\n", doc.FileID, doc.Status, doc.ChunkCount, doc.Filename)
	}
	return nil
}

func runWatch(mgr *corpus.Manager, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := fs.String("dir", cfg.WatchDir, "Drop folder to watch")
	workspace := fs.String("workspace", cfg.WatchWorkspace, "Workspace to ingest into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("a drop folder is required (set -dir or CAIRN_WATCH_DIR)")
	}

	watcher, err := corpus.NewDropWatcher(*dir, *workspace, mgr)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 Shutting down watcher...")
	return watcher.Stop()
}

// snippet truncates text for one-line display.
func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
