package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Document is one catalog row tracking an ingested file.
type Document struct {
	FileID      string
	WorkspaceID string
	Filename    string
	Hash        string
	SizeBytes   int64
	ChunkCount  int
	Status      string
	IndexError  string
	CreatedAt   int64
}

// Catalog tracks ingested documents in SQLite: which files exist per
// workspace, their content hash for duplicate detection, and their
// indexing outcome.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog database at dbPath.
func OpenCatalog(ctx context.Context, dbPath string) (*Catalog, error) {
	// WAL mode allows readers alongside the single writer.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// SQLite doesn't support multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// initSchema creates the catalog tables if they don't exist.
func (c *Catalog) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		file_id      TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		filename     TEXT NOT NULL,
		hash         TEXT NOT NULL,
		size_bytes   INTEGER NOT NULL,
		chunk_count  INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'pending',
		index_error  TEXT,
		created_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_workspace
		ON documents(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_documents_hash
		ON documents(workspace_id, hash);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// Insert records a new document in pending state.
func (c *Catalog) Insert(ctx context.Context, doc Document) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (file_id, workspace_id, filename, hash, size_bytes, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
		doc.FileID, doc.WorkspaceID, doc.Filename, doc.Hash, doc.SizeBytes, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.FileID, err)
	}
	return nil
}

// MarkIndexed records a successful ingest.
func (c *Catalog) MarkIndexed(ctx context.Context, fileID string, chunkCount int) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE documents SET status = 'indexed', chunk_count = ?, index_error = NULL
		WHERE file_id = ?`,
		chunkCount, fileID)
	if err != nil {
		return fmt.Errorf("failed to mark document %s indexed: %w", fileID, err)
	}
	return nil
}

// MarkFailed records an ingest failure with its reason.
func (c *Catalog) MarkFailed(ctx context.Context, fileID, reason string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE documents SET status = 'failed', index_error = ?
		WHERE file_id = ?`,
		reason, fileID)
	if err != nil {
		return fmt.Errorf("failed to mark document %s failed: %w", fileID, err)
	}
	return nil
}

// FindByHash returns the indexed document with the given content hash
// in a workspace, or nil if none exists.
func (c *Catalog) FindByHash(ctx context.Context, workspaceID, hash string) (*Document, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT file_id, workspace_id, filename, hash, size_bytes, chunk_count, status, COALESCE(index_error, ''), created_at
		FROM documents
		WHERE workspace_id = ? AND hash = ? AND status = 'indexed'
		LIMIT 1`,
		workspaceID, hash)

	var doc Document
	err := row.Scan(&doc.FileID, &doc.WorkspaceID, &doc.Filename, &doc.Hash,
		&doc.SizeBytes, &doc.ChunkCount, &doc.Status, &doc.IndexError, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document by hash: %w", err)
	}
	return &doc, nil
}

// Get returns one document by file ID, or nil if absent.
func (c *Catalog) Get(ctx context.Context, fileID string) (*Document, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT file_id, workspace_id, filename, hash, size_bytes, chunk_count, status, COALESCE(index_error, ''), created_at
		FROM documents
		WHERE file_id = ?`,
		fileID)

	var doc Document
	err := row.Scan(&doc.FileID, &doc.WorkspaceID, &doc.Filename, &doc.Hash,
		&doc.SizeBytes, &doc.ChunkCount, &doc.Status, &doc.IndexError, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document %s: %w", fileID, err)
	}
	return &doc, nil
}

// List returns all documents in a workspace, newest first.
func (c *Catalog) List(ctx context.Context, workspaceID string) ([]Document, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT file_id, workspace_id, filename, hash, size_bytes, chunk_count, status, COALESCE(index_error, ''), created_at
		FROM documents
		WHERE workspace_id = ?
		ORDER BY created_at DESC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.FileID, &doc.WorkspaceID, &doc.Filename, &doc.Hash,
			&doc.SizeBytes, &doc.ChunkCount, &doc.Status, &doc.IndexError, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a document row.
func (c *Catalog) Delete(ctx context.Context, fileID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", fileID, err)
	}
	return nil
}
