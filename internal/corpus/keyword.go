package corpus

import (
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// KeywordHit is one BM25 keyword match.
type KeywordHit struct {
	ID         string
	Score      float64
	FileID     string
	ChunkIndex int
}

// KeywordIndex provides BM25 keyword search over chunk text. Document
// IDs are "<file_id>:<chunk_index>", which stay stable across vector
// index rebuilds.
type KeywordIndex struct {
	index bleve.Index
	path  string
}

// OpenKeywordIndex creates or opens the keyword index at path.
// A corrupted index is deleted and recreated.
func OpenKeywordIndex(path string) (*KeywordIndex, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildKeywordMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create keyword index: %w", err)
		}
	} else if err != nil {
		log.Printf("⚠️  Keyword index appears corrupted (error: %v), recreating...", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted keyword index: %w", err)
		}
		index, err = bleve.New(path, buildKeywordMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate keyword index: %w", err)
		}
	}

	return &KeywordIndex{index: index, path: path}, nil
}

// buildKeywordMapping creates the index mapping for chunk documents.
func buildKeywordMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()

	// Stored identity fields, not analyzed.
	fileIDField := bleve.NewTextFieldMapping()
	fileIDField.Analyzer = keyword.Name
	fileIDField.Store = true
	fileIDField.Index = true
	chunkMapping.AddFieldMappingsAt("file_id", fileIDField)

	filenameField := bleve.NewTextFieldMapping()
	filenameField.Analyzer = keyword.Name
	filenameField.Store = true
	filenameField.Index = true
	chunkMapping.AddFieldMappingsAt("filename", filenameField)

	chunkIndexField := bleve.NewNumericFieldMapping()
	chunkIndexField.Store = true
	chunkIndexField.Index = true
	chunkMapping.AddFieldMappingsAt("chunk_index", chunkIndexField)

	// Searchable text, analyzed but not stored.
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	textField.Index = true
	chunkMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = chunkMapping
	return indexMapping
}

// keywordDocID builds the stable bleve document ID for a record.
func keywordDocID(fileID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", fileID, chunkIndex)
}

// IndexRecords adds records to the keyword index in one batch.
func (k *KeywordIndex) IndexRecords(records []Record) error {
	batch := k.index.NewBatch()
	for _, rec := range records {
		doc := map[string]interface{}{
			"file_id":     rec.FileID,
			"filename":    rec.Filename,
			"chunk_index": rec.ChunkIndex,
			"text":        rec.Text,
		}
		if err := batch.Index(keywordDocID(rec.FileID, rec.ChunkIndex), doc); err != nil {
			return fmt.Errorf("failed to add record %s to batch: %w", keywordDocID(rec.FileID, rec.ChunkIndex), err)
		}
	}
	return k.index.Batch(batch)
}

// Delete removes documents by ID in one batch.
func (k *KeywordIndex) Delete(ids []string) error {
	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return k.index.Batch(batch)
}

// Search performs a BM25 match query and returns up to topK hits.
func (k *KeywordIndex) Search(query string, topK int) ([]KeywordHit, error) {
	if topK <= 0 {
		return []KeywordHit{}, nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = topK
	req.Fields = []string{"file_id", "chunk_index"}

	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := KeywordHit{ID: hit.ID, Score: hit.Score}
		if fileID, ok := hit.Fields["file_id"].(string); ok {
			h.FileID = fileID
		}
		if idx, ok := hit.Fields["chunk_index"].(float64); ok {
			h.ChunkIndex = int(idx)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close closes the underlying bleve index.
func (k *KeywordIndex) Close() error {
	return k.index.Close()
}
