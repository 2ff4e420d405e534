package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// EmbeddedDocument is a document held by the embedded collection index.
type EmbeddedDocument struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type embeddedCollection struct {
	info  CollectionInfo
	index bleve.Index
	docs  map[string]EmbeddedDocument
}

// EmbeddedCollections is an in-process CollectionSearcher backed by one
// mem-only BM25 index per collection. It stands in for the platform API in
// tests and self-contained runs. BM25 scores are normalized against the top
// hit so similarity stays within (0,1].
type EmbeddedCollections struct {
	mu          sync.RWMutex
	collections map[string]*embeddedCollection
}

func NewEmbeddedCollections() *EmbeddedCollections {
	return &EmbeddedCollections{collections: make(map[string]*embeddedCollection)}
}

// AddCollection creates an empty collection. Adding an existing ID is a no-op.
func (e *EmbeddedCollections) AddCollection(id, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.collections[id]; ok {
		return nil
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("create index for %s: %w", id, err)
	}
	e.collections[id] = &embeddedCollection{
		info:  CollectionInfo{ID: id, Name: name},
		index: index,
		docs:  make(map[string]EmbeddedDocument),
	}
	return nil
}

func (e *EmbeddedCollections) AddDocument(collectionID string, doc EmbeddedDocument) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	col, ok := e.collections[collectionID]
	if !ok {
		return fmt.Errorf("unknown collection %s", collectionID)
	}
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("%s-%d", collectionID, len(col.docs)+1)
	}
	col.docs[doc.ID] = doc
	col.info.Documents = len(col.docs)
	return col.index.Index(doc.ID, map[string]interface{}{"content": doc.Content})
}

// LoadDir ingests a documents directory: each subdirectory becomes a
// collection and each file inside it a document. JSON files may carry
// {"content": ..., "metadata": {...}}; anything else is indexed as plain text
// with the filename recorded in metadata.
func (e *EmbeddedCollections) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read embedded dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if err := e.AddCollection(id, id); err != nil {
			return err
		}
		files, err := os.ReadDir(filepath.Join(dir, id))
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			path := filepath.Join(dir, id, f.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			doc := EmbeddedDocument{
				ID:       f.Name(),
				Content:  string(raw),
				Metadata: map[string]interface{}{"filename": f.Name()},
			}
			if strings.HasSuffix(f.Name(), ".json") {
				var parsed EmbeddedDocument
				if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Content != "" {
					if parsed.ID == "" {
						parsed.ID = f.Name()
					}
					if parsed.Metadata == nil {
						parsed.Metadata = map[string]interface{}{"filename": f.Name()}
					}
					doc = parsed
				}
			}
			if err := e.AddDocument(id, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *EmbeddedCollections) SearchCollection(ctx context.Context, collectionID, query string, limit int) ([]CollectionHit, error) {
	e.mu.RLock()
	col, ok := e.collections[collectionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown collection %s", collectionID)
	}
	if limit <= 0 {
		limit = 10
	}

	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := col.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("collection %s search: %w", collectionID, err)
	}

	var out []CollectionHit
	var top float64
	for i, hit := range res.Hits {
		if i == 0 {
			top = hit.Score
		}
		doc := col.docs[hit.ID]
		similarity := 0.0
		if top > 0 {
			similarity = hit.Score / top
		}
		out = append(out, CollectionHit{
			ID:             hit.ID,
			Content:        doc.Content,
			Metadata:       doc.Metadata,
			Similarity:     similarity,
			CollectionID:   collectionID,
			CollectionName: col.info.Name,
		})
	}
	return out, nil
}

func (e *EmbeddedCollections) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]CollectionInfo, 0, len(e.collections))
	for _, col := range e.collections {
		out = append(out, col.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
