// Package knowledge answers retrieval lookups from an embedded document
// collection so replies can cite business-specific facts.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ziadkadry99/chatpilot/internal/embeddings"
)

const (
	collectionName = "knowledge"
	exportFile     = "knowledge.gob.gz"
)

// Document is one chunk of a knowledge source file.
type Document struct {
	ID      string
	Source  string
	Content string
}

// Result is a matching document with its similarity score.
type Result struct {
	Document   Document
	Similarity float32
}

// Options tunes lookups.
type Options struct {
	Results       int
	MinSimilarity float32
}

// Store is an in-memory chromem collection that can be exported to disk.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
	opts       Options
}

// NewStore creates an empty store.
func NewStore(embedder embeddings.Embedder, opts Options) (*Store, error) {
	if opts.Results <= 0 {
		opts.Results = 3
	}
	db := chromem.NewDB()
	ef := embeddings.ChromemFunc(embedder)
	col, err := db.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Store{db: db, collection: col, embedFunc: ef, opts: opts}, nil
}

// Add stores documents, replacing any with the same ID.
func (s *Store) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	chromDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		chromDocs[i] = chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: map[string]string{"source": d.Source},
		}
	}
	return s.collection.AddDocuments(ctx, chromDocs, 4)
}

// Search returns up to limit documents ordered by similarity.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]Result, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem-go requires nResults <= collection size.
	limit = min(max(limit, 1), count)

	res, err := s.collection.Query(ctx, text, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]Result, 0, len(res))
	for _, r := range res {
		out = append(out, Result{
			Document:   Document{ID: r.ID, Source: r.Metadata["source"], Content: r.Content},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Query returns the matching snippets joined as context for the model, or
// an empty string when nothing is similar enough.
func (s *Store) Query(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	results, err := s.Search(ctx, text, s.opts.Results)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, r := range results {
		if r.Similarity < s.opts.MinSimilarity {
			continue
		}
		parts = append(parts, r.Document.Content)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "Relevant information from the knowledge base:\n\n" + strings.Join(parts, "\n\n---\n\n"), nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Save exports the collection into dir.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}
	if err := s.db.ExportToFile(filepath.Join(dir, exportFile), true, ""); err != nil {
		return fmt.Errorf("export knowledge: %w", err)
	}
	return nil
}

// Load imports a collection previously written by Save.
func (s *Store) Load(dir string) error {
	if err := s.db.ImportFromFile(filepath.Join(dir, exportFile), ""); err != nil {
		return fmt.Errorf("import knowledge: %w", err)
	}
	col := s.db.GetCollection(collectionName, s.embedFunc)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", collectionName)
	}
	s.collection = col
	return nil
}

// Exists reports whether dir holds an exported collection.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, exportFile))
	return err == nil
}
