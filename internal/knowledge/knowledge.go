// Package knowledge is the Green-AI knowledge base searched by the
// development backend's search_knowledge tool.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// CollectionName is the chromem collection holding the seed documents.
const CollectionName = "green_ai_docs"

var ErrEmptyQuery = errors.New("query is empty")

// SeedDocuments are the Green-AI best practices loaded into a new base.
var SeedDocuments = []string{
	"To reduce LLM inference costs, use quantization (4-bit or 8-bit) which lowers memory usage by up to 75%.",
	"Retrieval-Augmented Generation (RAG) reduces hallucination but increases latency. Use caching to mitigate this.",
	"For speech-to-text efficiency, Whisper-tiny is 32x faster than Whisper-large but has higher error rates.",
	"Kubernetes autoscaling (HPA) should be configured based on GPU memory metrics, not just CPU usage.",
	"Distillation is a technique where a smaller 'student' model learns to mimic a larger 'teacher' model to save energy.",
}

// Result is one matched document.
type Result struct {
	ID         string
	Content    string
	Similarity float32
}

// Base wraps a chromem collection.
type Base struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// Open creates the knowledge base. An empty persistPath keeps it in memory;
// otherwise documents are persisted under that directory. The seed
// documents are (re)added on every open so IDs stay stable.
func Open(ctx context.Context, persistPath string) (*Base, error) {
	var db *chromem.DB
	var err error

	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open knowledge db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := NewHashEmbedder(DefaultDimensions)
	collection, err := db.GetOrCreateCollection(CollectionName, nil, embed.Embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	b := &Base{db: db, collection: collection}
	if err := b.seed(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Base) seed(ctx context.Context) error {
	for i, content := range SeedDocuments {
		doc := chromem.Document{
			ID:       fmt.Sprintf("doc_%d", i),
			Content:  content,
			Metadata: map[string]string{"source": "seed"},
		}
		if err := b.collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Add stores a document under id, replacing any document with the same id.
func (b *Base) Add(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("add document %s: content is empty", id)
	}
	return b.collection.AddDocument(ctx, chromem.Document{ID: id, Content: content})
}

// Count returns the number of stored documents.
func (b *Base) Count() int {
	return b.collection.Count()
}

// Query returns up to n documents ordered by similarity.
func (b *Base) Query(ctx context.Context, query string, n int) ([]Result, error) {
	if !hasTerms(query) {
		return nil, ErrEmptyQuery
	}
	if n <= 0 {
		n = 1
	}
	if c := b.collection.Count(); n > c {
		n = c
	}
	if n == 0 {
		return nil, nil
	}

	matches, err := b.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", CollectionName, err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{ID: m.ID, Content: m.Content, Similarity: m.Similarity})
	}
	return results, nil
}

// Search returns the single best matching document text, or "" when the
// base is empty.
func (b *Base) Search(ctx context.Context, query string) (string, error) {
	results, err := b.Query(ctx, query, 1)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].Content, nil
}
