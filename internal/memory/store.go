// Package memory is the agent's long-term memory: short notes embedded
// into a chromem-go collection and recalled by semantic similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

const collectionName = "memories"

// maxContentRunes bounds what gets embedded; longer notes are truncated.
const maxContentRunes = 4000

// Recollection is one recalled memory.
type Recollection struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float32           `json:"similarity"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Store wraps one chromem collection.
type Store struct {
	collection *chromem.Collection
	logger     *slog.Logger
	now        func() time.Time
}

// Open opens (or creates) a persistent store under dir. An empty dir
// keeps everything in memory.
func Open(dir string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*Store, error) {
	if embed == nil {
		return nil, errors.New("memory: embedding function is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open memory db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open memory collection: %w", err)
	}

	logger.Info("memory store opened", "path", dir, "memories", col.Count())
	return &Store{collection: col, logger: logger, now: time.Now}, nil
}

// Remember embeds content and returns its ID. meta is stored alongside.
func (s *Store) Remember(ctx context.Context, content string, meta map[string]string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("memory: content is empty")
	}
	if r := []rune(content); len(r) > maxContentRunes {
		content = string(r[:maxContentRunes])
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("memory id: %w", err)
	}

	md := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		md[k] = v
	}
	md["created_at"] = s.now().UTC().Format(time.RFC3339)

	doc := chromem.Document{ID: id.String(), Content: content, Metadata: md}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}
	s.logger.Debug("memory stored", "id", doc.ID, "len", len(content))
	return doc.ID, nil
}

// Recall returns up to limit memories most similar to query, best first.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]Recollection, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("memory: query is empty")
	}
	n := s.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	results, err := s.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	out := make([]Recollection, 0, len(results))
	for _, r := range results {
		rec := Recollection{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		}
		if ts, err := time.Parse(time.RFC3339, r.Metadata["created_at"]); err == nil {
			rec.CreatedAt = ts
		}
		out = append(out, rec)
	}
	return out, nil
}

// Forget deletes a memory by ID.
func (s *Store) Forget(ctx context.Context, id string) error {
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("forget %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored memories.
func (s *Store) Count() int {
	return s.collection.Count()
}
