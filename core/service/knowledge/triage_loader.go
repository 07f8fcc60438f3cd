package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// Loader seeds the knowledge store from an authored article file.
type Loader struct {
	embedder out.EmbeddingProvider
	store    out.KnowledgeStore
	log      zerolog.Logger
}

func NewLoader(embedder out.EmbeddingProvider, store out.KnowledgeStore, log zerolog.Logger) *Loader {
	return &Loader{
		embedder: embedder,
		store:    store,
		log:      log.With().Str("component", "kb_loader").Logger(),
	}
}

type knowledgeFile struct {
	Entries []domain.KnowledgeEntry `json:"entries" yaml:"entries"`
}

// ReadEntries parses a .yaml/.yml or .json file holding {entries: [...]}.
func ReadEntries(path string) ([]domain.KnowledgeEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f knowledgeFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".json":
		err = json.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("unsupported knowledge file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, e := range f.Entries {
		if e.ID == "" || e.Title == "" || e.Content == "" {
			return nil, fmt.Errorf("entry %d: id, title and content are required", i)
		}
		if !e.Category.Valid() {
			return nil, fmt.Errorf("entry %s: invalid category %q", e.ID, e.Category)
		}
	}
	return f.Entries, nil
}

// LoadFile embeds and upserts every entry in path. It returns the number stored.
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	entries, err := ReadEntries(path)
	if err != nil {
		return 0, err
	}

	stored := 0
	for i := range entries {
		e := &entries[i]
		embedding, err := l.embedder.Embed(ctx, PrepareQuery(e.EmbeddingText(), maxQueryLen))
		if err != nil {
			return stored, fmt.Errorf("embed %s: %w", e.ID, err)
		}
		if err := l.store.Upsert(ctx, e, embedding); err != nil {
			return stored, fmt.Errorf("store %s: %w", e.ID, err)
		}
		stored++
		l.log.Debug().Str("entry_id", e.ID).Msg("knowledge entry stored")
	}

	l.log.Info().Int("count", stored).Str("file", path).Msg("knowledge base loaded")
	return stored, nil
}
