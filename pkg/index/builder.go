// Package index builds and maintains the vector index over a markdown
// vault: loading notes, splitting them into dated chunks, and keeping
// the store in sync with what is on disk.
package index

import (
	"context"
	"crypto/md5"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/names"
	"github.com/quietvale/notevault/pkg/vector"
)

const batchSize = 256

// Config holds builder settings.
type Config struct {
	VaultPath    string
	StatePath    string
	ChunkSize    int
	ChunkOverlap int
}

// Builder performs incremental index builds against a vector store.
type Builder struct {
	store     vector.Store
	extractor *names.Extractor
	cfg       Config
	logger    *zap.Logger
}

func NewBuilder(store vector.Store, extractor *names.Extractor, cfg Config, logger *zap.Logger) *Builder {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 900
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	return &Builder{store: store, extractor: extractor, cfg: cfg, logger: logger}
}

// docID derives a stable chunk ID from the note path and chunk index,
// so re-indexing a note overwrites its previous chunks.
func docID(source string, idx int) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(fmt.Sprintf("%s::%d", source, idx))))
}

func entryDateTS(date string) int64 {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// BuildAll walks the vault and re-indexes every note that changed
// since the last build, removing chunks of deleted notes. Returns the
// number of chunks produced for changed notes.
func (b *Builder) BuildAll(ctx context.Context) (int, error) {
	st := loadState(b.cfg.StatePath)

	notes, err := ListNotes(b.cfg.VaultPath)
	if err != nil {
		return 0, err
	}

	current := map[string]int64{}
	for _, rel := range notes {
		if mt, ok := mtimeOf(filepath.Join(b.cfg.VaultPath, rel)); ok {
			current[rel] = mt
		}
	}

	var toDelete []string
	for src, prev := range st.Files {
		if _, ok := current[src]; ok {
			continue
		}
		for i := 0; i < prev.Count; i++ {
			toDelete = append(toDelete, docID(src, i))
		}
		delete(st.Files, src)
	}

	var toUpsert []vector.Chunk
	total, updated := 0, 0
	started := time.Now()

	for _, rel := range notes {
		mt := current[rel]
		prev, seen := st.Files[rel]
		if seen && prev.MTime >= mt {
			continue
		}

		chunks, err := b.chunksFor(rel)
		if err != nil {
			b.logger.Warn("skipping unreadable note", zap.String("source", rel), zap.Error(err))
			continue
		}
		total += len(chunks)

		if seen {
			for i := 0; i < prev.Count; i++ {
				toDelete = append(toDelete, docID(rel, i))
			}
		}
		toUpsert = append(toUpsert, chunks...)
		st.Files[rel] = fileState{MTime: mt, Count: len(chunks)}
		updated++
	}

	if err := b.apply(ctx, toDelete, toUpsert); err != nil {
		return 0, err
	}
	if err := saveState(b.cfg.StatePath, st); err != nil {
		return 0, err
	}

	b.logger.Info("index build finished",
		zap.Int("files_changed", updated),
		zap.Int("chunks", total),
		zap.Int("upserts", len(toUpsert)),
		zap.Int("deletes", len(toDelete)),
		zap.Duration("took", time.Since(started)))
	return total, nil
}

// BuildFiles re-indexes only the given vault-relative paths,
// unconditionally. A path that no longer exists on disk has its chunks
// removed.
func (b *Builder) BuildFiles(ctx context.Context, files []string) (int, error) {
	st := loadState(b.cfg.StatePath)

	var toDelete []string
	var toUpsert []vector.Chunk
	total := 0

	for _, rel := range files {
		rel = filepath.ToSlash(rel)
		prev, seen := st.Files[rel]
		if seen {
			for i := 0; i < prev.Count; i++ {
				toDelete = append(toDelete, docID(rel, i))
			}
		}

		mt, exists := mtimeOf(filepath.Join(b.cfg.VaultPath, rel))
		if !exists {
			delete(st.Files, rel)
			continue
		}

		chunks, err := b.chunksFor(rel)
		if err != nil {
			b.logger.Warn("skipping unreadable note", zap.String("source", rel), zap.Error(err))
			continue
		}
		total += len(chunks)
		toUpsert = append(toUpsert, chunks...)
		st.Files[rel] = fileState{MTime: mt, Count: len(chunks)}
	}

	if err := b.apply(ctx, toDelete, toUpsert); err != nil {
		return 0, err
	}
	if err := saveState(b.cfg.StatePath, st); err != nil {
		return 0, err
	}
	return total, nil
}

// chunksFor loads one note and turns it into store-ready chunks with
// entity metadata.
func (b *Builder) chunksFor(rel string) ([]vector.Chunk, error) {
	doc, err := LoadDocument(b.cfg.VaultPath, rel)
	if err != nil {
		return nil, err
	}

	baseEntities := b.extract(entitySeed(doc))
	pieces := ChunkDocument(doc.Text, b.cfg.ChunkSize, b.cfg.ChunkOverlap)

	chunks := make([]vector.Chunk, 0, len(pieces))
	for i, p := range pieces {
		entities := baseEntities
		if p.Heading != "" {
			entities = mergeEntities(baseEntities, b.extract(p.Heading))
		}
		meta := vector.Metadata{
			Source:     doc.Source,
			Title:      doc.Title,
			Entities:   entities,
			ChunkIndex: i,
			Extra:      doc.Extra,
		}
		if p.Date != "" {
			meta.EntryDate = p.Date
			meta.EntryDateTS = entryDateTS(p.Date)
		}
		chunks = append(chunks, vector.Chunk{
			ID:       docID(doc.Source, i),
			Content:  p.Text,
			Metadata: meta,
		})
	}
	return chunks, nil
}

func (b *Builder) extract(text string) []string {
	if b.extractor == nil || text == "" {
		return nil
	}
	return b.extractor.Entities(text)
}

// entitySeed joins the title, filename, and folder segments into one
// blob for entity extraction.
func entitySeed(doc Document) string {
	parts := []string{doc.Title, strings.ReplaceAll(stem(doc.Source), "-", " ")}
	if dir := filepath.Dir(doc.Source); dir != "." {
		parts = append(parts, strings.Split(filepath.ToSlash(dir), "/")...)
	}
	return strings.Join(parts, ". ")
}

func mergeEntities(base, extra []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(base)+len(extra))
	for _, e := range append(append([]string{}, base...), extra...) {
		key := strings.ToLower(e)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// apply pushes deletes then upserts to the store in fixed-size batches.
func (b *Builder) apply(ctx context.Context, deletes []string, upserts []vector.Chunk) error {
	for i := 0; i < len(deletes); i += batchSize {
		end := i + batchSize
		if end > len(deletes) {
			end = len(deletes)
		}
		if err := b.store.Delete(ctx, deletes[i:end]); err != nil {
			return fmt.Errorf("deleting stale chunks: %w", err)
		}
	}
	for i := 0; i < len(upserts); i += batchSize {
		end := i + batchSize
		if end > len(upserts) {
			end = len(upserts)
		}
		if err := b.store.Add(ctx, upserts[i:end]); err != nil {
			return fmt.Errorf("upserting chunks: %w", err)
		}
	}
	return nil
}
