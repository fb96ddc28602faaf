// Package vector provides interfaces and implementations for similarity
// search over indexed note chunks.
package vector

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Metadata is the typed metadata record attached to every indexed chunk.
// The known fields are fixed; anything else from a note's front matter is
// flattened into Extra (lists comma-joined, nested objects JSON-encoded).
type Metadata struct {
	// Source is the note path relative to the vault root.
	Source string

	// Title of the note, defaulting to the filename stem.
	Title string

	// EntryDate is the ISO date (YYYY-MM-DD) the chunk's content is
	// associated with, or empty when the note section carried no date line.
	EntryDate string

	// EntryDateTS is EntryDate as seconds since epoch at UTC midnight.
	// Zero when EntryDate is empty.
	EntryDateTS int64

	// Entities holds "kind:value" strings tagged at index time.
	Entities []string

	// ChunkIndex is the chunk's position within its source note.
	ChunkIndex int

	// Extra carries any remaining front-matter fields as strings.
	Extra map[string]string
}

// Chunk is a retrievable segment of a note with its metadata.
type Chunk struct {
	// ID is a deterministic identifier derived from source path and index.
	ID string

	// Content is the chunk text.
	Content string

	// Metadata describes the chunk's provenance.
	Metadata Metadata

	// Score is the similarity score assigned by the store (higher = closer).
	Score float32
}

// NumericRange is an inclusive range predicate on a numeric metadata field.
// A nil bound leaves that side open.
type NumericRange struct {
	Field string
	GTE   *int64
	LTE   *int64
}

// Filter is a conjunction of metadata predicates a Store may apply
// server-side. Stores that cannot honor a filter return
// ErrFilterUnsupported so callers can retry without one.
type Filter struct {
	Ranges []NumericRange
	Equal  map[string]string
}

// Store is the similarity-search collaborator consumed by the retrieval
// engine and fed by the indexing pipeline.
type Store interface {
	// Search returns up to k chunks ranked by similarity to the query text,
	// optionally restricted by a metadata filter.
	Search(ctx context.Context, query string, k int, filter *Filter) ([]Chunk, error)

	// Add upserts chunks by ID.
	Add(ctx context.Context, chunks []Chunk) error

	// Delete removes chunks by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// MetadataToMap flattens a Metadata record into the string-keyed map shape
// vector backends persist. Entities serialize as a comma-joined string.
func MetadataToMap(m Metadata) map[string]any {
	out := map[string]any{
		"source":      m.Source,
		"title":       m.Title,
		"chunk_index": m.ChunkIndex,
	}
	if m.EntryDate != "" {
		out["entry_date"] = m.EntryDate
		out["entry_date_ts"] = m.EntryDateTS
	}
	if len(m.Entities) > 0 {
		out["entities"] = strings.Join(m.Entities, ",")
	}
	for k, v := range m.Extra {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}

// MetadataFromMap rebuilds a Metadata record from a stored map. Unknown
// keys land in Extra with best-effort string coercion.
func MetadataFromMap(raw map[string]any) Metadata {
	m := Metadata{}
	for k, v := range raw {
		switch k {
		case "source":
			m.Source = asString(v)
		case "title":
			m.Title = asString(v)
		case "entry_date":
			m.EntryDate = asString(v)
		case "entry_date_ts":
			m.EntryDateTS = asInt64(v)
		case "chunk_index":
			m.ChunkIndex = int(asInt64(v))
		case "entities":
			if s := asString(v); s != "" {
				m.Entities = strings.Split(s, ",")
			}
		default:
			if m.Extra == nil {
				m.Extra = map[string]string{}
			}
			m.Extra[k] = asString(v)
		}
	}
	return m
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0
		}
		return n
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
