package index

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one markdown note loaded from the vault, with wikilinks
// expanded and front matter split out.
type Document struct {
	// Source is the path relative to the vault root.
	Source string
	Title  string
	Text   string
	// Extra holds front matter fields besides title, flattened to
	// strings: lists comma-joined, maps JSON-encoded.
	Extra map[string]string
}

// Obsidian-style [[target#section|alias]] links.
var wikilinkRE = regexp.MustCompile(`\[\[([^\]|#]+)(?:#[^\]]*)?(?:\|([^\]]+))?\]\]`)

func expandWikilinks(text string) string {
	return wikilinkRE.ReplaceAllStringFunc(text, func(link string) string {
		m := wikilinkRE.FindStringSubmatch(link)
		label := m[2]
		if label == "" {
			label = m[1]
		}
		label = strings.ReplaceAll(label, "-", " ")
		return strings.ReplaceAll(label, "_", " ")
	})
}

var frontMatterEndRE = regexp.MustCompile(`(?m)^---\s*$`)

// splitFrontMatter peels a leading YAML front matter block off the
// content. Returns the parsed fields and the remaining body.
func splitFrontMatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return nil, content
	}
	rest := content[strings.Index(content, "\n")+1:]
	end := frontMatterEndRE.FindStringIndex(rest)
	if end == nil {
		return nil, content
	}
	body := rest[end[1]:]
	body = strings.TrimPrefix(strings.TrimPrefix(body, "\r"), "\n")
	var fields map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end[0]]), &fields); err != nil {
		return nil, content
	}
	return fields, body
}

// LoadDocument reads a single note at rel under vaultDir.
func LoadDocument(vaultDir, rel string) (Document, error) {
	raw, err := os.ReadFile(filepath.Join(vaultDir, rel))
	if err != nil {
		return Document{}, fmt.Errorf("reading note: %w", err)
	}

	fields, body := splitFrontMatter(string(raw))
	doc := Document{
		Source: rel,
		Title:  strings.ReplaceAll(stem(rel), "-", " "),
		Text:   expandWikilinks(body),
		Extra:  map[string]string{},
	}
	for k, v := range fields {
		s := flattenField(v)
		if k == "title" {
			if s != "" {
				doc.Title = s
			}
			continue
		}
		doc.Extra[k] = s
	}
	return doc, nil
}

// flattenField coerces a front matter value to a string: lists are
// comma-joined element-wise, maps JSON-encoded, scalars stringified.
func flattenField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, flattenField(e))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListNotes walks the vault and returns relative paths of every .md
// file, skipping the .obsidian control directory. Paths are sorted for
// deterministic indexing order.
func ListNotes(vaultDir string) ([]string, error) {
	var notes []string
	err := filepath.WalkDir(vaultDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".obsidian" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(vaultDir, path)
		if err != nil {
			return err
		}
		notes = append(notes, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking vault: %w", err)
	}
	sort.Strings(notes)
	return notes, nil
}
