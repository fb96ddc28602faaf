// Package names extracts people and other named entities from query
// text and note content.
package names

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	// Quoted multi-word names like "John Doe" or 'Mary Jane'.
	nameQuotedRE = regexp.MustCompile(`"([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)*)"|'([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)*)'`)
	nameTokenRE  = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}\b`)
)

// stopWords are capitalized tokens that are never treated as names:
// question words, pronouns, and common note-title jargon.
var stopWords = map[string]struct{}{
	"What": {}, "When": {}, "Where": {}, "Which": {}, "Who": {}, "Why": {}, "How": {},
	"The": {}, "In": {}, "On": {}, "For": {}, "And": {}, "Or": {}, "Of": {},
	"Last": {}, "Past": {}, "Previous": {}, "Most": {}, "Recent": {}, "Latest": {},
	"I": {}, "We": {}, "Us": {}, "Me": {}, "My": {}, "Our": {}, "Ours": {},
	"You": {}, "Your": {}, "Yours": {}, "He": {}, "She": {}, "They": {}, "Them": {},
	"His": {}, "Her": {}, "Their": {},
	"Notes": {}, "Note": {}, "Quick": {}, "Catch": {}, "Up": {}, "Catch-up": {},
	"Todo": {}, "To": {}, "Do": {}, "Tasks": {}, "Task": {}, "Meeting": {}, "Meet": {},
	"Journal": {}, "Daily": {}, "Weights": {}, "Ideas": {}, "Agent": {},
	"Talk": {}, "Talked": {}, "About": {}, "From": {}, "With": {}, "At": {},
}

func quoted(text string) []string {
	var out []string
	for _, m := range nameQuotedRE.FindAllStringSubmatch(text, -1) {
		g := m[1]
		if g == "" {
			g = m[2]
		}
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

func dedupe(terms []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ExtractNameTerms pulls name search terms out of a query. Quoted
// multi-word names win outright; otherwise bare capitalized tokens are
// returned individually, minus the stop list. The fallback never merges
// adjacent tokens, so an unquoted "John Smith" yields two terms.
func ExtractNameTerms(q string) []string {
	if terms := quoted(q); len(terms) > 0 {
		return dedupe(terms)
	}
	var terms []string
	for _, tok := range nameTokenRE.FindAllString(q, -1) {
		if _, stop := stopWords[tok]; !stop {
			terms = append(terms, tok)
		}
	}
	return dedupe(terms)
}

// Entity is a single span a Recognizer found, with its raw model label.
type Entity struct {
	Label string
	Text  string
}

// Recognizer runs statistical NER over text. Implementations may be
// expensive to call; the Extractor treats any error as "no entities".
type Recognizer interface {
	Entities(text string) ([]Entity, error)
}

// kindForLabel maps model labels to the stored entity kinds. Labels
// outside the allow list are dropped.
func kindForLabel(label string) string {
	switch label {
	case "PERSON":
		return "person"
	case "ORG":
		return "org"
	case "GPE":
		return "place"
	case "WORK_OF_ART":
		return "work"
	default:
		return ""
	}
}

// Extractor turns recognizer output into "kind:value" strings suitable
// for chunk metadata.
type Extractor struct {
	rec    Recognizer
	logger *zap.Logger
}

func NewExtractor(rec Recognizer, logger *zap.Logger) *Extractor {
	return &Extractor{rec: rec, logger: logger}
}

// Entities extracts allow-listed entities from text as "kind:value"
// strings, deduplicated case-insensitively in first-seen order. It
// never fails: a missing or erroring recognizer yields an empty list.
func (e *Extractor) Entities(text string) []string {
	if e.rec == nil {
		return nil
	}
	ents, err := e.rec.Entities(text)
	if err != nil {
		e.logger.Debug("entity recognition failed", zap.Error(err))
		return nil
	}
	var out []string
	for _, ent := range ents {
		kind := kindForLabel(ent.Label)
		if kind == "" {
			continue
		}
		value := strings.TrimSpace(ent.Text)
		if value == "" {
			continue
		}
		out = append(out, kind+":"+value)
	}
	return dedupe(out)
}
