package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/quietvale/notevault/pkg/vector"
)

// NowInfo describes the current wall-clock moment in the vault timezone,
// handed to the generator so relative questions get grounded answers.
type NowInfo struct {
	ISODate string `json:"iso_date"`
	Weekday string `json:"weekday"`
	Time24h string `json:"time_24h"`
	TZ      string `json:"tz"`
}

// Now resolves the current moment in the named timezone, falling back
// to UTC when the name does not resolve.
func Now(timezone string) NowInfo {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	n := time.Now().In(loc)
	return NowInfo{
		ISODate: n.Format("2006-01-02"),
		Weekday: n.Weekday().String(),
		Time24h: n.Format("15:04"),
		TZ:      timezone,
	}
}

func (s *Server) now() NowInfo {
	return Now(s.config.Timezone)
}

// FormatContext renders retrieved chunks as numbered blocks. The numbers
// line up with the sources legend so the model can cite them.
func FormatContext(chunks []vector.Chunk) string {
	blocks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		m := c.Metadata
		src := m.Source
		if src == "" {
			src = "unknown.md"
		}
		var extras []string
		if m.EntryDate != "" {
			extras = append(extras, "date="+m.EntryDate)
		}
		if m.Title != "" {
			extras = append(extras, "title="+m.Title)
		}
		if tags := m.Extra["tags"]; tags != "" {
			extras = append(extras, "tags="+tags)
		}
		header := fmt.Sprintf("[%d] (%s)", i+1, src)
		if len(extras) > 0 {
			header += " " + strings.Join(extras, "; ")
		}
		blocks = append(blocks, header+"\n"+c.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// SourcesLegend lists each chunk's source path, title, and entry date
// keyed by the same numbers FormatContext uses.
func SourcesLegend(chunks []vector.Chunk) string {
	lines := make([]string, 0, len(chunks))
	for i, c := range chunks {
		m := c.Metadata
		src := m.Source
		if src == "" {
			src = "unknown.md"
		}
		suffix := ""
		if m.Title != "" {
			suffix = " — " + m.Title
		}
		if m.EntryDate != "" {
			suffix += " — " + m.EntryDate
		}
		lines = append(lines, fmt.Sprintf("[%d] %s%s", i+1, src, suffix))
	}
	return strings.Join(lines, "\n")
}

// FinalPrompt assembles the full generation prompt: system instructions,
// the question, timestamped context blocks, and the citation legend.
func FinalPrompt(systemPrompt, timezone, question string, chunks []vector.Chunk) string {
	now := Now(timezone)
	return fmt.Sprintf(`%s
Question:
%s

Context:
Current date/time: %s (%s) %s [%s]
%s

Sources (use these numbers for citations):
%s
Answer:`,
		systemPrompt,
		question,
		now.ISODate, now.Weekday, now.Time24h, now.TZ,
		FormatContext(chunks),
		SourcesLegend(chunks),
	)
}

func (s *Server) finalPrompt(question string, chunks []vector.Chunk) string {
	return FinalPrompt(s.config.SystemPrompt, s.config.Timezone, question, chunks)
}
