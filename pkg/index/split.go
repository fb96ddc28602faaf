package index

import (
	"regexp"
	"strings"
	"time"
)

// Date layouts accepted in heading lines: ISO, slashed, and long forms.
var dateLineLayouts = []string{
	"2006-01-02", "2006/1/2", "2/1/2006",
	"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
}

var (
	headingMarksRE   = regexp.MustCompile(`^\s{0,3}#{1,6}\s*`)
	openEmphasisRE   = regexp.MustCompile(`^(?:\*\*|__|\*|_)\s*`)
	closeEmphasisRE  = regexp.MustCompile(`\s*(?:\*\*|__|\*|_)$`)
	trailingColonRE  = regexp.MustCompile(`[:：]\s*$`)
	sectionHeadingRE = regexp.MustCompile(`^(#{1,3})\s+(.*)$`)
)

// extractDateFromLine normalizes a line that may be a date heading,
// such as "## 2025-10-11", "**11/10/2025:**" or "[2025-10-11]:".
// Returns the ISO date or "" when the line is not a date heading.
func extractDateFromLine(line string) string {
	s := strings.TrimRight(line, "\r\n")
	s = headingMarksRE.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = openEmphasisRE.ReplaceAllString(s, "")
	s = closeEmphasisRE.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "[]")
	s = strings.TrimSpace(s)
	s = trailingColonRE.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// DateSection is a slice of a note attributed to one date heading. The
// Date is empty for text above the first heading or notes without any.
type DateSection struct {
	Date string
	Text string
}

// SplitByDateHeadings splits a note into sections keyed by date
// heading lines. Works line by line, so it tolerates "## 2025-10-11",
// bold dates with colons, and bracketed forms alike.
func SplitByDateHeadings(text string) []DateSection {
	var sections []DateSection
	lastPos, pos := 0, 0
	lastDate := ""

	flush := func(upto int) {
		if body := strings.TrimSpace(text[lastPos:upto]); body != "" {
			sections = append(sections, DateSection{Date: lastDate, Text: body})
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if d := extractDateFromLine(line); d != "" {
			flush(pos)
			lastDate = d
			lastPos = pos + len(line)
		}
		pos += len(line)
	}
	flush(len(text))

	if len(sections) == 0 {
		return []DateSection{{Text: text}}
	}
	return sections
}

type section struct {
	heading string
	text    string
}

// splitByHeadings splits text at h1-h3 markdown headings. The heading
// line itself is kept out of the section body but reported alongside
// it for entity extraction.
func splitByHeadings(text string) []section {
	var out []section
	cur := section{}
	var body []string

	flush := func() {
		cur.text = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.text != "" || cur.heading != "" {
			out = append(out, cur)
		}
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeadingRE.FindStringSubmatch(line); m != nil {
			flush()
			cur = section{heading: strings.TrimSpace(m[2])}
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(out) == 0 {
		return []section{{text: strings.TrimSpace(text)}}
	}
	return out
}

// splitSentences breaks text after terminal punctuation followed by
// whitespace.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 >= len(text) || !isSpaceByte(text[i+1]) {
			continue
		}
		out = append(out, text[start:i+1])
		j := i + 1
		for j < len(text) && isSpaceByte(text[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// SentenceChunks packs sentences into chunks of roughly targetSize
// characters. With overlap > 0 each chunk starts with the previous
// chunk's final sentence.
func SentenceChunks(text string, targetSize, overlap int) []string {
	var chunks []string
	var cur []string
	curLen := 0
	for _, s := range splitSentences(text) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if curLen+len(s) > targetSize && len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
			if overlap > 0 {
				cur = []string{cur[len(cur)-1]}
				curLen = len(cur[0])
			} else {
				cur = nil
				curLen = 0
			}
		}
		cur = append(cur, s)
		curLen += len(s) + 1
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}
	return chunks
}

// charChunks slides a fixed window over text for sentences that blew
// past the sentence packer.
func charChunks(text string, size, overlap int) []string {
	if size <= 0 {
		return []string{text}
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// ChunkText is one indexable slice of a note.
type ChunkText struct {
	Date    string
	Heading string
	Text    string
}

// ChunkDocument splits note text into dated, heading-aware chunks:
// date sections first, markdown sections within each, then sentence
// packing with a character-window fallback for oversized chunks.
func ChunkDocument(text string, chunkSize, overlap int) []ChunkText {
	var out []ChunkText
	for _, ds := range SplitByDateHeadings(text) {
		for _, sec := range splitByHeadings(ds.Text) {
			if sec.text == "" {
				continue
			}
			pieces := SentenceChunks(sec.text, chunkSize, overlap)
			if len(pieces) == 0 {
				pieces = []string{sec.text}
			}
			for _, p := range pieces {
				if len(p) > chunkSize*3/2 {
					for _, cc := range charChunks(p, chunkSize, overlap) {
						out = append(out, ChunkText{Date: ds.Date, Heading: sec.heading, Text: cc})
					}
				} else {
					out = append(out, ChunkText{Date: ds.Date, Heading: sec.heading, Text: p})
				}
			}
		}
	}
	return out
}
