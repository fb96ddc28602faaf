// Package daterange resolves natural-language time expressions in a
// query to an ISO date window. A staged rule engine handles the common
// phrasings; an optional LLM fallback covers anything the rules miss.
package daterange

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/llm"
)

const isoLayout = "2006-01-02"

// ErrInvalidTimezone is returned when the configured timezone cannot
// be loaded. It is the only hard failure Resolve produces.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Range is a resolved date window. Either bound may be empty, meaning
// the query does not constrain that side.
type Range struct {
	Start string
	End   string
}

// IsZero reports whether neither bound was resolved.
func (r Range) IsZero() bool { return r.Start == "" && r.End == "" }

// Clock supplies the current instant. Injectable for tests.
type Clock func() time.Time

// Resolver turns query text into a Range. The zero value is not
// usable; use NewResolver.
type Resolver struct {
	generator llm.Generator
	clock     Clock
	logger    *zap.Logger

	llmOpts llm.Options
	timeout time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGenerator enables the LLM fallback stage.
func WithGenerator(g llm.Generator) Option {
	return func(r *Resolver) { r.generator = g }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithContextWindow sets the context window used by the LLM fallback.
func WithContextWindow(n int) Option {
	return func(r *Resolver) { r.llmOpts.ContextWindow = n }
}

func NewResolver(logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		clock:  time.Now,
		logger: logger,
		llmOpts: llm.Options{
			Temperature:   0,
			MaxTokens:     128,
			ContextWindow: 2048,
			KeepAlive:     "5m",
		},
		timeout: 20 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var (
	relativeRE = regexp.MustCompile(`(?i)\b(today|yesterday|this week|last week|this month|last month|this year|last year|recent|recently|lately|just)\b`)

	lastNRE      = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d{1,3})\s+(day|days|week|weeks|month|months|year|years)\b`)
	inTheLastNRE = regexp.MustCompile(`(?i)\bin\s+the\s+last\s+(\d{1,3})\s+(day|days|week|weeks|month|months|year|years)\b`)

	wordNum = `one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|` +
		`thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty`
	lastWordRE  = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(` + wordNum + `)\s+(day|days|week|weeks|month|months|year|years)\b`)
	inTheWordRE = regexp.MustCompile(`(?i)\bin\s+the\s+last\s+(` + wordNum + `)\s+(day|days|week|weeks|month|months|year|years)\b`)

	fortnightRE = regexp.MustCompile(`(?i)\b(?:last|past|previous)?\s*fortnight\b`)

	rangeRE = regexp.MustCompile(`(?i)\b(?:between\s+(.+?)\s+and\s+(.+?)|from\s+(.+?)\s+(?:to|until)\s+(.+?)|since\s+(.+?)|after\s+(.+?)|before\s+(.+?))\b`)
)

var wordNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
}

// Resolve extracts a date window from q relative to now in the named
// timezone. A query with no time expression yields a zero Range and no
// error. An unloadable timezone is the only error case.
func (r *Resolver) Resolve(ctx context.Context, q, timezone string) (Range, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, timezone, err)
	}
	now := r.clock().In(loc)

	var rg Range
	for _, stage := range []func(string, time.Time, Range) Range{
		r.relativeStage,
		r.quantifiedStage,
		r.fortnightStage,
		r.rangeStage,
		r.standaloneStage,
	} {
		rg = stage(q, now, rg)
	}

	if rg.IsZero() && r.generator != nil {
		rg = r.llmStage(ctx, q, now)
	}

	if rg.Start != "" && rg.End != "" && rg.Start > rg.End {
		rg.Start, rg.End = rg.End, rg.Start
	}
	return rg, nil
}

func iso(t time.Time) string { return t.Format(isoLayout) }

func weekBounds(day time.Time) (time.Time, time.Time) {
	offset := (int(day.Weekday()) + 6) % 7 // Monday start
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}

func monthBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 1, 0).AddDate(0, 0, -1)
}

func (r *Resolver) relativeStage(q string, now time.Time, rg Range) Range {
	for _, phrase := range relativeRE.FindAllString(q, -1) {
		var s, e string
		switch strings.ToLower(phrase) {
		case "today", "just":
			s, e = iso(now), iso(now)
		case "yesterday":
			y := now.AddDate(0, 0, -1)
			s, e = iso(y), iso(y)
		case "this week":
			ws, we := weekBounds(now)
			s, e = iso(ws), iso(we)
		case "last week":
			ws, we := weekBounds(now.AddDate(0, 0, -7))
			s, e = iso(ws), iso(we)
		case "this month":
			ms, me := monthBounds(now)
			s, e = iso(ms), iso(me)
		case "last month":
			prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
			ms, me := monthBounds(prev)
			s, e = iso(ms), iso(me)
		case "this year":
			s = iso(time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()))
			e = iso(time.Date(now.Year(), 12, 31, 0, 0, 0, 0, now.Location()))
		case "last year":
			s = iso(time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, now.Location()))
			e = iso(time.Date(now.Year()-1, 12, 31, 0, 0, 0, 0, now.Location()))
		case "recent", "recently", "lately":
			s, e = iso(now.AddDate(0, 0, -30)), iso(now)
		default:
			continue
		}
		if rg.Start == "" {
			rg.Start = s
		}
		if rg.End == "" {
			rg.End = e
		}
	}
	return rg
}

func unitDays(unit string) int {
	switch {
	case strings.HasPrefix(strings.ToLower(unit), "week"):
		return 7
	case strings.HasPrefix(strings.ToLower(unit), "month"):
		return 30
	case strings.HasPrefix(strings.ToLower(unit), "year"):
		return 365
	default:
		return 1
	}
}

func (r *Resolver) quantifiedStage(q string, now time.Time, rg Range) Range {
	apply := func(n int, unit string) {
		days := n * unitDays(unit)
		if rg.Start == "" {
			rg.Start = iso(now.AddDate(0, 0, -days))
		}
		if rg.End == "" {
			rg.End = iso(now)
		}
	}
	for _, re := range []*regexp.Regexp{lastNRE, inTheLastNRE} {
		for _, m := range re.FindAllStringSubmatch(q, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			apply(n, m[2])
		}
	}
	for _, re := range []*regexp.Regexp{lastWordRE, inTheWordRE} {
		for _, m := range re.FindAllStringSubmatch(q, -1) {
			if n := wordNumbers[strings.ToLower(m[1])]; n > 0 {
				apply(n, m[2])
			}
		}
	}
	return rg
}

func (r *Resolver) fortnightStage(q string, now time.Time, rg Range) Range {
	if !fortnightRE.MatchString(q) {
		return rg
	}
	if rg.Start == "" {
		rg.Start = iso(now.AddDate(0, 0, -14))
	}
	if rg.End == "" {
		rg.End = iso(now)
	}
	return rg
}

func (r *Resolver) rangeStage(q string, now time.Time, rg Range) Range {
	m := rangeRE.FindStringSubmatch(q)
	if m == nil {
		return rg
	}
	fill := func(start, end string) {
		if start != "" && rg.Start == "" {
			rg.Start = start
		}
		if end != "" && rg.End == "" {
			rg.End = end
		}
	}
	switch {
	case m[1] != "" && m[2] != "": // between A and B
		a, b := NormDateToken(m[1]), NormDateToken(m[2])
		if a != "" && b != "" {
			fill(a, b)
		}
	case m[3] != "" && m[4] != "": // from A to/until B
		a, b := NormDateToken(m[3]), NormDateToken(m[4])
		if a != "" && b != "" {
			fill(a, b)
		}
	case m[5] != "": // since A
		if a := NormDateToken(m[5]); a != "" {
			fill(a, iso(now))
		}
	case m[6] != "": // after A
		if a := NormDateToken(m[6]); a != "" {
			fill(a, "")
		}
	case m[7] != "": // before B
		if b := NormDateToken(m[7]); b != "" {
			fill("", b)
		}
	}
	return rg
}

func (r *Resolver) standaloneStage(q string, now time.Time, rg Range) Range {
	if rg.Start != "" || rg.End != "" {
		return rg
	}
	seen := map[string]struct{}{}
	for _, re := range []*regexp.Regexp{isoDateRE, dmySlashRE, ymdSlashRE, monDYRE, dMonYRE} {
		for _, tok := range re.FindAllString(q, -1) {
			seen[tok] = struct{}{}
		}
	}
	for tok := range seen {
		if rg.Start != "" && rg.End != "" {
			break
		}
		d := NormDateToken(tok)
		if d == "" {
			continue
		}
		if rg.Start == "" && rg.End == "" {
			rg.Start, rg.End = d, d
		}
	}
	return rg
}
