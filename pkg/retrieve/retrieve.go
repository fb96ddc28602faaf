// Package retrieve ranks note chunks against a query, honoring the
// date and name constraints the query implies.
package retrieve

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/daterange"
	"github.com/quietvale/notevault/pkg/names"
	"github.com/quietvale/notevault/pkg/vector"
)

// Config sizes the candidate pools. The large pool applies when date
// or name constraints are present, since post-filtering discards most
// candidates and a small pool would starve the filters.
type Config struct {
	PoolLarge int
	PoolSmall int
	Timezone  string
}

const (
	DefaultPoolLarge = 400
	DefaultPoolSmall = 50
)

var recencyRE = regexp.MustCompile(`\b(last|latest|recent|recently|newest|just)\b`)

// Engine runs constraint-aware retrieval against a vector store. It is
// stateless between calls and safe for concurrent use.
type Engine struct {
	store    vector.Store
	resolver *daterange.Resolver
	cfg      Config
	logger   *zap.Logger
}

func NewEngine(store vector.Store, resolver *daterange.Resolver, cfg Config, logger *zap.Logger) *Engine {
	if cfg.PoolLarge <= 0 {
		cfg.PoolLarge = DefaultPoolLarge
	}
	if cfg.PoolSmall <= 0 {
		cfg.PoolSmall = DefaultPoolSmall
	}
	return &Engine{store: store, resolver: resolver, cfg: cfg, logger: logger}
}

// Retrieve returns up to k chunks ranked for q. Date-bounded queries
// are strict: zero in-range candidates means an empty result, never an
// unfiltered fallback. Name-bounded queries without a date bound get
// one retry against a names-only query before returning empty.
func (e *Engine) Retrieve(ctx context.Context, q string, k int) ([]vector.Chunk, error) {
	rg, err := e.resolver.Resolve(ctx, q, e.cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("resolving date range: %w", err)
	}
	terms := names.ExtractNameTerms(q)
	hasDate := !rg.IsZero()

	augmented := augmentQuery(q, rg, terms)
	recency := recencyRE.MatchString(strings.ToLower(q))

	pool := e.cfg.PoolSmall
	if hasDate || len(terms) > 0 {
		pool = e.cfg.PoolLarge
	}

	var filter *vector.Filter
	if hasDate {
		filter = dateFilter(rg)
	}

	candidates, err := e.store.Search(ctx, augmented, pool, filter)
	if err != nil && filter != nil {
		e.logger.Debug("filtered search failed, retrying unfiltered", zap.Error(err))
		candidates, err = e.store.Search(ctx, augmented, pool, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	results := candidates
	if hasDate {
		results = filterByDate(results, rg)
	}
	if len(terms) > 0 {
		results = filterByNames(results, terms)
	}

	// A names-only query can be drowned out by other phrasing in the
	// augmented embedding; retry once with nothing but the names.
	if len(results) == 0 && len(terms) > 0 && !hasDate {
		retryQ := "Names: " + strings.Join(terms, ", ")
		candidates, err = e.store.Search(ctx, retryQ, pool, nil)
		if err != nil {
			return nil, fmt.Errorf("name retry search: %w", err)
		}
		results = filterByNames(candidates, terms)
	}

	if recency {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Metadata.EntryDateTS > results[j].Metadata.EntryDateTS
		})
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// augmentQuery lowercases the query and appends structured hint lines
// to bias the embedding toward temporally and nominally relevant
// chunks.
func augmentQuery(q string, rg daterange.Range, terms []string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(q))
	if len(terms) > 0 {
		b.WriteString("\nNames: ")
		b.WriteString(strings.Join(terms, ", "))
	}
	switch {
	case rg.Start != "" && rg.End != "" && rg.Start != rg.End:
		fmt.Fprintf(&b, "\nDates: %s to %s", rg.Start, rg.End)
	case rg.Start != "" && rg.End != "":
		fmt.Fprintf(&b, "\nDate: %s", rg.Start)
	case rg.Start != "":
		fmt.Fprintf(&b, "\nSince: %s", rg.Start)
	case rg.End != "":
		fmt.Fprintf(&b, "\nBefore: %s", rg.End)
	}
	return b.String()
}

func dayTS(date string) (int64, bool) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

func dateFilter(rg daterange.Range) *vector.Filter {
	r := vector.NumericRange{Field: "entry_date_ts"}
	if ts, ok := dayTS(rg.Start); rg.Start != "" && ok {
		gte := ts
		r.GTE = &gte
	}
	if ts, ok := dayTS(rg.End); rg.End != "" && ok {
		lte := ts
		r.LTE = &lte
	}
	if r.GTE == nil && r.LTE == nil {
		return nil
	}
	return &vector.Filter{Ranges: []vector.NumericRange{r}}
}

// filterByDate keeps chunks whose entry_date parses and lies inside the
// bounds. Chunks without an entry date are excluded outright.
func filterByDate(chunks []vector.Chunk, rg daterange.Range) []vector.Chunk {
	out := chunks[:0:0]
	for _, c := range chunks {
		d := c.Metadata.EntryDate
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			continue
		}
		if rg.Start != "" && d < rg.Start {
			continue
		}
		if rg.End != "" && d > rg.End {
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterByNames keeps chunks where every term matches an entity value,
// the title, or the source path.
func filterByNames(chunks []vector.Chunk, terms []string) []vector.Chunk {
	out := chunks[:0:0]
	for _, c := range chunks {
		if chunkMatchesAll(c, terms) {
			out = append(out, c)
		}
	}
	return out
}

func chunkMatchesAll(c vector.Chunk, terms []string) bool {
	for _, term := range terms {
		if !termMatches(c, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

func termMatches(c vector.Chunk, term string) bool {
	for _, ent := range c.Metadata.Entities {
		value := ent
		if i := strings.Index(ent, ":"); i >= 0 {
			value = ent[i+1:]
		}
		value = strings.ToLower(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, term) || strings.Contains(term, value) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(c.Metadata.Title), term) {
		return true
	}
	return strings.Contains(strings.ToLower(c.Metadata.Source), term)
}
