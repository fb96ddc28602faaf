package daterange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const llmPrompt = `You are a date range extractor. Given the current date/time and a user query, return a JSON object with keys start, end. Use ISO YYYY-MM-DD dates or null.
Rules: start <= end when both present; interpret relative phrases relative to the current date/time and timezone.
Output ONLY JSON. No extra text.

Current date/time: %s %s
Query: %s
`

type llmRange struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

// llmStage asks the generator for a date window. Any failure yields an
// empty Range; this stage never errors.
func (r *Resolver) llmStage(ctx context.Context, q string, now time.Time) Range {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := fmt.Sprintf(llmPrompt, now.Format("2006-01-02 15:04"), now.Location(), q)
	raw, err := r.generator.Generate(ctx, prompt, r.llmOpts)
	if err != nil {
		r.logger.Debug("date range llm fallback failed", zap.Error(err))
		return Range{}
	}

	var parsed llmRange
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		r.logger.Debug("date range llm returned non-json", zap.String("response", raw))
		return Range{}
	}

	return Range{Start: validISO(parsed.Start), End: validISO(parsed.End)}
}

func validISO(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if _, err := time.Parse(isoLayout, v); err != nil {
		return ""
	}
	return v
}
