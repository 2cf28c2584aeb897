package classifier

import (
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/model"
)

// ErrMalformedResponse marks a classifier reply that failed structural
// validation. It is retryable: the adapter re-issues the full classification
// request up to its attempt budget.
var ErrMalformedResponse = errors.New("classifier: malformed response")

// cleanJSON extracts a JSON array from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	for _, fence := range []string{"```json", "```python", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}

	// Find first [ and last ].
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// parseScores validates the raw reply and extracts deduplicated cohort scores.
//
// The reply must be a JSON array whose entries are all objects carrying both
// a "cohort" string and a numeric "similarity_score"; anything else returns
// ErrMalformedResponse. A shape-valid empty array is a valid (empty) result:
// the model is instructed never to produce one, but if it does anyway there
// is nothing to gain from retrying.
//
// Entries naming cohorts outside the catalogue are dropped rather than
// failing the reply. Duplicate cohorts keep the first occurrence; return
// order is descending relevance and is preserved.
func parseScores(raw string, catalogue *Catalogue) ([]model.CohortScore, error) {
	var entries []map[string]any
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &entries); err != nil {
		return nil, ErrMalformedResponse
	}

	parsed := make([]model.CohortScore, 0, len(entries))
	for _, entry := range entries {
		name, ok := entry["cohort"].(string)
		if !ok {
			return nil, ErrMalformedResponse
		}
		score, ok := entry["similarity_score"].(float64)
		if !ok {
			return nil, ErrMalformedResponse
		}
		parsed = append(parsed, model.CohortScore{Cohort: name, SimilarityScore: score})
	}

	seen := make(map[string]bool, len(parsed))
	out := make([]model.CohortScore, 0, len(parsed))
	for _, s := range parsed {
		canonical, ok := catalogue.Canonical(s.Cohort)
		if !ok {
			zap.L().Debug("classifier: dropping out-of-catalogue cohort",
				zap.String("cohort", s.Cohort),
			)
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		s.Cohort = canonical
		out = append(out, s)
	}

	return out, nil
}
