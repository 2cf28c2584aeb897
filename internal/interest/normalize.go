// Package interest normalizes free-text interest lists before merging and
// classification.
package interest

import "golang.org/x/text/cases"

var fold = cases.Fold()

// Normalize deduplicates candidate interests case-insensitively, keeping the
// first-seen casing and the original relative order. Non-string entries are
// silently discarded; upstream payload validation does not guarantee a clean
// list. Pure function.
func Normalize(raw []any) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		key := fold.String(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// NormalizeStrings is Normalize for an already-typed list. Used when merging
// an incoming list ahead of an identity's existing interests: callers append
// the lists in priority order and the first occurrence wins.
func NormalizeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, s := range values {
		key := fold.String(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
