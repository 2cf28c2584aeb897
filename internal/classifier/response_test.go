package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-engine/internal/model"
)

func TestCleanJSON_StripsMarkdownFences(t *testing.T) {
	cases := map[string]string{
		"```json\n[{\"a\":1}]\n```":    `[{"a":1}]`,
		"```\n[{\"a\":1}]\n```":        `[{"a":1}]`,
		"```python\n[{\"a\":1}]\n```":  `[{"a":1}]`,
		"Here you go:\n[{\"a\":1}]\n.": `[{"a":1}]`,
		`[{"a":1}]`:                    `[{"a":1}]`,
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanJSON(in), "input %q", in)
	}
}

func TestParseScores_Valid(t *testing.T) {
	catalogue := NewCatalogue(DefaultCatalogue)
	raw := `[{"cohort":"outdoor","similarity_score":0.92},{"cohort":"fitness","similarity_score":0.35}]`

	scores, err := parseScores(raw, catalogue)
	require.NoError(t, err)
	assert.Equal(t, []model.CohortScore{
		{Cohort: "outdoor", SimilarityScore: 0.92},
		{Cohort: "fitness", SimilarityScore: 0.35},
	}, scores)
}

func TestParseScores_DeduplicatesKeepingFirst(t *testing.T) {
	catalogue := NewCatalogue(DefaultCatalogue)
	raw := `[{"cohort":"outdoor","similarity_score":0.92},{"cohort":"outdoor","similarity_score":0.5}]`

	scores, err := parseScores(raw, catalogue)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "outdoor", scores[0].Cohort)
	assert.Equal(t, 0.92, scores[0].SimilarityScore)
}

func TestParseScores_FencedPayload(t *testing.T) {
	catalogue := NewCatalogue(DefaultCatalogue)
	raw := "```json\n[{\"cohort\":\"travel\",\"similarity_score\":0.7}]\n```"

	scores, err := parseScores(raw, catalogue)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "travel", scores[0].Cohort)
}

func TestParseScores_EmptyArrayIsValid(t *testing.T) {
	catalogue := NewCatalogue(DefaultCatalogue)

	scores, err := parseScores(`[]`, catalogue)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestParseScores_Malformed(t *testing.T) {
	catalogue := NewCatalogue(DefaultCatalogue)
	for name, raw := range map[string]string{
		"not json":          `the user likes hiking`,
		"object not array":  `{"cohort":"outdoor","similarity_score":0.9}`,
		"missing score key": `[{"cohort":"outdoor"}]`,
		"missing cohort":    `[{"similarity_score":0.9}]`,
		"string score":      `[{"cohort":"outdoor","similarity_score":"0.9"}]`,
		"scalar entries":    `["outdoor","fitness"]`,
	} {
		_, err := parseScores(raw, catalogue)
		assert.ErrorIs(t, err, ErrMalformedResponse, name)
	}
}

func TestParseScores_DropsOutOfCatalogue(t *testing.T) {
	catalogue := NewCatalogue(DefaultCatalogue)
	raw := `[{"cohort":"skydiving","similarity_score":0.9},{"cohort":"Outdoor","similarity_score":0.8}]`

	scores, err := parseScores(raw, catalogue)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "outdoor", scores[0].Cohort)
}

func TestCatalogue_Canonical(t *testing.T) {
	c := NewCatalogue([]string{"outdoor", "tech"})

	name, ok := c.Canonical("OUTDOOR")
	assert.True(t, ok)
	assert.Equal(t, "outdoor", name)

	_, ok = c.Canonical("gardening")
	assert.False(t, ok)
}
