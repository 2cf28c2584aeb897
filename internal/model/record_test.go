package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestRecord_UnmarshalExtraFields(t *testing.T) {
	payload := `{
		"email": "a@x.com",
		"cookie": "c1",
		"interests": ["music", 42, "hiking"],
		"phone_number": "555-0100",
		"loyalty_tier": "gold"
	}`

	var rec IngestRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &rec))

	assert.Equal(t, "a@x.com", rec.Email)
	assert.Equal(t, "c1", rec.Cookie)
	assert.Len(t, rec.Interests, 3)
	assert.Equal(t, map[string]any{
		"phone_number": "555-0100",
		"loyalty_tier": "gold",
	}, rec.Extra)
}

func TestIngestRecord_MarshalRoundTrip(t *testing.T) {
	rec := IngestRecord{
		Email:  "a@x.com",
		Cookie: "c1",
		Extra:  map[string]any{"phone_number": "555-0100"},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "a@x.com", raw["email"])
	assert.Equal(t, "555-0100", raw["phone_number"])
}

func TestIngestRecord_HasIdentityKey(t *testing.T) {
	assert.False(t, (&IngestRecord{}).HasIdentityKey())
	assert.True(t, (&IngestRecord{Email: "a@x.com"}).HasIdentityKey())
	assert.True(t, (&IngestRecord{Cookie: "c1"}).HasIdentityKey())
}

func TestCohortScore_ScaledScore_Truncates(t *testing.T) {
	assert.Equal(t, 92, CohortScore{SimilarityScore: 0.929}.ScaledScore())
	assert.Equal(t, 10, CohortScore{SimilarityScore: 0.1}.ScaledScore())
	assert.Equal(t, 100, CohortScore{SimilarityScore: 1.0}.ScaledScore())
	assert.Equal(t, 99, CohortScore{SimilarityScore: 0.999}.ScaledScore())
}
