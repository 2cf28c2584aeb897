package model

import "time"

// CohortScore is one entry of a classification result: a cohort name from the
// closed catalogue and the classifier's similarity score in [0.1, 1.0].
// Result order is descending relevance and is preserved through dedup.
type CohortScore struct {
	Cohort          string  `json:"cohort"`
	SimilarityScore float64 `json:"similarity_score"`
}

// ScaledScore converts the float similarity to the stored integer in [0,100].
// Truncation, not rounding: 0.929 stores as 92. This matches the observable
// behavior downstream consumers already depend on.
func (s CohortScore) ScaledScore() int {
	return int(s.SimilarityScore * 100)
}

// CohortAssignment links one email to one cohort with a scaled score.
// (email, cohort) is the composite key; identity_id is a back-reference only.
// The full set of rows for an email is replaced on every classification run.
type CohortAssignment struct {
	IdentityID string    `json:"user_id"`
	Email      string    `json:"email"`
	Cohort     string    `json:"cohort"`
	Score      int       `json:"similarity_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CohortMember is the read projection returned by the cohort listing query,
// with the stored integer score scaled back to a float.
type CohortMember struct {
	Email           string  `json:"email"`
	SimilarityScore float64 `json:"similarity_score"`
}
