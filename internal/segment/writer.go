// Package segment maintains the per-email cohort projection. A run re-reads
// the identity, classifies its interests and replaces the cohort rows for each
// of its emails, then overwrites the identity's aggregate cohort set.
package segment

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/classifier"
	"github.com/sells-group/audience-engine/internal/model"
	"github.com/sells-group/audience-engine/internal/store"
)

// Writer runs classification for one identity and projects the result.
type Writer struct {
	store      store.Store
	classifier classifier.Classifier
}

// New builds a Writer over the given store and classifier.
func New(s store.Store, c classifier.Classifier) *Writer {
	return &Writer{store: s, classifier: c}
}

// Segment refreshes the cohort projection for the identity with the given id.
//
// The identity is re-read at execution time: it may have vanished or changed
// since the trigger fired, and both cases resolve quietly rather than erroring.
// An empty classification result leaves prior projection rows untouched.
// Replacement is per email with no cross-email transaction; a failure midway
// leaves earlier emails projected and later ones stale.
func (w *Writer) Segment(ctx context.Context, identityID string) error {
	identity, err := w.store.GetIdentity(ctx, identityID)
	if err != nil {
		return eris.Wrapf(err, "segment: read identity %s", identityID)
	}
	if identity == nil {
		zap.L().Debug("segment: identity vanished before run", zap.String("identity_id", identityID))
		return nil
	}
	if len(identity.Interests) == 0 || len(identity.Emails) == 0 {
		zap.L().Debug("segment: nothing to classify",
			zap.String("identity_id", identityID),
			zap.Int("interests", len(identity.Interests)),
			zap.Int("emails", len(identity.Emails)))
		return nil
	}

	scores, err := w.classifier.Classify(ctx, identityID, identity.Interests)
	if err != nil {
		return eris.Wrapf(err, "segment: classify %s", identityID)
	}
	if len(scores) == 0 {
		zap.L().Info("segment: empty classification, keeping prior projection",
			zap.String("identity_id", identityID))
		return nil
	}

	now := time.Now().UTC()
	cohorts := make([]string, 0, len(scores))
	for _, s := range scores {
		cohorts = append(cohorts, s.Cohort)
	}

	for _, email := range identity.Emails {
		rows := make([]model.CohortAssignment, 0, len(scores))
		for _, s := range scores {
			rows = append(rows, model.CohortAssignment{
				IdentityID: identityID,
				Email:      email,
				Cohort:     s.Cohort,
				Score:      s.ScaledScore(),
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		if err := w.store.DeleteCohortsByEmail(ctx, email); err != nil {
			return eris.Wrapf(err, "segment: clear projection for %s", email)
		}
		if err := w.store.InsertCohortAssignments(ctx, rows); err != nil {
			return eris.Wrapf(err, "segment: write projection for %s", email)
		}
	}

	if err := w.store.UpdateIdentity(ctx, identityID, map[string]any{"cohorts": cohorts}); err != nil {
		return eris.Wrapf(err, "segment: update cohorts on %s", identityID)
	}

	zap.L().Info("segment: projection refreshed",
		zap.String("identity_id", identityID),
		zap.Int("cohorts", len(cohorts)),
		zap.Int("emails", len(identity.Emails)))
	return nil
}
