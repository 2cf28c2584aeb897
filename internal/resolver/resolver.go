// Package resolver merges raw ingest records into canonical identities.
// Matching is by contact point: a record's email or cookie landing on an
// existing identity folds the record into it, otherwise a fresh identity is
// minted. Contact points are union-only; nothing is ever removed on merge.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/interest"
	"github.com/sells-group/audience-engine/internal/model"
	"github.com/sells-group/audience-engine/internal/store"
)

// Trigger is called after an identity has been persisted, with its id. The
// engine wires the segmentation dispatcher here; tests wire a recorder.
type Trigger func(identityID string)

// Resolver folds ingest records into the identity store.
type Resolver struct {
	store   store.Store
	trigger Trigger
}

// New builds a Resolver. A nil trigger disables post-persist dispatch.
func New(s store.Store, trigger Trigger) *Resolver {
	if trigger == nil {
		trigger = func(string) {}
	}
	return &Resolver{store: s, trigger: trigger}
}

// Resolve matches the record against existing identities and either merges it
// into the first match or creates a new identity. Records with neither email
// nor cookie cannot resolve and are dropped with a (nil, nil) return. After a
// successful write the segmentation trigger fires with the identity id.
func (r *Resolver) Resolve(ctx context.Context, rec model.IngestRecord) (*model.Identity, error) {
	if !rec.HasIdentityKey() {
		zap.L().Warn("resolver: record has no email or cookie, skipping")
		return nil, nil
	}

	matches, err := r.store.FindIdentities(ctx, store.IdentityFilter{
		Email:  rec.Email,
		Cookie: rec.Cookie,
	})
	if err != nil {
		return nil, eris.Wrap(err, "resolver: find identities")
	}

	if len(matches) > 0 {
		// Multiple matches mean the record bridges identities we are not
		// merging here; the first match absorbs the record.
		return r.merge(ctx, matches[0], rec)
	}
	return r.create(ctx, rec)
}

func (r *Resolver) merge(ctx context.Context, target model.Identity, rec model.IngestRecord) (*model.Identity, error) {
	if rec.Email != "" && !target.HasEmail(rec.Email) {
		target.Emails = append(target.Emails, rec.Email)
	}
	if rec.Cookie != "" && !target.HasCookie(rec.Cookie) {
		target.Cookies = append(target.Cookies, rec.Cookie)
	}

	// Incoming interests go first so a casing conflict resolves to the
	// newest submission.
	incoming := interest.Normalize(rec.Interests)
	target.Interests = interest.NormalizeStrings(append(incoming, target.Interests...))

	fields := map[string]any{
		"emails":    target.Emails,
		"cookies":   target.Cookies,
		"interests": target.Interests,
	}
	if rec.Demographics != nil {
		target.Demographics = rec.Demographics
		fields["demographics"] = rec.Demographics
	}
	if rec.Location != nil {
		target.Location = rec.Location
		fields["location"] = rec.Location
	}
	if len(rec.Extra) > 0 {
		if target.Extra == nil {
			target.Extra = make(map[string]any, len(rec.Extra))
		}
		for k, v := range rec.Extra {
			target.Extra[k] = v
		}
		fields["extra"] = target.Extra
	}

	if err := r.store.UpdateIdentity(ctx, target.ID, fields); err != nil {
		return nil, eris.Wrapf(err, "resolver: merge into %s", target.ID)
	}

	zap.L().Debug("resolver: merged record",
		zap.String("identity_id", target.ID),
		zap.Int("emails", len(target.Emails)),
		zap.Int("cookies", len(target.Cookies)),
		zap.Int("interests", len(target.Interests)))

	r.trigger(target.ID)
	return &target, nil
}

func (r *Resolver) create(ctx context.Context, rec model.IngestRecord) (*model.Identity, error) {
	now := time.Now().UTC()
	identity := model.Identity{
		ID:           uuid.New().String(),
		Emails:       []string{},
		Cookies:      []string{},
		Interests:    interest.Normalize(rec.Interests),
		Cohorts:      []string{},
		Demographics: rec.Demographics,
		Location:     rec.Location,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rec.Email != "" {
		identity.Emails = []string{rec.Email}
	}
	if rec.Cookie != "" {
		identity.Cookies = []string{rec.Cookie}
	}
	if len(rec.Extra) > 0 {
		identity.Extra = rec.Extra
	}

	if err := r.store.InsertIdentity(ctx, identity); err != nil {
		return nil, eris.Wrap(err, "resolver: create identity")
	}

	zap.L().Debug("resolver: created identity", zap.String("identity_id", identity.ID))

	r.trigger(identity.ID)
	return &identity, nil
}
