// Package store persists identities, cohort assignments and the raw
// ingestion log. Two drivers implement the same contract: Postgres (pgx) for
// production and SQLite for local development.
package store

import (
	"context"

	"github.com/sells-group/audience-engine/internal/model"
)

// IdentityFilter matches identities by contact-point membership. Non-empty
// fields combine with logical OR; at least one must be set.
type IdentityFilter struct {
	Email  string
	Cookie string
}

// Empty reports whether the filter has no usable condition.
func (f IdentityFilter) Empty() bool {
	return f.Email == "" && f.Cookie == ""
}

// Store defines the persistence contract required by the engine.
//
// UpdateIdentity applies the given field assignments to one identity and
// always bumps updated_at, whether or not the caller included it. Rows from
// FindIdentities come back in store-default order; the resolver picks the
// first.
type Store interface {
	// Identities
	FindIdentities(ctx context.Context, filter IdentityFilter) ([]model.Identity, error)
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
	InsertIdentity(ctx context.Context, identity model.Identity) error
	UpdateIdentity(ctx context.Context, id string, fields map[string]any) error

	// Cohort assignments
	DeleteCohortsByEmail(ctx context.Context, email string) error
	InsertCohortAssignments(ctx context.Context, rows []model.CohortAssignment) error
	ListCohortMembers(ctx context.Context, cohort string, limit, offset int) ([]model.CohortMember, error)

	// Raw ingestion log
	LogRawRecords(ctx context.Context, records []model.IngestRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// identityColumns is the scan/select order shared by both drivers.
const identityColumns = `id, emails, cookies, interests, cohorts, demographics, location, extra, created_at, updated_at, deleted_at`

// updatableIdentityFields is the whitelist of columns UpdateIdentity accepts.
// Anything outside it is a programming error surfaced by the drivers.
var updatableIdentityFields = map[string]bool{
	"emails":       true,
	"cookies":      true,
	"interests":    true,
	"cohorts":      true,
	"demographics": true,
	"location":     true,
	"extra":        true,
}
