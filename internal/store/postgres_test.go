package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func identityRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "emails", "cookies", "interests", "cohorts",
		"demographics", "location", "extra", "created_at", "updated_at", "deleted_at",
	})
}

func TestPostgresStore_FindIdentities_EmailOrCookie(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM identities WHERE emails @> ARRAY\[\$1\] OR cookies @> ARRAY\[\$2\]`).
		WithArgs("a@x.com", "c1").
		WillReturnRows(identityRows().AddRow(
			"id-1", []string{"a@x.com"}, []string{"c1"}, []string{"music"}, []string{},
			nil, nil, nil, now, now, nil,
		))

	got, err := s.FindIdentities(context.Background(), IdentityFilter{Email: "a@x.com", Cookie: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "id-1", got[0].ID)
	assert.Equal(t, []string{"a@x.com"}, got[0].Emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindIdentities_SingleFieldFiltersOnThatFieldAlone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM identities WHERE cookies @> ARRAY\[\$1\]$`).
		WithArgs("c1").
		WillReturnRows(identityRows())

	got, err := s.FindIdentities(context.Background(), IdentityFilter{Cookie: "c1"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindIdentities_EmptyFilterRejected(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.FindIdentities(context.Background(), IdentityFilter{})
	require.Error(t, err)
}

func TestPostgresStore_GetIdentity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM identities WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(identityRows())

	got, err := s.GetIdentity(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIdentity_BumpsUpdatedAt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE identities SET emails = \$1, interests = \$2, updated_at = now\(\) WHERE id = \$3`).
		WithArgs([]string{"a@x.com", "b@x.com"}, []string{"music"}, "id-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateIdentity(context.Background(), "id-1", map[string]any{
		"interests": []string{"music"},
		"emails":    []string{"a@x.com", "b@x.com"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIdentity_UnknownFieldRejected(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	err := s.UpdateIdentity(context.Background(), "id-1", map[string]any{"id": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown identity field")
}

func TestPostgresStore_UpdateIdentity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE identities SET cohorts = \$1`).
		WithArgs([]string{"outdoor"}, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateIdentity(context.Background(), "ghost", map[string]any{
		"cohorts": []string{"outdoor"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity not found")
}

func TestPostgresStore_CohortReplace_DeleteThenInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`DELETE FROM cohort_assignments WHERE email = \$1`).
		WithArgs("a@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO cohort_assignments \(email, cohort, identity_id, score, created_at, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\), \(\$7, \$8, \$9, \$10, \$11, \$12\)`).
		WithArgs("a@x.com", "outdoor", "id-1", 92, now, now, "a@x.com", "fitness", "id-1", 35, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, s.DeleteCohortsByEmail(context.Background(), "a@x.com"))
	require.NoError(t, s.InsertCohortAssignments(context.Background(), []model.CohortAssignment{
		{IdentityID: "id-1", Email: "a@x.com", Cohort: "outdoor", Score: 92, CreatedAt: now, UpdatedAt: now},
		{IdentityID: "id-1", Email: "a@x.com", Cohort: "fitness", Score: 35, CreatedAt: now, UpdatedAt: now},
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCohortAssignments_EmptyNoOp(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.InsertCohortAssignments(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCohortMembers_ScalesScores(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT email, score FROM cohort_assignments WHERE cohort = \$1 ORDER BY score DESC, updated_at DESC, email ASC LIMIT \$2 OFFSET \$3`).
		WithArgs("outdoor", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"email", "score"}).
			AddRow("a@x.com", 92).
			AddRow("b@x.com", 35))

	got, err := s.ListCohortMembers(context.Background(), "outdoor", 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.CohortMember{Email: "a@x.com", SimilarityScore: 0.92}, got[0])
	assert.Equal(t, model.CohortMember{Email: "b@x.com", SimilarityScore: 0.35}, got[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LogRawRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO raw_records \(id, payload, created_at\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.LogRawRecords(context.Background(), []model.IngestRecord{
		{Email: "a@x.com", Cookie: "c1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
