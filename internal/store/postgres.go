package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audience-engine/internal/db"
	"github.com/sells-group/audience-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot path: every ingested record runs a find, an insert-or-update and a
// projection rewrite.
var preparedStatements = map[string]string{
	"get_identity":            `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`,
	"delete_cohorts_by_email": `DELETE FROM cohort_assignments WHERE email = $1`,
	"list_cohort_members":     `SELECT email, score FROM cohort_assignments WHERE cohort = $1 ORDER BY score DESC, updated_at DESC, email ASC LIMIT $2 OFFSET $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS identities (
	id           TEXT PRIMARY KEY,
	emails       TEXT[] NOT NULL DEFAULT '{}',
	cookies      TEXT[] NOT NULL DEFAULT '{}',
	interests    TEXT[] NOT NULL DEFAULT '{}',
	cohorts      TEXT[] NOT NULL DEFAULT '{}',
	demographics JSONB,
	location     JSONB,
	extra        JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_identities_emails ON identities USING GIN (emails);
CREATE INDEX IF NOT EXISTS idx_identities_cookies ON identities USING GIN (cookies);

CREATE TABLE IF NOT EXISTS cohort_assignments (
	email       TEXT NOT NULL,
	cohort      TEXT NOT NULL,
	identity_id TEXT NOT NULL,
	score       INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (email, cohort)
);

CREATE INDEX IF NOT EXISTS idx_cohort_assignments_cohort ON cohort_assignments(cohort);
CREATE INDEX IF NOT EXISTS idx_cohort_assignments_identity ON cohort_assignments(identity_id);

CREATE TABLE IF NOT EXISTS raw_records (
	id         TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindIdentities(ctx context.Context, filter IdentityFilter) ([]model.Identity, error) {
	if filter.Empty() {
		return nil, eris.New("postgres: empty identity filter")
	}

	var conds []string
	var args []any
	if filter.Email != "" {
		args = append(args, filter.Email)
		conds = append(conds, fmt.Sprintf("emails @> ARRAY[$%d]", len(args)))
	}
	if filter.Cookie != "" {
		args = append(args, filter.Cookie)
		conds = append(conds, fmt.Sprintf("cookies @> ARRAY[$%d]", len(args)))
	}

	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + strings.Join(conds, " OR ")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find identities")
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: find identities rows")
	}
	return out, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get identity %s", id)
	}
	return identity, nil
}

func (s *PostgresStore) InsertIdentity(ctx context.Context, identity model.Identity) error {
	demographics, location, extra, err := marshalIdentityJSON(identity)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO identities (id, emails, cookies, interests, cohorts, demographics, location, extra, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		identity.ID,
		emptyIfNil(identity.Emails),
		emptyIfNil(identity.Cookies),
		emptyIfNil(identity.Interests),
		emptyIfNil(identity.Cohorts),
		demographics, location, extra,
		identity.CreatedAt, identity.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert identity %s", identity.ID)
}

func (s *PostgresStore) UpdateIdentity(ctx context.Context, id string, fields map[string]any) error {
	sets, args, err := buildIdentityUpdate(fields)
	if err != nil {
		return err
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE identities SET %s, updated_at = now() WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update identity %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: identity not found: %s", id)
	}
	return nil
}

// buildIdentityUpdate renders a deterministic SET clause (keys sorted) from a
// whitelisted field map. Struct and map values are stored as JSONB.
func buildIdentityUpdate(fields map[string]any) ([]string, []any, error) {
	if len(fields) == 0 {
		return nil, nil, eris.New("postgres: no fields to update")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !updatableIdentityFields[k] {
			return nil, nil, eris.Errorf("postgres: unknown identity field %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sets []string
	var args []any
	for _, k := range keys {
		v := fields[k]
		switch k {
		case "demographics", "location", "extra":
			data, err := marshalNullable(v)
			if err != nil {
				return nil, nil, eris.Wrapf(err, "postgres: marshal %s", k)
			}
			args = append(args, data)
		default:
			args = append(args, v)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	return sets, args, nil
}

func (s *PostgresStore) DeleteCohortsByEmail(ctx context.Context, email string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cohort_assignments WHERE email = $1`, email)
	return eris.Wrapf(err, "postgres: delete cohorts for %s", email)
}

func (s *PostgresStore) InsertCohortAssignments(ctx context.Context, rows []model.CohortAssignment) error {
	if len(rows) == 0 {
		return nil
	}

	var values []string
	var args []any
	for _, r := range rows {
		args = append(args, r.Email, r.Cohort, r.IdentityID, r.Score, r.CreatedAt, r.UpdatedAt)
		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			n-5, n-4, n-3, n-2, n-1, n))
	}

	query := `INSERT INTO cohort_assignments (email, cohort, identity_id, score, created_at, updated_at) VALUES ` +
		strings.Join(values, ", ")
	_, err := s.pool.Exec(ctx, query, args...)
	return eris.Wrap(err, "postgres: insert cohort assignments")
}

func (s *PostgresStore) ListCohortMembers(ctx context.Context, cohort string, limit, offset int) ([]model.CohortMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email, score FROM cohort_assignments WHERE cohort = $1 ORDER BY score DESC, updated_at DESC, email ASC LIMIT $2 OFFSET $3`,
		cohort, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list cohort %s", cohort)
	}
	defer rows.Close()

	var out []model.CohortMember
	for rows.Next() {
		var email string
		var score int
		if err := rows.Scan(&email, &score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cohort member")
		}
		out = append(out, model.CohortMember{
			Email:           email,
			SimilarityScore: float64(score) / 100.0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list cohort rows")
	}
	return out, nil
}

func (s *PostgresStore) LogRawRecords(ctx context.Context, records []model.IngestRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var values []string
	var args []any
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal raw record")
		}
		args = append(args, uuid.New().String(), payload, now)
		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", n-2, n-1, n))
	}

	query := `INSERT INTO raw_records (id, payload, created_at) VALUES ` + strings.Join(values, ", ")
	_, err := s.pool.Exec(ctx, query, args...)
	return eris.Wrap(err, "postgres: log raw records")
}

// --- scan helpers ---

func scanIdentity(row pgx.Row) (*model.Identity, error) {
	var i model.Identity
	var demographics, location, extra []byte

	err := row.Scan(&i.ID, &i.Emails, &i.Cookies, &i.Interests, &i.Cohorts,
		&demographics, &location, &extra, &i.CreatedAt, &i.UpdatedAt, &i.DeletedAt)
	if err != nil {
		return nil, err
	}

	if len(demographics) > 0 {
		i.Demographics = &model.Demographics{}
		if err := json.Unmarshal(demographics, i.Demographics); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal demographics")
		}
	}
	if len(location) > 0 {
		i.Location = &model.Location{}
		if err := json.Unmarshal(location, i.Location); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal location")
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &i.Extra); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extra")
		}
	}
	return &i, nil
}

func marshalIdentityJSON(identity model.Identity) (demographics, location, extra []byte, err error) {
	if demographics, err = marshalNullable(identity.Demographics); err != nil {
		return nil, nil, nil, eris.Wrap(err, "postgres: marshal demographics")
	}
	if location, err = marshalNullable(identity.Location); err != nil {
		return nil, nil, nil, eris.Wrap(err, "postgres: marshal location")
	}
	if extra, err = marshalNullable(identity.Extra); err != nil {
		return nil, nil, nil, eris.Wrap(err, "postgres: marshal extra")
	}
	return demographics, location, extra, nil
}

// marshalNullable keeps NULL columns NULL instead of storing JSON "null".
func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *model.Demographics:
		if t == nil {
			return nil, nil
		}
	case *model.Location:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
