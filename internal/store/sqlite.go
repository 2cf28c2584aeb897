package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/audience-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Set-valued and
// structured identity fields are stored as JSON text; contact-point
// membership matches via json_each.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS identities (
	id           TEXT PRIMARY KEY,
	emails       TEXT NOT NULL DEFAULT '[]',
	cookies      TEXT NOT NULL DEFAULT '[]',
	interests    TEXT NOT NULL DEFAULT '[]',
	cohorts      TEXT NOT NULL DEFAULT '[]',
	demographics TEXT,
	location     TEXT,
	extra        TEXT,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	deleted_at   DATETIME
);

CREATE TABLE IF NOT EXISTS cohort_assignments (
	email       TEXT NOT NULL,
	cohort      TEXT NOT NULL,
	identity_id TEXT NOT NULL,
	score       INTEGER NOT NULL,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (email, cohort)
);

CREATE INDEX IF NOT EXISTS idx_cohort_assignments_cohort ON cohort_assignments(cohort);
CREATE INDEX IF NOT EXISTS idx_cohort_assignments_identity ON cohort_assignments(identity_id);

CREATE TABLE IF NOT EXISTS raw_records (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindIdentities(ctx context.Context, filter IdentityFilter) ([]model.Identity, error) {
	if filter.Empty() {
		return nil, eris.New("sqlite: empty identity filter")
	}

	var conds []string
	var args []any
	if filter.Email != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM json_each(identities.emails) WHERE json_each.value = ?)`)
		args = append(args, filter.Email)
	}
	if filter.Cookie != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM json_each(identities.cookies) WHERE json_each.value = ?)`)
		args = append(args, filter.Cookie)
	}

	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + strings.Join(conds, " OR ")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find identities")
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		identity, err := scanSQLiteIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: find identities rows")
	}
	return out, nil
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	identity, err := scanSQLiteIdentity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get identity %s", id)
	}
	return identity, nil
}

func (s *SQLiteStore) InsertIdentity(ctx context.Context, identity model.Identity) error {
	emails, err := json.Marshal(emptyIfNil(identity.Emails))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal emails")
	}
	cookies, _ := json.Marshal(emptyIfNil(identity.Cookies))
	interests, _ := json.Marshal(emptyIfNil(identity.Interests))
	cohorts, _ := json.Marshal(emptyIfNil(identity.Cohorts))
	demographics, location, extra, err := marshalIdentityJSON(identity)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (id, emails, cookies, interests, cohorts, demographics, location, extra, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		identity.ID, string(emails), string(cookies), string(interests), string(cohorts),
		nullableText(demographics), nullableText(location), nullableText(extra),
		identity.CreatedAt, identity.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert identity %s", identity.ID)
}

func (s *SQLiteStore) UpdateIdentity(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return eris.New("sqlite: no fields to update")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !updatableIdentityFields[k] {
			return eris.Errorf("sqlite: unknown identity field %q", k)
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
				return eris.Wrapf(err, "sqlite: marshal %s", k)
			}
			args = append(args, nullableText(data))
		default:
			list, ok := v.([]string)
			if !ok {
				return eris.Errorf("sqlite: field %q must be []string", k)
			}
			data, err := json.Marshal(emptyIfNil(list))
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal %s", k)
			}
			args = append(args, string(data))
		}
		sets = append(sets, fmt.Sprintf("%s = ?", k))
	}

	args = append(args, time.Now().UTC(), id)
	query := fmt.Sprintf("UPDATE identities SET %s, updated_at = ? WHERE id = ?", strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update identity %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: identity not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteCohortsByEmail(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cohort_assignments WHERE email = ?`, email)
	return eris.Wrapf(err, "sqlite: delete cohorts for %s", email)
}

func (s *SQLiteStore) InsertCohortAssignments(ctx context.Context, rows []model.CohortAssignment) error {
	if len(rows) == 0 {
		return nil
	}

	var values []string
	var args []any
	for _, r := range rows {
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, r.Email, r.Cohort, r.IdentityID, r.Score, r.CreatedAt, r.UpdatedAt)
	}

	query := `INSERT INTO cohort_assignments (email, cohort, identity_id, score, created_at, updated_at) VALUES ` +
		strings.Join(values, ", ")
	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: insert cohort assignments")
}

func (s *SQLiteStore) ListCohortMembers(ctx context.Context, cohort string, limit, offset int) ([]model.CohortMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, score FROM cohort_assignments WHERE cohort = ? ORDER BY score DESC, updated_at DESC, email ASC LIMIT ? OFFSET ?`,
		cohort, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list cohort %s", cohort)
	}
	defer rows.Close()

	var out []model.CohortMember
	for rows.Next() {
		var email string
		var score int
		if err := rows.Scan(&email, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cohort member")
		}
		out = append(out, model.CohortMember{
			Email:           email,
			SimilarityScore: float64(score) / 100.0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list cohort rows")
	}
	return out, nil
}

func (s *SQLiteStore) LogRawRecords(ctx context.Context, records []model.IngestRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var values []string
	var args []any
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal raw record")
		}
		values = append(values, "(?, ?, ?)")
		args = append(args, uuid.New().String(), string(payload), now)
	}

	query := `INSERT INTO raw_records (id, payload, created_at) VALUES ` + strings.Join(values, ", ")
	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: log raw records")
}

// --- scan helpers ---

// sqlScanner covers both *sql.Row and *sql.Rows.
type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteIdentity(row sqlScanner) (*model.Identity, error) {
	var i model.Identity
	var emails, cookies, interests, cohorts string
	var demographics, location, extra sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(&i.ID, &emails, &cookies, &interests, &cohorts,
		&demographics, &location, &extra, &i.CreatedAt, &i.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		raw  string
		dest *[]string
	}{
		{emails, &i.Emails},
		{cookies, &i.Cookies},
		{interests, &i.Interests},
		{cohorts, &i.Cohorts},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal identity list")
		}
	}

	if demographics.Valid {
		i.Demographics = &model.Demographics{}
		if err := json.Unmarshal([]byte(demographics.String), i.Demographics); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal demographics")
		}
	}
	if location.Valid {
		i.Location = &model.Location{}
		if err := json.Unmarshal([]byte(location.String), i.Location); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal location")
		}
	}
	if extra.Valid {
		if err := json.Unmarshal([]byte(extra.String), &i.Extra); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal extra")
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		i.DeletedAt = &t
	}
	return &i, nil
}

func nullableText(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}
