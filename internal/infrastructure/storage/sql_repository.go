package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

const (
	outcomesTable = "sync_outcomes"
	successIndex  = "uq_sync_outcomes_success"

	// sqliteTimeLayout is fixed width so text order matches time order.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

var outcomeColumns = []string{"id", "encounter_id", "patient_ref", "fee", "status", "order_ref", "message", "synced_at"}

type dialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	schema      []string
	inClause    func(ids []string) sq.Sqlizer
	timeValue   func(time.Time) any
	isDuplicate func(error) bool
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: sq.Dollar,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS sync_outcomes (
    id           TEXT PRIMARY KEY,
    encounter_id TEXT NOT NULL,
    patient_ref  TEXT NOT NULL DEFAULT '',
    fee          DOUBLE PRECISION NOT NULL DEFAULT 0,
    status       TEXT NOT NULL CHECK (status IN ('success', 'failed')),
    order_ref    TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    synced_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_outcomes_encounter ON sync_outcomes (encounter_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_sync_outcomes_success ON sync_outcomes (encounter_id) WHERE status = 'success'`,
	},
	inClause: func(ids []string) sq.Sqlizer {
		return sq.Expr("encounter_id = ANY(?)", pq.Array(ids))
	},
	timeValue: func(t time.Time) any { return t.UTC() },
	isDuplicate: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == successIndex
	},
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: sq.Question,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS sync_outcomes (
    id           TEXT PRIMARY KEY,
    encounter_id TEXT NOT NULL,
    patient_ref  TEXT NOT NULL DEFAULT '',
    fee          REAL NOT NULL DEFAULT 0,
    status       TEXT NOT NULL CHECK (status IN ('success', 'failed')),
    order_ref    TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    synced_at    TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_outcomes_encounter ON sync_outcomes (encounter_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_sync_outcomes_success ON sync_outcomes (encounter_id) WHERE status = 'success'`,
	},
	inClause: func(ids []string) sq.Sqlizer {
		return sq.Eq{"encounter_id": ids}
	},
	timeValue: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	isDuplicate: func(err error) bool {
		var sqliteErr *sqlite.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed: sync_outcomes.encounter_id")
	},
}

// SQLRepository persists sync outcomes into Postgres or SQLite.
type SQLRepository struct {
	db      *sql.DB
	dialect dialect
	builder sq.StatementBuilderType
}

var _ ports.SyncLedger = (*SQLRepository)(nil)

// NewPostgresRepository wires a sql.DB opened with the lib/pq driver.
func NewPostgresRepository(db *sql.DB) *SQLRepository {
	return newSQLRepository(db, postgresDialect)
}

// NewSQLiteRepository wires a sql.DB opened with the modernc sqlite driver.
func NewSQLiteRepository(db *sql.DB) *SQLRepository {
	return newSQLRepository(db, sqliteDialect)
}

func newSQLRepository(db *sql.DB, d dialect) *SQLRepository {
	return &SQLRepository{
		db:      db,
		dialect: d,
		builder: sq.StatementBuilder.PlaceholderFormat(d.placeholder),
	}
}

// Migrate creates the outcome table and its indexes.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", r.dialect.name, err)
		}
	}
	return nil
}

// Exists reports whether encounterID has a record with the given status.
func (r *SQLRepository) Exists(ctx context.Context, encounterID string, status domain.OutcomeStatus) (bool, error) {
	query, args, err := r.withStatus(
		r.builder.Select("1").From(outcomesTable).Where(sq.Eq{"encounter_id": encounterID}).Limit(1),
		status,
	).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query exists: %w", err)
	}
	return true, nil
}

// ProcessedSet returns a map with the IDs that already have a matching record.
func (r *SQLRepository) ProcessedSet(ctx context.Context, ids []string, status domain.OutcomeStatus) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := r.withStatus(
		r.builder.Select("DISTINCT encounter_id").From(outcomesTable).Where(r.dialect.inClause(ids)),
		status,
	).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build processed query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query processed: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// Append inserts rec; a second success for the same encounter is rejected by
// the partial unique index and reported as domain.ErrDuplicateSuccess.
func (r *SQLRepository) Append(ctx context.Context, rec domain.SyncOutcomeRecord) error {
	if rec.ID == "" || rec.EncounterID == "" {
		return fmt.Errorf("%w: outcome record needs id and encounter id", domain.ErrInvalidInput)
	}
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = time.Now()
	}

	query, args, err := r.builder.Insert(outcomesTable).
		Columns(outcomeColumns...).
		Values(rec.ID, rec.EncounterID, rec.PatientRef, rec.Fee, string(rec.Status), rec.OrderRef, rec.Message, r.dialect.timeValue(rec.SyncedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if r.dialect.isDuplicate(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSuccess, rec.EncounterID)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// History lists every record of encounterID, oldest first.
func (r *SQLRepository) History(ctx context.Context, encounterID string) ([]domain.SyncOutcomeRecord, error) {
	query, args, err := r.builder.Select(outcomeColumns...).
		From(outcomesTable).
		Where(sq.Eq{"encounter_id": encounterID}).
		OrderBy("synced_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncOutcomeRecord
	for rows.Next() {
		var (
			rec      domain.SyncOutcomeRecord
			status   string
			syncedAt any
		)
		if err := rows.Scan(&rec.ID, &rec.EncounterID, &rec.PatientRef, &rec.Fee, &status, &rec.OrderRef, &rec.Message, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		rec.Status = domain.OutcomeStatus(status)
		if rec.SyncedAt, err = scanTime(syncedAt); err != nil {
			return nil, fmt.Errorf("scan outcome %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (r *SQLRepository) Close(context.Context) error {
	return r.db.Close()
}

func (r *SQLRepository) withStatus(b sq.SelectBuilder, status domain.OutcomeStatus) sq.SelectBuilder {
	if status == "" {
		return b
	}
	return b.Where(sq.Eq{"status": string(status)})
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimeText(t)
	case []byte:
		return parseTimeText(string(t))
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func parseTimeText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", s)
}
