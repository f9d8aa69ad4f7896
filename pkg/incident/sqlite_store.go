// SPDX-License-Identifier: Apache-2.0
package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"

	_ "modernc.org/sqlite"
)

const incidentTable = "incidents"

// SQLiteStore persists incidents in a SQLite database so the audit trail
// survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed incident store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) the database at path and returns a
// store bound to it. Use ":memory:" for tests.
func OpenSQLiteStore(path string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			severity TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			resolved_at INTEGER NOT NULL DEFAULT 0,
			incident_json BLOB NOT NULL
		);`, incidentTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);`, incidentTable, incidentTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_started ON %s(started_at);`, incidentTable, incidentTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, inc Incident) error {
	if inc.ID == "" {
		return errors.New(errors.CodeInvalidInput, "incident id is required", nil)
	}
	payload, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, status, severity, started_at, resolved_at, incident_json) VALUES (?, ?, ?, ?, ?, ?)", incidentTable),
		inc.ID, string(inc.Status), string(inc.Severity), inc.StartedAt.UTC().UnixMilli(), resolvedMilli(inc), payload)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Incident, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT incident_json FROM %s WHERE id = ?", incidentTable), id).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return Incident{}, errors.New(errors.CodeNotFound, "incident not found", nil).
				WithContext("incident_id", id)
		}
		return Incident{}, err
	}
	return unmarshalIncident(payload)
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, inc Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, severity = ?, started_at = ?, resolved_at = ?, incident_json = ? WHERE id = ?", incidentTable),
		string(inc.Status), string(inc.Severity), inc.StartedAt.UTC().UnixMilli(), resolvedMilli(inc), payload, inc.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New(errors.CodeNotFound, "incident not found", nil).
			WithContext("incident_id", inc.ID)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Incident, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf("SELECT incident_json FROM %s%s ORDER BY started_at DESC, id ASC", incidentTable, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		inc, err := unmarshalIncident(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func buildFilter(filter Filter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "started_at <= ?")
		args = append(args, filter.Until.UTC().UnixMilli())
	}
	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE " + clauses[0]
	for i := 1; i < len(clauses); i++ {
		where += " AND " + clauses[i]
	}
	return where, args
}

func resolvedMilli(inc Incident) int64 {
	if inc.ResolvedAt == nil {
		return 0
	}
	return inc.ResolvedAt.UTC().UnixMilli()
}

func unmarshalIncident(payload []byte) (Incident, error) {
	var inc Incident
	if err := json.Unmarshal(payload, &inc); err != nil {
		return Incident{}, err
	}
	if inc.ResolvedAt != nil && inc.ResolvedAt.Equal(time.Time{}) {
		inc.ResolvedAt = nil
	}
	return inc, nil
}
