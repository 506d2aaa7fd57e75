package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is RFC3339 with fixed-width nanoseconds so stored values sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// AddRun stores a run and its per-container results in one transaction.
func (s *Store) AddRun(ctx context.Context, r Run, results []RunResult) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO runs (kind, started_at, finished_at, file, total, failed, body)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, r.Kind, formatTime(r.StartedAt), nullTime(r.FinishedAt), nullStr(r.File), r.Total, r.Failed, r.Body)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, rr := range results {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_results (run_id, container, image, status, new_container_id, duration_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, id, rr.Container, nullStr(rr.Image), rr.Status, nullStr(rr.NewContainerID), rr.DurationMS); err != nil {
			return 0, fmt.Errorf("insert run result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListRuns returns the newest runs first. An empty kind lists every kind.
func (s *Store) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, started_at, finished_at, file, total, failed, body
FROM runs
WHERE (? = '' OR kind = ?)
ORDER BY started_at DESC, id DESC
LIMIT ?
`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRun(ctx context.Context, id int64) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, kind, started_at, finished_at, file, total, failed, body
FROM runs WHERE id = ?
`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return r, true, nil
}

// ListResultsByContainer returns the latest update outcomes for one container.
func (s *Store) ListResultsByContainer(ctx context.Context, container string, limit int) ([]RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, container, image, status, new_container_id, duration_ms
FROM run_results
WHERE container = ?
ORDER BY run_id DESC, id DESC
LIMIT ?
`, container, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunResult
	for rows.Next() {
		var rr RunResult
		var image sql.NullString
		var newID sql.NullString
		if err := rows.Scan(&rr.ID, &rr.RunID, &rr.Container, &image, &rr.Status, &newID, &rr.DurationMS); err != nil {
			return nil, err
		}
		rr.Image = image.String
		rr.NewContainerID = newID.String
		out = append(out, rr)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	var file sql.NullString
	if err := row.Scan(&r.ID, &r.Kind, &startedAt, &finishedAt, &file, &r.Total, &r.Failed, &r.Body); err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		r.FinishedAt = parseTime(finishedAt.String)
	}
	r.File = file.String
	return r, nil
}

func nullStr(val string) interface{} {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(timeLayout)
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(val string) time.Time {
	if val == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
