package report

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/easybill/mehsh/model"
)

// Index is a local, queryable log of every report Runner has written —
// a discrete event log of filesystem artifacts, not a time-series store,
// queryable without a directory walk.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the SQLite file at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("report index: open %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis TEXT NOT NULL,
	to_peer TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	path TEXT NOT NULL UNIQUE,
	exit_code INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_analysis_peer ON reports(analysis, to_peer);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("report index: migrate: %w", err)
	}

	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Insert records one report that was successfully written to disk.
func (idx *Index) Insert(rec model.ReportRecord) error {
	_, err := idx.db.Exec(
		`INSERT INTO reports (analysis, to_peer, started_at, path, exit_code, size_bytes) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Analysis, rec.ToPeer, rec.StartedAt.Unix(), rec.Path, rec.ExitCode, rec.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("report index: insert: %w", err)
	}
	return nil
}

// List returns every report recorded for the given analysis/peer pair,
// most recent first.
func (idx *Index) List(analysis, toPeer string) ([]model.ReportRecord, error) {
	rows, err := idx.db.Query(
		`SELECT analysis, to_peer, started_at, path, exit_code, size_bytes FROM reports WHERE analysis = ? AND to_peer = ? ORDER BY started_at DESC`,
		analysis, toPeer,
	)
	if err != nil {
		return nil, fmt.Errorf("report index: list: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// Recent returns the n most recently written reports across all routes.
func (idx *Index) Recent(n int) ([]model.ReportRecord, error) {
	rows, err := idx.db.Query(
		`SELECT analysis, to_peer, started_at, path, exit_code, size_bytes FROM reports ORDER BY started_at DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("report index: recent: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

func scanReports(rows *sql.Rows) ([]model.ReportRecord, error) {
	var out []model.ReportRecord
	for rows.Next() {
		var rec model.ReportRecord
		var startedAt int64
		if err := rows.Scan(&rec.Analysis, &rec.ToPeer, &startedAt, &rec.Path, &rec.ExitCode, &rec.SizeBytes); err != nil {
			return nil, fmt.Errorf("report index: scan: %w", err)
		}
		rec.StartedAt = time.Unix(startedAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}
