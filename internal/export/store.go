package export

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store appends measurement runs to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema. It is
// safe to open the same file again.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes r in one transaction and returns the new run id.
func (s *Store) Save(ctx context.Context, r *Result) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var acc any
	if len(r.Accumulators) > 0 {
		acc = string(r.Accumulators)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (job_id, status, created_at, accumulators)
		 VALUES (?, ?, ?, ?)`,
		r.JobID, int(r.Status), r.CreatedAt.UTC().Format(time.RFC3339Nano), acc)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, name := range r.Columns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO columns (run_id, idx, name) VALUES (?, ?, ?)`,
			runID, i, name); err != nil {
			return 0, fmt.Errorf("insert column %s: %w", name, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO frame_values (run_id, row_idx, frame, column_idx, value)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for row, values := range r.Values {
		frame := row
		if row < len(r.Frames) {
			frame = int(r.Frames[row])
		}
		for c, v := range values {
			var value sql.NullFloat64
			if v != nil {
				value = sql.NullFloat64{Float64: *v, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, runID, row, frame, c,
				value); err != nil {
				return 0, fmt.Errorf("insert value %d/%d: %w", row, c, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// Load reads run runID back.
func (s *Store) Load(ctx context.Context, runID int64) (*Result, error) {
	var (
		r         Result
		status    int
		createdAt string
		acc       sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, status, created_at, accumulators FROM runs
		 WHERE id = ?`, runID).Scan(&r.JobID, &status, &createdAt, &acc)
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", runID, err)
	}
	r.Status = vqmt.ExitStatus(status)
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if acc.Valid {
		r.Accumulators = []byte(acc.String)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM columns WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		r.Columns = append(r.Columns, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT row_idx, frame, column_idx, value FROM frame_values
		 WHERE run_id = ? ORDER BY row_idx, column_idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			row, frame, col int
			value           sql.NullFloat64
		)
		if err := rows.Scan(&row, &frame, &col, &value); err != nil {
			return nil, err
		}
		for len(r.Values) <= row {
			r.Values = append(r.Values, make([]*float64, len(r.Columns)))
			r.Frames = append(r.Frames, int32(frame))
		}
		if value.Valid && col < len(r.Values[row]) {
			v := value.Float64
			r.Values[row][col] = &v
		}
	}
	return &r, rows.Err()
}

// Runs returns the ids of every stored run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
