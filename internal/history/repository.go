// Package history keeps a record of every label sent to the printer. It is
// only ever written after a job has finished, so nothing here is used to
// resume an interrupted print.
package history

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"tomgalvin.uk/niimprint/internal/printer"
)

//go:embed schema.sql
var schema string

type Record struct {
	Uuid       uuid.UUID
	CreatedAt  time.Time
	FinishedAt time.Time
	Width      int
	Height     int
	Density    int
	Lines      int
	Frames     int
	Outcome    printer.Outcome
	Error      string
}

func FromReport(r *printer.Report) *Record {
	rec := &Record{
		Uuid:       r.ID,
		CreatedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Width:      int(r.Width),
		Height:     int(r.Height),
		Density:    int(r.Density),
		Lines:      r.Lines,
		Frames:     r.FramesSent,
		Outcome:    r.Outcome,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.CreatedAt)
}

type Repository struct {
	Db *sql.DB
}

func Open(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open database:\n%w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Couldn't initialise database:\n%w", err)
	}
	return &Repository{Db: db}, nil
}

func (r *Repository) Close() error {
	return r.Db.Close()
}

// Run operations in a transaction, committing afterward, or rolling back if the
// passed function returns an error
func (r *Repository) Transact(f func(*sql.Tx) error) error {
	tx, err := r.Db.Begin()
	if err != nil {
		return err
	}

	if err := f(tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			return fmt.Errorf("Failed to roll back transaction: %w\n\nAfter handling: %v", err2, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Failed to commit transaction:\n%w", err)
	}
	return nil
}

func (r *Repository) Record(tx *sql.Tx, rec *Record) error {
	_, err := tx.Exec(`
		INSERT INTO print_job(uuid, created_at, finished_at, width, height, density, lines, frames, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Uuid.String(),
		rec.CreatedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
		rec.Width, rec.Height,
		rec.Density,
		rec.Lines,
		rec.Frames,
		string(rec.Outcome),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("Failed to insert into print_job:\n%w", err)
	}
	return nil
}

// Save records the outcome of a finished print job.
func (r *Repository) Save(report *printer.Report) error {
	return r.Transact(func(tx *sql.Tx) error {
		return r.Record(tx, FromReport(report))
	})
}

const columns = `uuid, created_at, finished_at, width, height, density, lines, frames, outcome, error`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	var uuidString, outcome string
	var createdAt, finishedAt int64
	if err := row.Scan(&uuidString, &createdAt, &finishedAt,
		&rec.Width, &rec.Height, &rec.Density, &rec.Lines, &rec.Frames, &outcome, &rec.Error); err != nil {
		return nil, err
	}

	u, err := uuid.Parse(uuidString)
	if err != nil {
		return nil, fmt.Errorf("Bad uuid %q in print_job:\n%w", uuidString, err)
	}
	rec.Uuid = u
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.FinishedAt = time.UnixMilli(finishedAt)
	rec.Outcome = printer.Outcome(outcome)
	return &rec, nil
}

// Get returns nil if there's no job with the given UUID.
func (r *Repository) Get(u uuid.UUID) (*Record, error) {
	row := r.Db.QueryRow(`SELECT `+columns+` FROM print_job WHERE uuid = ?`, u.String())

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Failed to read print job:\n%w", err)
	}
	return rec, nil
}

// List returns the most recent jobs first.
func (r *Repository) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.Db.Query(`SELECT `+columns+` FROM print_job ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("Query execution failed:\n%w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Row scanning failed:\n%w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Error iterating rows:\n%w", err)
	}

	return records, nil
}
