package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/cardsync/internal/apperr"
)

// ContactRow represents a row in the contacts table.
type ContactRow struct {
	ID          string
	Name        string
	Path        string
	Checksum    string
	UpdatedAt   time.Time
	LastOutcome string
	LastStatus  int
	LastCycleID string
	BackedUpAt  *time.Time
}

const contactColumns = `id, name, path, checksum, updated_at, last_outcome, last_status, last_cycle_id, backed_up_at`

// UpsertContact inserts or updates a contact's file state. Backup results
// already recorded for the contact are kept.
func (db *DB) UpsertContact(r ContactRow) error {
	_, err := db.conn.Exec(`
		INSERT INTO contacts (id, name, path, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name       = excluded.name,
			path       = excluded.path,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, r.Path, r.Checksum, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert contact: %w", err)
	}
	return nil
}

// DeleteContact removes a contact.
func (db *DB) DeleteContact(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM contacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete contact: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a contact, or empty string if not found.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM contacts WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetContact returns one contact row.
func (db *DB) GetContact(id string) (*ContactRow, error) {
	row := db.conn.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	r, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: contact %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get contact: %w", err)
	}
	return r, nil
}

// ListContacts returns a page of contacts ordered by id and the total count.
// A non-empty outcome filters on the last backup outcome; "none" selects
// contacts never processed.
func (db *DB) ListContacts(limit, offset int, outcome string) ([]ContactRow, int, error) {
	where, args := "", []any{}
	switch outcome {
	case "":
	case "none":
		where = ` WHERE last_outcome = ''`
	default:
		where = ` WHERE last_outcome = ?`
		args = append(args, outcome)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM contacts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count contacts: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`SELECT `+contactColumns+` FROM contacts`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list contacts: %w", err)
	}
	defer rows.Close()

	var out []ContactRow
	for rows.Next() {
		r, err := scanContact(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("index: scan contact: %w", err)
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// RecordOutcome stores the result of a backup cycle. Only pushes set
// backed_up_at. Unknown ids are ignored.
func (db *DB) RecordOutcome(id, outcome, cycleID string, status int, at time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE contacts SET
			last_outcome  = ?,
			last_status   = ?,
			last_cycle_id = ?,
			backed_up_at  = CASE WHEN ? = 'pushed' THEN ? ELSE backed_up_at END
		WHERE id = ?
	`, outcome, status, cycleID, outcome, at, id)
	if err != nil {
		return fmt.Errorf("index: record outcome: %w", err)
	}
	return nil
}

// AllChecksums returns the stored checksum of every contact keyed by id.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM contacts`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(s scanner) (*ContactRow, error) {
	var (
		r          ContactRow
		backedUpAt sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Path, &r.Checksum, &r.UpdatedAt,
		&r.LastOutcome, &r.LastStatus, &r.LastCycleID, &backedUpAt); err != nil {
		return nil, err
	}
	if backedUpAt.Valid {
		t := backedUpAt.Time
		r.BackedUpAt = &t
	}
	return &r, nil
}
