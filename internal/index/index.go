package index

import "time"

// ContactIndex is the contact state store used by the watcher, the API and
// the backup pipeline.
type ContactIndex interface {
	UpsertContact(r ContactRow) error
	DeleteContact(id string) error
	GetChecksum(id string) (string, error)
	GetContact(id string) (*ContactRow, error)
	ListContacts(limit, offset int, outcome string) ([]ContactRow, int, error)
	RecordOutcome(id, outcome, cycleID string, status int, at time.Time) error
	AllChecksums() (map[string]string, error)
	Close() error
}

var _ ContactIndex = (*DB)(nil)
