// Package storage reads and writes contact records kept as one YAML or
// JSON file per contact.
package storage

import "github.com/starford/cardsync/internal/models"

// Provider is the contact record store.
type Provider interface {
	// List returns metadata for every record file.
	List() ([]models.ContactMeta, error)
	// Read returns the raw bytes of the record for id.
	Read(id string) ([]byte, error)
	// Load decodes the record for id.
	Load(id string) (*models.Contact, error)
	// Save writes c, keeping the format of an existing record file.
	Save(c *models.Contact) error
	// Delete removes the record for id.
	Delete(id string) error
}
