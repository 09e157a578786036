package index

import (
	"log/slog"
	"strings"

	"github.com/starford/cardsync/internal/checksum"
	"github.com/starford/cardsync/internal/models"
	"github.com/starford/cardsync/internal/storage"
)

// Source is the read side of the contact store needed by the index.
type Source interface {
	List() ([]models.ContactMeta, error)
	Read(id string) ([]byte, error)
}

// Sync walks the contact store and brings the index up to date:
//   - new/changed records are decoded and upserted
//   - records removed from disk are deleted from the index
//
// cb (if non-nil) receives "created", "updated" or "deleted" for every change.
func Sync(db *DB, store Source, logger *slog.Logger, cb EventCallback) error {
	metas, err := store.List()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.ID] = struct{}{}

		old, known := checksums[m.ID]
		if old == m.Checksum {
			continue
		}

		changed, err := indexContact(db, store, m)
		if err != nil {
			logger.Warn("sync: index failed", slog.String("contact_id", m.ID), slog.String("error", err.Error()))
			continue
		}
		if !changed {
			continue
		}
		logger.Debug("sync: indexed", slog.String("contact_id", m.ID), slog.String("checksum", checksum.Short(m.Checksum)))
		notify(cb, kindFor(known), m.ID)
	}

	for id := range checksums {
		if _, ok := disk[id]; ok {
			continue
		}
		if err := db.DeleteContact(id); err != nil {
			logger.Warn("sync: delete failed", slog.String("contact_id", id), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("contact_id", id))
		notify(cb, "deleted", id)
	}

	return nil
}

// indexContact reads the record for m, decodes it and upserts it when its
// checksum differs from the stored one.
func indexContact(db *DB, store Source, m models.ContactMeta) (bool, error) {
	data, err := store.Read(m.ID)
	if err != nil {
		return false, err
	}
	cs := checksum.Sum(data)
	old, err := db.GetChecksum(m.ID)
	if err != nil {
		return false, err
	}
	if old == cs {
		return false, nil
	}

	c, err := storage.Decode(data)
	if err != nil {
		return false, err
	}

	row := ContactRow{
		ID:        m.ID,
		Name:      displayName(c),
		Path:      m.Path,
		Checksum:  cs,
		UpdatedAt: m.UpdatedAt,
	}
	return true, db.UpsertContact(row)
}

func displayName(c *models.Contact) string {
	if !c.Name.Empty() {
		return strings.Join(c.Name, ", ")
	}
	parts := append(append([]string{}, c.GivenName...), c.FamilyName...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

func kindFor(known bool) string {
	if known {
		return "updated"
	}
	return "created"
}

func notify(cb EventCallback, kind, id string) {
	if cb != nil {
		cb(kind, id)
	}
}
