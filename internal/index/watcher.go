package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/models"
	"github.com/starford/cardsync/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, id string)

// StatSource is a Source that can also describe a single record.
type StatSource interface {
	Source
	Stat(id string) (models.ContactMeta, error)
}

// reconcileDelay debounces rename reconciliation.
const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the contacts directory and processes
// record changes until ctx is cancelled. It calls cb (if non-nil) after each
// index mutation. Writes that leave a record's checksum unchanged are not
// reported.
//
// Rename events trigger a reconciliation pass that removes stale index
// entries and indexes records that appeared under a new name.
func Watch(ctx context.Context, db *DB, store StatSource, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := Sync(db, store, logger, cb); err != nil {
				logger.Warn("reconcile: sync failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			id, isRecord := storage.IDFromPath(ev.Name)
			if !isRecord {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				meta, statErr := store.Stat(id)
				if statErr != nil {
					if !errors.Is(statErr, apperr.ErrNotFound) {
						logger.Warn("watcher: stat failed", slog.String("contact_id", id), slog.String("error", statErr.Error()))
					}
					continue
				}
				old, _ := db.GetChecksum(id)
				changed, idxErr := indexContact(db, store, meta)
				if idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("contact_id", id), slog.String("error", idxErr.Error()))
					continue
				}
				if !changed {
					continue
				}
				kind := kindFor(old != "")
				logger.Debug("watcher: indexed", slog.String("contact_id", id), slog.String("op", kind))
				notify(cb, kind, id)

			case ev.Op&fsnotify.Remove != 0:
				// Another extension may still hold the record.
				if _, statErr := store.Stat(id); statErr == nil {
					scheduleReconcile()
					continue
				}
				if delErr := db.DeleteContact(id); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("contact_id", id), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("contact_id", id))
				notify(cb, "deleted", id)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new
				// name arrives as a separate Create.
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
