package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/cardsync/internal/backup"
	"github.com/starford/cardsync/internal/carddav"
	"github.com/starford/cardsync/internal/contactservice"
	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/identity"
	"github.com/starford/cardsync/internal/index"
	"github.com/starford/cardsync/internal/provision"
	"github.com/starford/cardsync/internal/sse"
	"github.com/starford/cardsync/internal/storage"
	"github.com/starford/cardsync/internal/vcard"
)

const sseThrottle = 2 * time.Second

// App holds the components shared by the daemon and the CLI commands.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Store    *storage.FS
	Index    *index.DB
	Creds    *credstore.DB
	Encoder  *vcard.Encoder
	Pipeline *backup.Pipeline
	Broker   *sse.Broker
	Service  *contactservice.Service
}

// NewApp opens storage and wires the backup pipeline. Cycle outcomes are
// recorded in the index and published to the event broker.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.Contacts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create contacts dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Contacts.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	defaults := cfg.Providers.Defaults()
	creds, err := credstore.Open(cfg.SQLite.Path, defaults)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init credential store: %w", err)
	}
	app := &App{Config: cfg, Logger: logger, Store: store, Index: db, Creds: creds}

	issuer, err := identity.NewLocalIssuer(
		identity.Account{ID: cfg.Identity.AccountID, Verified: cfg.Identity.Verified},
		cfg.Identity.Secret,
		cfg.Identity.AssertionTTL,
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init identity: %w", err)
	}

	app.Encoder, err = vcard.NewEncoder(
		vcard.WithLineLength(cfg.Backup.FoldLength),
		vcard.WithProdID(cfg.Backup.ProdID),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init encoder: %w", err)
	}

	client := carddav.NewClient(nil, cfg.Backup.HTTPTimeout)
	prov, err := provision.New(issuer, creds, client, cfg.Provisioning.Collection, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init provisioner: %w", err)
	}
	resolver := provision.NewResolver(issuer, creds, prov, defaults.Providers[defaults.Provider], logger)

	app.Pipeline = backup.NewPipeline(backup.NewQueue(), store, app.Encoder, resolver, client, logger,
		backup.WithRetryDelay(cfg.Backup.RetryDelay),
		backup.WithEnabled(cfg.Backup.Enabled),
	)
	app.Broker = sse.NewBroker(sseThrottle, app.Pipeline.Queue().Len)
	app.Pipeline.OnEvent(app.recordOutcome)

	app.Service = contactservice.NewService(contactservice.Deps{
		Store:    store,
		Index:    db,
		Encoder:  app.Encoder,
		Pipeline: app.Pipeline,
		Restorer: backup.NewRestorer(resolver, client),
		Creds:    creds,
		Identity: issuer,
		Defaults: defaults.Providers,
		Logger:   logger,
	})
	return app, nil
}

func (a *App) recordOutcome(ev backup.Event) {
	if err := a.Index.RecordOutcome(ev.ContactID, string(ev.Outcome), ev.CycleID, ev.Status, time.Now().UTC()); err != nil {
		a.Logger.Warn("record outcome failed", slog.String("contact_id", ev.ContactID), slog.String("error", err.Error()))
	}
	be := sse.BackupEvent{
		Outcome:   string(ev.Outcome),
		ContactID: ev.ContactID,
		CycleID:   ev.CycleID,
		Status:    ev.Status,
	}
	if ev.Err != nil {
		be.Error = ev.Err.Error()
	}
	a.Broker.PublishBackupEvent(be)
}

// OnContactChange reacts to an index change: the broker is told about it
// and created or updated contacts are queued for backup.
func (a *App) OnContactChange(kind, id string) {
	a.Broker.PublishContactEvent(kind, id)
	if kind == "created" || kind == "updated" {
		a.Pipeline.Submit(id)
	}
}

// Sync reconciles the index with the contacts directory. Changes found are
// handled by OnContactChange; with backfill set every stored contact is
// queued as well.
func (a *App) Sync(backfill bool) error {
	if err := index.Sync(a.Index, a.Store, a.Logger, a.OnContactChange); err != nil {
		return err
	}
	if !backfill {
		return nil
	}
	n, err := a.Service.BackupAll(context.Background())
	if err != nil {
		return err
	}
	a.Logger.Info("backfill queued", slog.Int("contacts", n))
	return nil
}

// Close releases the broker and both database handles.
func (a *App) Close() error {
	if a.Broker != nil {
		a.Broker.Close()
	}
	var errs []error
	if a.Creds != nil {
		errs = append(errs, a.Creds.Close())
	}
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	return errors.Join(errs...)
}
