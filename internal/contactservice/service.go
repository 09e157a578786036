// Package contactservice coordinates the contact store, the index and the
// backup pipeline for the API and MCP surfaces.
package contactservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/backup"
	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/identity"
	"github.com/starford/cardsync/internal/index"
	"github.com/starford/cardsync/internal/models"
	"github.com/starford/cardsync/internal/storage"
	"github.com/starford/cardsync/internal/vcard"
)

// DefaultProvider is the profile name whose URL comes from configuration.
const DefaultProvider = "default"

// ContactListItem is a lightweight item in a list response.
type ContactListItem struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Checksum    string     `json:"checksum"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastStatus  int        `json:"last_status,omitempty"`
	BackedUpAt  *time.Time `json:"backed_up_at,omitempty"`
}

// ContactDetail is a contact record with its backup state.
type ContactDetail struct {
	ContactListItem
	Contact *models.Contact `json:"contact"`
}

// QueueStatus describes the backup queue.
type QueueStatus struct {
	Enabled bool     `json:"enabled"`
	Queued  []string `json:"queued"`
	Pending int64    `json:"pending"`
}

// ProviderStatus describes the selected provider without exposing secrets.
type ProviderStatus struct {
	Provider       string `json:"provider"`
	URL            string `json:"url"`
	CanProvision   bool   `json:"can_provision"`
	HasCredentials bool   `json:"has_credentials"`
}

// Service coordinates storage, index and backup operations.
type Service struct {
	store    storage.Provider
	db       index.ContactIndex
	encoder  *vcard.Encoder
	pipeline *backup.Pipeline
	restorer *backup.Restorer
	creds    credstore.Store
	identity identity.Provider
	defaults map[string]credstore.Profile
	logger   *slog.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store    storage.Provider
	Index    index.ContactIndex
	Encoder  *vcard.Encoder
	Pipeline *backup.Pipeline
	Restorer *backup.Restorer
	Creds    credstore.Store
	Identity identity.Provider
	// Defaults are the configured provider profiles.
	Defaults map[string]credstore.Profile
	Logger   *slog.Logger
}

// NewService creates a new contact service.
func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		db:       d.Index,
		encoder:  d.Encoder,
		pipeline: d.Pipeline,
		restorer: d.Restorer,
		creds:    d.Creds,
		identity: d.Identity,
		defaults: d.Defaults,
		logger:   d.Logger,
	}
}

// ListContacts returns indexed contacts, optionally filtered by last outcome.
func (s *Service) ListContacts(_ context.Context, limit, offset int, outcome string) ([]ContactListItem, int, error) {
	rows, total, err := s.db.ListContacts(limit, offset, outcome)
	if err != nil {
		return nil, 0, err
	}
	items := make([]ContactListItem, len(rows))
	for i, r := range rows {
		items[i] = listItem(r)
	}
	return items, total, nil
}

// GetContact reads a contact record and its backup state.
func (s *Service) GetContact(_ context.Context, id string) (*ContactDetail, error) {
	c, err := s.store.Load(id)
	if err != nil {
		return nil, err
	}
	detail := &ContactDetail{ContactListItem: ContactListItem{ID: id}, Contact: c}
	if row, err := s.db.GetContact(id); err == nil {
		detail.ContactListItem = listItem(*row)
	}
	return detail, nil
}

// EncodeContact renders the stored record for id as vCard text.
func (s *Service) EncodeContact(_ context.Context, id string) (string, error) {
	c, err := s.store.Load(id)
	if err != nil {
		return "", err
	}
	return s.encoder.Encode(c)
}

// Backup queues id for upload.
func (s *Service) Backup(_ context.Context, id string) error {
	if _, err := s.store.Read(id); err != nil {
		return err
	}
	s.pipeline.Submit(id)
	return nil
}

// BackupAll queues every stored contact and returns how many were queued.
func (s *Service) BackupAll(_ context.Context) (int, error) {
	metas, err := s.store.List()
	if err != nil {
		return 0, err
	}
	for _, m := range metas {
		s.pipeline.Submit(m.ID)
	}
	return len(metas), nil
}

// Queue reports the backup queue state.
func (s *Service) Queue(_ context.Context) QueueStatus {
	queued := s.pipeline.Queue().Snapshot()
	if queued == nil {
		queued = []string{}
	}
	return QueueStatus{
		Enabled: s.pipeline.Enabled(),
		Queued:  queued,
		Pending: s.pipeline.Pending(),
	}
}

// SetEnabled toggles backups.
func (s *Service) SetEnabled(_ context.Context, enabled bool) QueueStatus {
	s.pipeline.SetEnabled(enabled)
	return s.Queue(context.Background())
}

// Restore fetches the provider's copy of id. When save is set the fetched
// record replaces the local one.
func (s *Service) Restore(ctx context.Context, id string, save bool) (*models.Contact, error) {
	c, err := s.restorer.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if save {
		c.ID = id
		if err := s.store.Save(c); err != nil {
			return nil, err
		}
		s.logger.Info("contact restored", slog.String("contact_id", id))
	}
	return c, nil
}

// Provider reports the selected provider of the signed-in account.
func (s *Service) Provider(ctx context.Context) (*ProviderStatus, error) {
	acct, err := s.identity.Account(ctx)
	if err != nil {
		return nil, err
	}
	name, err := s.creds.GetProvider(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	status := &ProviderStatus{Provider: name}
	p, err := s.creds.GetProviderProfile(ctx, acct.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return status, nil
	case err != nil:
		return nil, err
	}
	status.URL = p.URL
	status.CanProvision = p.CanProvision
	status.HasCredentials = p.Complete()
	return status, nil
}

// ConfigureProvider selects provider for the signed-in account. The default
// provider takes its URL from configuration and drops stored credentials so
// they are provisioned again. For other providers a nil profile only
// switches the selection.
func (s *Service) ConfigureProvider(ctx context.Context, provider string, profile *credstore.Profile) (*ProviderStatus, error) {
	if provider == "" {
		return nil, apperr.Validation("configure provider", errors.New("provider is required"))
	}
	acct, err := s.identity.Account(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case provider == DefaultProvider:
		def, ok := s.defaults[DefaultProvider]
		if !ok {
			return nil, fmt.Errorf("configure provider: no default profile: %w", apperr.ErrNotFound)
		}
		def.Username, def.Password = "", ""
		err = s.creds.SetAndUpdateProvider(ctx, acct.ID, provider, def)
	case profile != nil:
		if profile.URL == "" {
			return nil, apperr.Validation("configure provider", errors.New("url is required"))
		}
		err = s.creds.SetAndUpdateProvider(ctx, acct.ID, provider, *profile)
	default:
		err = s.creds.SetProvider(ctx, acct.ID, provider)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("provider configured", slog.String("provider", provider))
	return s.Provider(ctx)
}

func listItem(r index.ContactRow) ContactListItem {
	return ContactListItem{
		ID:          r.ID,
		Name:        r.Name,
		Checksum:    r.Checksum,
		UpdatedAt:   r.UpdatedAt,
		LastOutcome: r.LastOutcome,
		LastStatus:  r.LastStatus,
		BackedUpAt:  r.BackedUpAt,
	}
}
