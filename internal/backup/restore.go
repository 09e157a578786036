package backup

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/carddav"
	"github.com/starford/cardsync/internal/models"
	"github.com/starford/cardsync/internal/vcard"
)

// Restorer fetches previously pushed contacts from the provider.
type Restorer struct {
	resolver CredentialResolver
	client   *carddav.Client
}

// NewRestorer returns a Restorer.
func NewRestorer(resolver CredentialResolver, client *carddav.Client) *Restorer {
	return &Restorer{resolver: resolver, client: client}
}

// Fetch downloads and decodes the stored copy of contact id. A missing
// copy yields apperr.ErrNotFound.
func (r *Restorer) Fetch(ctx context.Context, id string) (*models.Contact, error) {
	creds, err := r.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !creds.Complete() {
		return nil, apperr.Auth("backup: restore", errors.New("no usable credentials"))
	}

	resp, err := r.client.Get(ctx, ResourceURL(creds.URL, id), creds.Username, creds.Password)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("backup: restore %s: %w", id, apperr.ErrNotFound)
	default:
		return nil, apperr.Transport("backup: restore", errors.New(resp.StatusText))
	}

	c, err := vcard.Decode(string(resp.Body))
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = id
	}
	return c, nil
}
