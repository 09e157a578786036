package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/identity"
)

// Resolver finds the push credentials of the signed-in account.
type Resolver struct {
	identity    identity.Provider
	store       credstore.Store
	provisioner *Provisioner
	fallback    credstore.Profile
	logger      *slog.Logger
}

// NewResolver returns a Resolver. fallback is used when the account's
// selected provider has no stored profile.
func NewResolver(id identity.Provider, store credstore.Store, p *Provisioner, fallback credstore.Profile, logger *slog.Logger) *Resolver {
	return &Resolver{
		identity:    id,
		store:       store,
		provisioner: p,
		fallback:    fallback,
		logger:      logger,
	}
}

// Resolve returns the stored profile when it is complete, provisions a new
// one when it is incomplete but provisionable, and otherwise returns the
// incomplete profile unchanged. Callers must check Profile.Complete.
func (r *Resolver) Resolve(ctx context.Context) (credstore.Profile, error) {
	acct, err := r.identity.Account(ctx)
	if err != nil {
		return credstore.Profile{}, err
	}
	if !acct.Verified {
		return credstore.Profile{}, apperr.Auth("provision: resolve", fmt.Errorf("account %s is not verified", acct.ID))
	}

	profile, err := r.store.GetProviderProfile(ctx, acct.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		if r.fallback.URL == "" {
			return credstore.Profile{}, apperr.Auth("provision: resolve", err)
		}
		profile = r.fallback
	case err != nil:
		return credstore.Profile{}, err
	}

	if profile.Complete() {
		return profile, nil
	}
	if !profile.CanProvision {
		r.logger.Debug("provision: incomplete profile is not provisionable",
			slog.String("account_id", acct.ID),
			slog.String("url", profile.URL))
		return profile, nil
	}

	s, err := r.provisioner.Provision(ctx, acct, profile)
	if err != nil {
		r.logger.Warn("provision: failed",
			slog.String("account_id", acct.ID),
			slog.String("failed_at", s.FailedAt.String()),
			slog.Int64("attempts", r.provisioner.Attempts()),
			slog.String("error", err.Error()))
		return credstore.Profile{}, err
	}
	return s.Profile, nil
}
