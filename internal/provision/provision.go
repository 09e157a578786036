// Package provision turns a signed-in account into push credentials,
// exchanging an identity assertion with the provider when the stored
// profile is incomplete.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/carddav"
	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/identity"
	"github.com/starford/cardsync/internal/logx"
)

// LoginPath is appended to the provider URL for the credential exchange.
const LoginPath = "/browserid/login"

// DefaultCollection is the address book appended to the discovered home set.
const DefaultCollection = "default"

// MaxProvisioningAttempts bounds provisioning retries.
//
// TODO: nothing enforces this yet; decide whether Resolve should stop
// provisioning an account after this many consecutive failures.
const MaxProvisioningAttempts = 5

// State is a step of one provisioning exchange.
type State int

const (
	Idle State = iota
	AwaitingAssertion
	ExchangingCredentials
	Provisioned
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAssertion:
		return "awaiting_assertion"
	case ExchangingCredentials:
		return "exchanging_credentials"
	case Provisioned:
		return "provisioned"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session records how far one provisioning exchange got.
type Session struct {
	AccountID string
	Provider  string
	State     State
	FailedAt  State
	Profile   credstore.Profile
	Err       error
}

func (s *Session) fail(err error) error {
	s.FailedAt = s.State
	s.State = Failed
	s.Err = err
	return err
}

// Provisioner exchanges identity assertions for basic-auth credentials.
type Provisioner struct {
	identity   identity.Provider
	store      credstore.Store
	client     *carddav.Client
	collection string
	schema     *jsonschema.Schema
	logger     *slog.Logger
	attempts   atomic.Int64
}

// New returns a Provisioner. An empty collection selects DefaultCollection.
func New(id identity.Provider, store credstore.Store, client *carddav.Client, collection string, logger *slog.Logger) (*Provisioner, error) {
	sch, err := compileLoginSchema()
	if err != nil {
		return nil, err
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &Provisioner{
		identity:   id,
		store:      store,
		client:     client,
		collection: collection,
		schema:     sch,
		logger:     logger,
	}, nil
}

// Attempts returns the number of provisioning exchanges started.
func (p *Provisioner) Attempts() int64 {
	return p.attempts.Load()
}

// Provision obtains credentials for acct from the provider behind
// profile.URL and stores them as the selected provider's profile.
func (p *Provisioner) Provision(ctx context.Context, acct identity.Account, profile credstore.Profile) (*Session, error) {
	s := &Session{AccountID: acct.ID, Provider: profile.URL, State: Idle}
	p.attempts.Add(1)

	s.State = AwaitingAssertion
	if acct.ID == "" || !acct.Verified {
		return s, s.fail(apperr.Auth("provision: assertion", errors.New("no user with verified account signed in")))
	}
	if profile.URL == "" {
		return s, s.fail(apperr.Validation("provision: assertion", errors.New("provider has no url")))
	}
	assertion, err := p.identity.RequestAssertion(ctx, profile.URL)
	if err != nil {
		return s, s.fail(err)
	}

	s.State = ExchangingCredentials
	body, err := json.Marshal(map[string]string{
		"assertion": assertion,
		"audience":  profile.URL,
	})
	if err != nil {
		return s, s.fail(fmt.Errorf("provision: encode login: %w", err))
	}
	resp, err := p.client.Post(ctx, strings.TrimRight(profile.URL, "/")+LoginPath, body)
	if err != nil {
		return s, s.fail(err)
	}
	if !resp.OK(http.StatusOK, http.StatusCreated, http.StatusNoContent) {
		return s, s.fail(apperr.Auth("provision: login", errors.New(resp.StatusText)))
	}
	if err := validateLogin(p.schema, resp.Body); err != nil {
		return s, s.fail(err)
	}
	var login loginResponse
	if err := json.Unmarshal(resp.Body, &login); err != nil {
		return s, s.fail(apperr.Parse("provision: login response", err))
	}

	pushURL, err := url.JoinPath(profile.URL, login.Links.HomeSet, p.collection)
	if err != nil {
		return s, s.fail(apperr.Parse("provision: home set", err))
	}
	creds := credstore.Profile{
		URL:          pushURL,
		CanProvision: profile.CanProvision,
		Username:     login.BasicAuth.UserName,
		Password:     login.BasicAuth.Password,
	}
	if err := p.store.UpdateProviderProfile(ctx, acct.ID, creds); err != nil {
		return s, s.fail(fmt.Errorf("provision: store credentials: %w", err))
	}

	s.State = Provisioned
	s.Profile = creds
	p.logger.Info("provision: credentials stored",
		slog.String("account_id", acct.ID),
		slog.String("url", creds.URL),
		slog.String("username", creds.Username),
		slog.Any("password", logx.Secret(creds.Password)))
	return s, nil
}
