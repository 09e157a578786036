package provision_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/carddav"
	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/identity"
	"github.com/starford/cardsync/internal/provision"
	"github.com/starford/cardsync/internal/testutil"
)

const secret = "provider-shared-secret"

// fakeProvider serves the login endpoint and counts exchanges.
type fakeProvider struct {
	*httptest.Server
	logins atomic.Int32
	status int
	body   string
}

func newFakeProvider(t *testing.T, status int, body string) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{status: status, body: body}
	fp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != provision.LoginPath {
			http.NotFound(w, r)
			return
		}
		fp.logins.Add(1)

		var req struct {
			Assertion string `json:"assertion"`
			Audience  string `json:"audience"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if _, err := identity.Verify(req.Assertion, secret, req.Audience, time.Now()); err != nil {
			http.Error(w, "bad assertion", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(fp.status)
		_, _ = io.WriteString(w, fp.body)
	}))
	t.Cleanup(fp.Close)
	return fp
}

const okLogin = `{"links":{"addressbook-home-set":"/dav/addressbooks/u1/"},"basicAuth":{"userName":"u1","password":"p1"}}`

type fixture struct {
	store    *credstore.DB
	resolver *provision.Resolver
	prov     *provision.Provisioner
}

func newFixture(t *testing.T, acct identity.Account, profile credstore.Profile) *fixture {
	t.Helper()
	store := testutil.TestCredStore(t, credstore.Defaults{
		Provider:  "default",
		Providers: map[string]credstore.Profile{"default": profile},
	})
	iss, err := identity.NewLocalIssuer(acct, secret, time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov, err := provision.New(iss, store, carddav.NewClient(nil, 5*time.Second), "", logger)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		resolver: provision.NewResolver(iss, store, prov, credstore.Profile{}, logger),
		prov:     prov,
	}
}

func TestResolve_ProvisionsIncompleteProfile(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, okLogin)
	f := newFixture(t, identity.Account{ID: "acct-1", Verified: true},
		credstore.Profile{URL: fp.URL, CanProvision: true})

	got, err := f.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fp.URL+"/dav/addressbooks/u1/default", got.URL)
	assert.Equal(t, "u1", got.Username)
	assert.Equal(t, "p1", got.Password)
	assert.True(t, got.Complete())

	stored, err := f.store.GetProviderProfile(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	// Stored credentials are reused without another exchange.
	_, err = f.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, fp.logins.Load())
	assert.EqualValues(t, 1, f.prov.Attempts())
}

func TestResolve_NotProvisionable(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, okLogin)
	f := newFixture(t, identity.Account{ID: "acct-1", Verified: true},
		credstore.Profile{URL: fp.URL, CanProvision: false})

	got, err := f.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Complete())
	assert.Equal(t, fp.URL, got.URL)
	assert.Zero(t, fp.logins.Load())
}

func TestResolve_CompleteProfileReturnedAsIs(t *testing.T) {
	profile := credstore.Profile{URL: "https://dav.example.org/ab", Username: "u", Password: "p", CanProvision: true}
	f := newFixture(t, identity.Account{ID: "acct-1", Verified: true}, profile)

	got, err := f.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, profile, got)
	assert.Zero(t, f.prov.Attempts())
}

func TestResolve_UnverifiedAccount(t *testing.T) {
	f := newFixture(t, identity.Account{ID: "acct-1"}, credstore.Profile{URL: "https://x", CanProvision: true})

	_, err := f.resolver.Resolve(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestResolve_NoAccount(t *testing.T) {
	f := newFixture(t, identity.Account{}, credstore.Profile{URL: "https://x", CanProvision: true})

	_, err := f.resolver.Resolve(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestProvision_Failures(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		failedAt provision.State
	}{
		{name: "not json", status: http.StatusOK, body: "<html>", wantErr: apperr.ErrParse, failedAt: provision.ExchangingCredentials},
		{name: "missing basic auth", status: http.StatusCreated, body: `{"links":{"addressbook-home-set":"/x/"}}`, wantErr: apperr.ErrParse, failedAt: provision.ExchangingCredentials},
		{name: "empty home set", status: http.StatusOK, body: `{"links":{"addressbook-home-set":""},"basicAuth":{"userName":"u","password":"p"}}`, wantErr: apperr.ErrParse, failedAt: provision.ExchangingCredentials},
		{name: "rejected", status: http.StatusForbidden, body: "no", wantErr: apperr.ErrAuth, failedAt: provision.ExchangingCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp := newFakeProvider(t, tc.status, tc.body)
			acct := identity.Account{ID: "acct-1", Verified: true}
			f := newFixture(t, acct, credstore.Profile{URL: fp.URL, CanProvision: true})

			s, err := f.prov.Provision(context.Background(), acct, credstore.Profile{URL: fp.URL, CanProvision: true})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, provision.Failed, s.State)
			assert.Equal(t, tc.failedAt, s.FailedAt)

			stored, err := f.store.GetProviderProfile(context.Background(), "acct-1")
			require.NoError(t, err)
			assert.False(t, stored.Complete())
		})
	}
}

func TestProvision_StatusTextInError(t *testing.T) {
	fp := newFakeProvider(t, http.StatusServiceUnavailable, "")
	acct := identity.Account{ID: "acct-1", Verified: true}
	f := newFixture(t, acct, credstore.Profile{URL: fp.URL, CanProvision: true})

	_, err := f.prov.Provision(context.Background(), acct, credstore.Profile{URL: fp.URL, CanProvision: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Service Unavailable")
}

func TestProvision_UnverifiedFailsAwaitingAssertion(t *testing.T) {
	acct := identity.Account{ID: "acct-1"}
	f := newFixture(t, acct, credstore.Profile{URL: "https://x", CanProvision: true})

	s, err := f.prov.Provision(context.Background(), acct, credstore.Profile{URL: "https://x", CanProvision: true})
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.Equal(t, provision.AwaitingAssertion, s.FailedAt)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "exchanging_credentials", provision.ExchangingCredentials.String())
	assert.Equal(t, "state(42)", provision.State(42).String())
}
