// Package identity supplies the signed-in account and audience-bound
// identity assertions used to obtain push credentials.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/starford/cardsync/internal/apperr"
)

// Issuer names the assertions produced by LocalIssuer.
const Issuer = "cardsync"

// Account is the signed-in user.
type Account struct {
	ID       string
	Verified bool
}

// Provider is the identity component consulted by the provisioner.
type Provider interface {
	// Account returns the signed-in account, or an auth error when
	// nobody is signed in.
	Account(ctx context.Context) (Account, error)
	// RequestAssertion returns a signed assertion bound to audience.
	RequestAssertion(ctx context.Context, audience string) (string, error)
}

// LocalIssuer signs HS256 assertions for a configured account. Assertions
// are cached per audience for half their lifetime.
type LocalIssuer struct {
	account Account
	key     []byte
	ttl     time.Duration
	cache   *expirable.LRU[string, string]
	now     func() time.Time
}

var _ Provider = (*LocalIssuer)(nil)

// NewLocalIssuer returns an issuer for account signing with secret.
func NewLocalIssuer(account Account, secret string, ttl time.Duration) (*LocalIssuer, error) {
	if secret == "" {
		return nil, errors.New("identity: empty signing secret")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("identity: invalid assertion ttl %s", ttl)
	}
	return &LocalIssuer{
		account: account,
		key:     []byte(secret),
		ttl:     ttl,
		cache:   expirable.NewLRU[string, string](64, nil, ttl/2),
		now:     time.Now,
	}, nil
}

// Account implements Provider.
func (i *LocalIssuer) Account(context.Context) (Account, error) {
	if i.account.ID == "" {
		return Account{}, apperr.Auth("identity: account", errors.New("no signed-in account"))
	}
	return i.account, nil
}

// RequestAssertion implements Provider.
func (i *LocalIssuer) RequestAssertion(ctx context.Context, audience string) (string, error) {
	acct, err := i.Account(ctx)
	if err != nil {
		return "", err
	}
	if !acct.Verified {
		return "", apperr.Auth("identity: assertion", fmt.Errorf("account %s is not verified", acct.ID))
	}
	if cached, ok := i.cache.Get(audience); ok {
		return cached, nil
	}

	now := i.now().UTC()
	tok, err := jwt.NewBuilder().
		Issuer(Issuer).
		Subject(acct.ID).
		Audience([]string{audience}).
		IssuedAt(now).
		Expiration(now.Add(i.ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("identity: build assertion: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), i.key))
	if err != nil {
		return "", fmt.Errorf("identity: sign assertion: %w", err)
	}

	assertion := string(signed)
	i.cache.Add(audience, assertion)
	return assertion, nil
}

// Claims are the assertion fields checked by Verify.
type Claims struct {
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	Audience any    `json:"aud"`
	Expires  int64  `json:"exp"`
}

// Verify checks the signature, audience and expiry of an assertion issued
// with secret and returns its claims.
func Verify(assertion, secret, audience string, now time.Time) (*Claims, error) {
	payload, err := jws.Verify([]byte(assertion), jws.WithKey(jwa.HS256(), []byte(secret)))
	if err != nil {
		return nil, apperr.Auth("identity: verify", err)
	}
	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, apperr.Parse("identity: verify", err)
	}
	if !c.hasAudience(audience) {
		return nil, apperr.Auth("identity: verify", fmt.Errorf("audience %q not accepted", audience))
	}
	if c.Expires != 0 && now.Unix() >= c.Expires {
		return nil, apperr.Auth("identity: verify", errors.New("assertion expired"))
	}
	return &c, nil
}

func (c *Claims) hasAudience(audience string) bool {
	switch aud := c.Audience.(type) {
	case string:
		return aud == audience
	case []any:
		for _, a := range aud {
			if s, ok := a.(string); ok && s == audience {
				return true
			}
		}
	}
	return false
}
