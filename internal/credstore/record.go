package credstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/starford/cardsync/internal/apperr"
)

// Profile is the credential set for one provider.
type Profile struct {
	URL          string `json:"url"`
	CanProvision bool   `json:"canProvision"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
}

// Complete reports whether p carries everything needed to push.
func (p Profile) Complete() bool {
	return p.URL != "" && p.Username != "" && p.Password != ""
}

// Record is the stored state of one account: the selected provider and
// the profiles of every provider it knows about.
type Record struct {
	AccountID string
	Provider  string
	Providers map[string]Profile
	UpdatedAt time.Time
}

// Defaults seed the record of an account seen for the first time.
type Defaults struct {
	Provider  string
	Providers map[string]Profile
}

func (d Defaults) record(accountID string) *Record {
	return &Record{
		AccountID: accountID,
		Provider:  d.Provider,
		Providers: maps.Clone(d.Providers),
	}
}

// Load returns the record for accountID, creating it from the configured
// defaults when none exists yet.
func (db *DB) Load(ctx context.Context, accountID string) (*Record, error) {
	if accountID == "" {
		return nil, apperr.Validation("credstore: load", errors.New("empty account id"))
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("credstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rec, err := db.load(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("credstore: commit: %w", err)
	}
	return rec, nil
}

// Save replaces the stored record.
func (db *DB) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.AccountID == "" {
		return apperr.Validation("credstore: save", errors.New("record without account id"))
	}
	return save(ctx, db.conn, rec)
}

// GetProviderProfile returns the profile of the selected provider, or
// apperr.ErrNotFound when the record has none.
func (db *DB) GetProviderProfile(ctx context.Context, accountID string) (Profile, error) {
	rec, err := db.Load(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	p, ok := rec.Providers[rec.Provider]
	if !ok {
		return Profile{}, fmt.Errorf("credstore: profile %q for %s: %w", rec.Provider, accountID, apperr.ErrNotFound)
	}
	return p, nil
}

// UpdateProviderProfile replaces the profile of the selected provider.
func (db *DB) UpdateProviderProfile(ctx context.Context, accountID string, p Profile) error {
	return db.modify(ctx, accountID, func(rec *Record) {
		rec.Providers[rec.Provider] = p
	})
}

// GetProvider returns the name of the selected provider.
func (db *DB) GetProvider(ctx context.Context, accountID string) (string, error) {
	rec, err := db.Load(ctx, accountID)
	if err != nil {
		return "", err
	}
	return rec.Provider, nil
}

// SetProvider selects provider without touching any profile.
func (db *DB) SetProvider(ctx context.Context, accountID, provider string) error {
	return db.modify(ctx, accountID, func(rec *Record) {
		rec.Provider = provider
	})
}

// SetAndUpdateProvider selects provider and replaces its profile.
func (db *DB) SetAndUpdateProvider(ctx context.Context, accountID, provider string, p Profile) error {
	return db.modify(ctx, accountID, func(rec *Record) {
		rec.Provider = provider
		rec.Providers[provider] = p
	})
}

// modify runs load, fn and save inside one transaction.
func (db *DB) modify(ctx context.Context, accountID string, fn func(rec *Record)) error {
	if accountID == "" {
		return apperr.Validation("credstore: modify", errors.New("empty account id"))
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rec, err := db.load(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if rec.Providers == nil {
		rec.Providers = map[string]Profile{}
	}
	fn(rec)
	if err := save(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) load(ctx context.Context, q querier, accountID string) (*Record, error) {
	var (
		rec       = &Record{AccountID: accountID}
		providers string
	)
	err := q.QueryRowContext(ctx,
		`SELECT provider, providers, updated_at FROM accounts WHERE account_id = ?`, accountID,
	).Scan(&rec.Provider, &providers, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		rec = db.defaults.record(accountID)
		if err := save(ctx, q, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: load %s: %w", accountID, err)
	}
	if err := json.Unmarshal([]byte(providers), &rec.Providers); err != nil {
		return nil, fmt.Errorf("credstore: decode providers for %s: %w", accountID, err)
	}
	return rec, nil
}

func save(ctx context.Context, q querier, rec *Record) error {
	providers := rec.Providers
	if providers == nil {
		providers = map[string]Profile{}
	}
	data, err := json.Marshal(providers)
	if err != nil {
		return fmt.Errorf("credstore: encode providers: %w", err)
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		INSERT INTO accounts (account_id, provider, providers, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			provider   = excluded.provider,
			providers  = excluded.providers,
			updated_at = excluded.updated_at
	`, rec.AccountID, rec.Provider, string(data), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("credstore: save %s: %w", rec.AccountID, err)
	}
	return nil
}
