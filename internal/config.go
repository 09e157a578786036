package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/logx"
	"github.com/starford/cardsync/internal/vcard"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App          ApplicationConfig  `yaml:"app"`
	Contacts     ContactsConfig     `yaml:"contacts"`
	SQLite       SQLiteConfig       `yaml:"sqlite"`
	Auth         AuthConfig         `yaml:"auth"`
	Backup       BackupConfig       `yaml:"backup"`
	Identity     IdentityConfig     `yaml:"identity"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"app", &c.App},
		{"contacts", &c.Contacts},
		{"sqlite", &c.SQLite},
		{"auth", &c.Auth},
		{"backup", &c.Backup},
		{"identity", &c.Identity},
		{"providers", &c.Providers},
		{"provisioning", &c.Provisioning},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = logx.FormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(logx.FormatJSON, logx.FormatConsole)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ContactsConfig holds the path to the contact record directory.
type ContactsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the contacts configuration.
func (c *ContactsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the database shared by the credential store and the
// contact index.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds admin API authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// BackupConfig controls the backup pipeline and the vCard encoder.
type BackupConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	FoldLength      int           `yaml:"fold_length"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	BackfillOnStart bool          `yaml:"backfill_on_start"`
	ProdID          bool          `yaml:"prodid"`
}

// Validate validates the backup configuration.
func (c *BackupConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.FoldLength, validation.Required, validation.Min(vcard.MinLineLength)),
		validation.Field(&c.HTTPTimeout, validation.Min(time.Duration(0))),
	)
}

// IdentityConfig configures the local assertion issuer standing in for the
// platform identity service. An empty AccountID means nobody is signed in.
type IdentityConfig struct {
	AccountID    string        `yaml:"account_id"`
	Verified     bool          `yaml:"verified"`
	Secret       string        `yaml:"secret"`
	AssertionTTL time.Duration `yaml:"assertion_ttl"`
}

// Validate validates the identity configuration.
func (c *IdentityConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Secret, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.AssertionTTL, validation.Required, validation.Min(time.Second)),
	)
}

// ProviderProfile is one configured backup provider.
type ProviderProfile struct {
	URL          string `yaml:"url"`
	CanProvision bool   `yaml:"can_provision"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

// Validate validates the provider profile.
func (p ProviderProfile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.URL, validation.Required, is.URL),
	)
}

// ProvidersConfig lists the provider profiles a new credential record is
// seeded with. Default names the initially selected profile.
type ProvidersConfig struct {
	Default  string                     `yaml:"default"`
	Profiles map[string]ProviderProfile `yaml:"profiles"`
}

// Validate validates the providers configuration.
func (c *ProvidersConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Default, validation.Required),
		validation.Field(&c.Profiles, validation.Required),
	); err != nil {
		return err
	}
	if _, ok := c.Profiles[c.Default]; !ok {
		return fmt.Errorf("default provider %q has no profile", c.Default)
	}
	return nil
}

func (c *ProvidersConfig) profiles() map[string]credstore.Profile {
	out := make(map[string]credstore.Profile, len(c.Profiles))
	for name, p := range c.Profiles {
		out[name] = credstore.Profile{
			URL:          p.URL,
			CanProvision: p.CanProvision,
			Username:     p.Username,
			Password:     p.Password,
		}
	}
	return out
}

// Defaults returns the credential store seed.
func (c *ProvidersConfig) Defaults() credstore.Defaults {
	return credstore.Defaults{Provider: c.Default, Providers: c.profiles()}
}

// ProvisioningConfig controls credential provisioning.
type ProvisioningConfig struct {
	Collection string `yaml:"collection"`
}

// Validate validates the provisioning configuration.
func (c *ProvisioningConfig) Validate() error {
	if c.Collection == "" {
		c.Collection = "default"
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: logx.FormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Contacts: ContactsConfig{
			Path: "./contacts",
		},
		SQLite: SQLiteConfig{
			Path: "./cardsync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Backup: BackupConfig{
			Enabled:     true,
			RetryDelay:  time.Second,
			FoldLength:  vcard.DefaultLineLength,
			HTTPTimeout: 30 * time.Second,
		},
		Identity: IdentityConfig{
			AssertionTTL: 5 * time.Minute,
		},
		Provisioning: ProvisioningConfig{
			Collection: "default",
		},
	}
}
