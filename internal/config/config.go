// Package config loads the catalogsync configuration file and applies environment overrides.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tansive/catalogsync/internal/common/apperrors"
	"github.com/tansive/catalogsync/internal/common/httpclient"
)

// FormatVersion is the current version of the configuration file format
const FormatVersion = "0.1.0"

// DefaultConfigFile is looked up in the working directory when no file is given.
const DefaultConfigFile = "catalogsync.toml"

const (
	DefaultSourceURL  = "https://api.humanitec.io"
	DefaultCatalogURL = "https://api.getport.io"
)

// Environment variables that override file values.
const (
	EnvSourceToken         = "HUMANITEC_TOKEN"
	EnvSourceOrgID         = "HUMANITEC_ORG_ID"
	EnvSourceURL           = "HUMANITEC_API_URL"
	EnvCatalogClientID     = "PORT_CLIENT_ID"
	EnvCatalogClientSecret = "PORT_CLIENT_SECRET"
	EnvCatalogURL          = "PORT_BASE_URL"
)

var (
	ErrMissingCredentials = apperrors.New("missing credentials")
	ErrInvalidConfig      = apperrors.New("invalid configuration")
)

// SourceConfig locates the source platform organization.
type SourceConfig struct {
	URL   string `toml:"url" yaml:"url" validate:"required,url"`
	OrgID string `toml:"org_id" yaml:"org_id" validate:"required"`
	Token string `toml:"token" yaml:"token" validate:"required"`
}

// CatalogConfig holds the catalog location and client credentials.
type CatalogConfig struct {
	URL          string `toml:"url" yaml:"url" validate:"required,url"`
	ClientID     string `toml:"client_id" yaml:"client_id" validate:"required"`
	ClientSecret string `toml:"client_secret" yaml:"client_secret" validate:"required"`
}

// SyncConfig tunes the sync run.
type SyncConfig struct {
	MaxConcurrency int      `toml:"max_concurrency" yaml:"max_concurrency" validate:"gte=0"`
	Stages         []string `toml:"stages" yaml:"stages" validate:"dive,oneof=applications environments modules graph resources"`
}

// HTTPConfig applies to both the source platform and the catalog.
type HTTPConfig struct {
	Timeout       string `toml:"timeout" yaml:"timeout"` // empty means no timeout
	RetryAttempts uint   `toml:"retry_attempts" yaml:"retry_attempts" validate:"gte=1,lte=10"`
}

type LogConfig struct {
	Level   string `toml:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Console bool   `toml:"console" yaml:"console"`
}

// Config holds all configuration of the tool.
type Config struct {
	FormatVersion string        `toml:"format_version" yaml:"format_version"`
	Source        SourceConfig  `toml:"source" yaml:"source"`
	Catalog       CatalogConfig `toml:"catalog" yaml:"catalog"`
	Sync          SyncConfig    `toml:"sync" yaml:"sync"`
	HTTP          HTTPConfig    `toml:"http" yaml:"http"`
	Log           LogConfig     `toml:"log" yaml:"log"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads filename, applies .env and environment overrides and validates the result.
// The file may reference environment variables as {{ .ENV.NAME }}.
// An empty filename falls back to DefaultConfigFile in the working directory; when that
// does not exist either, the configuration comes from defaults and the environment alone.
func Load(filename string) (*Config, error) {
	cfg := Default()

	// no error if .env doesn't exist
	_ = godotenv.Load(".env")

	explicit := filename != ""
	if !explicit {
		filename = DefaultConfigFile
	}
	content, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if content, err = expandEnv(content); err != nil {
			return nil, err
		}
		if err := decode(filename, content, cfg); err != nil {
			return nil, err
		}
	case explicit || !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "unable to read config file %s", filename)
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration holding only default values.
func Default() *Config {
	return &Config{
		FormatVersion: FormatVersion,
		Source:        SourceConfig{URL: DefaultSourceURL},
		Catalog:       CatalogConfig{URL: DefaultCatalogURL},
		HTTP:          HTTPConfig{RetryAttempts: 1},
		Log:           LogConfig{Level: "info"},
	}
}

func decode(filename string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return ErrInvalidConfig.MsgErr("unable to parse config file "+filename, err)
		}
	default:
		md, err := toml.Decode(string(content), cfg)
		if err != nil {
			return ErrInvalidConfig.MsgErr("unable to parse config file "+filename, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return ErrInvalidConfig.Msg("unknown config key " + undecoded[0].String())
		}
	}
	return nil
}

// ApplyEnv overrides values with the environment variables lookup reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvSourceToken, &c.Source.Token},
		{EnvSourceOrgID, &c.Source.OrgID},
		{EnvSourceURL, &c.Source.URL},
		{EnvCatalogClientID, &c.Catalog.ClientID},
		{EnvCatalogClientSecret, &c.Catalog.ClientSecret},
		{EnvCatalogURL, &c.Catalog.URL},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate checks the configuration. Missing credentials are reported first, naming every
// missing value, so that no request is ever attempted without them.
func (c *Config) Validate() error {
	if c.FormatVersion != FormatVersion {
		return ErrInvalidConfig.Msg("unsupported config file format version: " + c.FormatVersion)
	}
	if missing := c.MissingCredentials(); len(missing) > 0 {
		return ErrMissingCredentials.Msg("missing credentials: " + strings.Join(missing, ", "))
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ErrInvalidConfig.MsgErr("invalid value for "+fe.Namespace()+" ("+fe.Tag()+")", err)
		}
		return ErrInvalidConfig.MsgErr("invalid configuration", err)
	}
	if _, err := c.HTTP.TimeoutDuration(); err != nil {
		return ErrInvalidConfig.MsgErr("invalid http.timeout", err)
	}
	return nil
}

// MissingCredentials lists the environment variables of every unset credential.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for _, cred := range []struct {
		env string
		val string
	}{
		{EnvSourceToken, c.Source.Token},
		{EnvSourceOrgID, c.Source.OrgID},
		{EnvCatalogClientID, c.Catalog.ClientID},
		{EnvCatalogClientSecret, c.Catalog.ClientSecret},
	} {
		if cred.val == "" {
			missing = append(missing, cred.env)
		}
	}
	return missing
}

// TimeoutDuration parses Timeout. It accepts Go durations plus a "<n>d" form for days.
func (h HTTPConfig) TimeoutDuration() (time.Duration, error) {
	if h.Timeout == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(h.Timeout, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, errors.Wrap(err, "invalid number of days")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(h.Timeout)
}

// ClientOptions returns the HTTP client options described by h.
func (h HTTPConfig) ClientOptions() httpclient.ClientOptions {
	timeout, _ := h.TimeoutDuration()
	return httpclient.ClientOptions{Timeout: timeout, RetryAttempts: h.RetryAttempts}
}

// Redacted returns a copy of c with every secret masked.
func (c Config) Redacted() Config {
	c.Source.Token = mask(c.Source.Token)
	c.Catalog.ClientSecret = mask(c.Catalog.ClientSecret)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
