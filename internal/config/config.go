// Package config loads the host configuration: which Sources answer for
// which prefixes, plus rendering, journal and HTTP settings.
//
// Files may be YAML (.yaml, .yml), JSON (.json) or JSON with comments
// (.jsonc). Example:
//
//	sources:
//	  doi:    {name: doi}
//	  manual: {name: manual}
//	  bibfile:
//	    name: bibfile
//	    config: {bibliography_file: [refs.yaml]}
//	style: harvard1
//	missing: warn
//	http: {timeout: 10s, user_agent: "mytool/1.0 (mailto:me@example.org)"}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/render"
	"github.com/roach88/citechain/internal/source"
)

// Environment variables that override file settings.
const (
	EnvUserAgent   = "CITECHAIN_USER_AGENT"
	EnvHTTPTimeout = "CITECHAIN_HTTP_TIMEOUT"
)

// Missing-citation policies.
const (
	MissingError = "error"
	MissingWarn  = "warn"
)

// Defaults.
const (
	DefaultUserAgent   = "citechain/0.1"
	DefaultHTTPTimeout = 30 * time.Second
)

// HTTP configures the shared fetcher.
type HTTP struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Config is the host configuration.
type Config struct {
	Sources  map[string]source.Spec `yaml:"sources"`
	Style    string                 `yaml:"style"`
	Journal  string                 `yaml:"journal"`
	Missing  string                 `yaml:"missing"`
	Parallel bool                   `yaml:"parallel"`
	HTTP     HTTP                   `yaml:"http"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Sources: source.DefaultSpecs(),
		Style:   render.DefaultStyle,
		Missing: MissingError,
		HTTP: HTTP{
			Timeout:   DefaultHTTPTimeout,
			UserAgent: DefaultUserAgent,
		},
	}
}

// Load reads the configuration at path, applies defaults and environment
// overrides, and validates the result. An empty path yields Default with
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges the file content over cfg's defaults.
func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonc":
		data = jsonc.ToJSON(data)
	case ".json", ".yaml", ".yml":
	default:
		return citation.NewFormatError(path, fmt.Sprintf("unsupported config format %q", ext), nil)
	}

	var file Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return citation.NewFormatError(path, "invalid config", err)
	}

	if len(file.Sources) > 0 {
		cfg.Sources = file.Sources
	}
	if file.Style != "" {
		cfg.Style = file.Style
	}
	if file.Journal != "" {
		cfg.Journal = file.Journal
	}
	if file.Missing != "" {
		cfg.Missing = file.Missing
	}
	if file.Parallel {
		cfg.Parallel = true
	}
	if file.HTTP.Timeout != 0 {
		cfg.HTTP.Timeout = file.HTTP.Timeout
	}
	if file.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = file.HTTP.UserAgent
	}
	return nil
}

// ApplyEnv applies environment overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if ua, ok := lookup(EnvUserAgent); ok && ua != "" {
		c.HTTP.UserAgent = ua
	}
	if raw, ok := lookup(EnvHTTPTimeout); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return citation.NewFormatError(EnvHTTPTimeout, "invalid duration", err)
		}
		c.HTTP.Timeout = d
	}
	return nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Missing {
	case MissingError, MissingWarn:
	default:
		return citation.NewFormatError("missing", fmt.Sprintf("must be %q or %q, got %q", MissingError, MissingWarn, c.Missing), nil)
	}
	if c.HTTP.Timeout < 0 {
		return citation.NewFormatError("http.timeout", "must not be negative", nil)
	}
	for prefix, spec := range c.Sources {
		if prefix == "" || strings.Contains(prefix, ":") {
			return citation.NewFormatError("sources", fmt.Sprintf("invalid prefix %q", prefix), nil)
		}
		if spec.Name == "" {
			return citation.NewFormatError("sources."+prefix, "name is required", nil)
		}
	}
	return nil
}

// AllowMissing reports whether missing citations are warnings.
func (c *Config) AllowMissing() bool {
	return c.Missing == MissingWarn
}
