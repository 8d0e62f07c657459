// Package config holds operator-level configuration for a wayscout process:
// data directory, Groq credentials and model, web fetch limits, detection
// budgets. Set via env vars (WAYSCOUT_*) or a config file
// (wayscout.config.yaml); an optional YAML detection profile can further
// override the official-domain allowlist and location terms per trip.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wayscout-io/wayscout/internal/llm"
)

// Viper keys. Each maps to an env var with the WAYSCOUT_ prefix
// (e.g. "groq_api_key" → WAYSCOUT_GROQ_API_KEY) and to a YAML field
// in wayscout.config.yaml.
const (
	KeyDataDir         = "data_dir"
	KeyGroqAPIKey      = "groq_api_key"
	KeyModel           = "model"
	KeyBaseURL         = "base_url"
	KeyOfficialDomains = "official_domains"
	KeyWebTimeout      = "web_timeout"
	KeyWebRetries      = "web_retries"
	KeyAttempts        = "attempts"
	KeyTTLRuns         = "ttl_runs"
	KeyMaxEvents       = "max_events"
	KeyStatePath       = "state_path"
	KeyDetectCron      = "detect_cron"
	KeySecretsKey      = "secrets_key"
)

// Defaults.
const (
	DefaultModel      = "llama-3.1-70b-versatile"
	DefaultWebTimeout = 20 * time.Second
	DefaultWebRetries = 3
	DefaultAttempts   = 2
	DefaultTTLRuns    = 2
	DefaultMaxEvents  = 8
)

// DefaultOfficialDomains is the conservative baseline allowlist used when no
// allowlist is configured, so hazards are grounded in authoritative sources
// by default.
var DefaultOfficialDomains = []string{
	"weather.gc.ca",
	"canada.ca",
	"travel.gc.ca",
	"weather.gov",
	"noaa.gov",
	"nhc.noaa.gov",
	"cdc.gov",
	"who.int",
	"state.gov",
	"gov.uk",
	"europa.eu",
}

// Config holds resolved configuration for a wayscout process.
type Config struct {
	DataDir         string        // Base directory for state and outputs (~/.wayscout)
	GroqAPIKey      string        // Groq API key; the one terminal config failure when unset
	Model           string        // Groq model name
	BaseURL         string        // OpenAI-compatible endpoint override (tests, proxies)
	OfficialDomains []string      // Allowlist for official hazard search/scrape
	WebTimeout      time.Duration // Per-fetch timeout
	WebRetries      int           // Fetch retry budget
	Attempts        int           // Detection round budget
	TTLRuns         int           // Rejection block window in runs
	MaxEvents       int           // Batch cap after reconciliation
	StatePath       string        // Memory snapshot path; empty = <DataDir>/memory_state.json
	DetectCron      string        // Cron expression for scheduled detection in serve
	SecretsKey      string        // Keyring encryption key; empty disables the keyring

	// AllowedLocationTerms overrides the itinerary-derived location
	// allowlist for opportunities. Set only via a detection profile.
	AllowedLocationTerms []string
}

func init() {
	viper.SetEnvPrefix("WAYSCOUT")
	viper.AutomaticEnv()
	viper.SetDefault(KeyModel, DefaultModel)
	viper.SetDefault(KeyBaseURL, llm.DefaultGroqBaseURL)
	viper.SetDefault(KeyWebTimeout, DefaultWebTimeout)
	viper.SetDefault(KeyWebRetries, DefaultWebRetries)
	viper.SetDefault(KeyAttempts, DefaultAttempts)
	viper.SetDefault(KeyTTLRuns, DefaultTTLRuns)
	viper.SetDefault(KeyMaxEvents, DefaultMaxEvents)
}

// Load reads configuration from Viper (env vars, config file, defaults) and
// returns a validated Config. Load never fails on a missing API key; commands
// check RequireGroqKey before invoking the agent so inspection commands still
// work without credentials.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:         resolveDataDir(),
		GroqAPIKey:      resolveGroqKey(),
		Model:           viper.GetString(KeyModel),
		BaseURL:         viper.GetString(KeyBaseURL),
		OfficialDomains: resolveOfficialDomains(),
		WebTimeout:      viper.GetDuration(KeyWebTimeout),
		WebRetries:      viper.GetInt(KeyWebRetries),
		Attempts:        viper.GetInt(KeyAttempts),
		TTLRuns:         viper.GetInt(KeyTTLRuns),
		MaxEvents:       viper.GetInt(KeyMaxEvents),
		StatePath:       viper.GetString(KeyStatePath),
		DetectCron:      viper.GetString(KeyDetectCron),
		SecretsKey:      viper.GetString(KeySecretsKey),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wayscout"
	}
	return filepath.Join(home, ".wayscout")
}

// resolveGroqKey honors the bare GROQ_API_KEY env var as a quickstart
// fallback alongside the prefixed form.
func resolveGroqKey() string {
	if key := viper.GetString(KeyGroqAPIKey); key != "" {
		return key
	}
	return os.Getenv("GROQ_API_KEY")
}

// resolveOfficialDomains honors the bare OFFICIAL_DOMAINS comma list, then
// the viper key (env or file), then the baseline list.
func resolveOfficialDomains() []string {
	if configured := os.Getenv("OFFICIAL_DOMAINS"); strings.TrimSpace(configured) != "" {
		return splitDomains(configured)
	}
	if configured := viper.GetString(KeyOfficialDomains); strings.TrimSpace(configured) != "" {
		return splitDomains(configured)
	}
	return append([]string(nil), DefaultOfficialDomains...)
}

func splitDomains(configured string) []string {
	var domains []string
	for _, d := range strings.Split(configured, ",") {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

func (c *Config) validate() error {
	if c.WebRetries < 1 {
		return fmt.Errorf("web_retries must be positive")
	}
	if c.Attempts < 1 {
		return fmt.Errorf("attempts must be positive")
	}
	if c.TTLRuns < 0 {
		return fmt.Errorf("ttl_runs must not be negative")
	}
	if c.MaxEvents < 1 {
		return fmt.Errorf("max_events must be positive")
	}
	return nil
}

// RequireGroqKey returns ErrMissingAPIKey when no Groq key is configured.
// This is the sole terminal configuration failure for detection commands.
func (c *Config) RequireGroqKey() error {
	if c.GroqAPIKey == "" {
		return llm.ErrMissingAPIKey
	}
	return nil
}

// MemoryStatePath returns the memory snapshot path, defaulting under DataDir.
func (c *Config) MemoryStatePath() string {
	if c.StatePath != "" {
		return c.StatePath
	}
	return filepath.Join(c.DataDir, "memory_state.json")
}

// SecretsDBPath returns the encrypted keyring location under DataDir.
func (c *Config) SecretsDBPath() string {
	return filepath.Join(c.DataDir, "secrets.db")
}

// OutputsDir returns the directory run outputs are written to.
func (c *Config) OutputsDir() string {
	return filepath.Join(c.DataDir, "outputs")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

// Profile is an optional per-trip detection profile overriding the official
// domain allowlist and the opportunity location terms.
type Profile struct {
	OfficialDomains      []string `yaml:"official_domains"`
	AllowedLocationTerms []string `yaml:"allowed_location_terms"`
}

// LoadProfile reads a YAML detection profile. A missing path is not an
// error; it returns an empty profile.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return &Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Profile{}, nil
		}
		return nil, fmt.Errorf("reading detection profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing detection profile: %w", err)
	}
	return &p, nil
}

// ApplyProfile overlays non-empty profile fields onto the config.
func (c *Config) ApplyProfile(p *Profile) {
	if p == nil {
		return
	}
	if len(p.OfficialDomains) > 0 {
		c.OfficialDomains = p.OfficialDomains
	}
	if len(p.AllowedLocationTerms) > 0 {
		c.AllowedLocationTerms = p.AllowedLocationTerms
	}
}
