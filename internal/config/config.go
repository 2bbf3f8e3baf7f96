// Package config provides configuration loading for calslot.
//
// Configuration comes from a YAML file with environment variable overrides
// applied on top. It is loaded once at startup and not modified afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors that must stop startup.
var ErrInvalid = errors.New("invalid configuration")

// Provider types.
const (
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
	ProviderICloud = "icloud"
	ProviderMS365  = "ms365"
	ProviderICS    = "ics"
	ProviderMemory = "memory"
)

const (
	DefaultTimeZone   = "Asia/Kolkata"
	DefaultCalendarID = "primary"
	DefaultAddr       = ":8080"
)

// Config is the root configuration structure.
type Config struct {
	TimeZone      string             `yaml:"timezone"`
	CalendarID    string             `yaml:"calendar_id"`
	WorkingHours  WorkingHours       `yaml:"working_hours"`
	Provider      ProviderConfig     `yaml:"provider"`
	BusyFilters   FilterConfig       `yaml:"busy_filters"`
	Server        ServerConfig       `yaml:"server"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// WorkingHours is the daily window slots are searched in, as offsets from
// local midnight.
type WorkingHours struct {
	Start time.Duration
	End   time.Duration
}

// ProviderConfig selects and configures the calendar backend.
type ProviderConfig struct {
	Type            string        `yaml:"type"` // google, caldav, icloud, ms365, ics, memory
	Name            string        `yaml:"name"`
	CredentialsFile string        `yaml:"credentials_file,omitempty"` // Google service account JSON
	URL             string        `yaml:"url,omitempty"`
	Username        string        `yaml:"username,omitempty"`
	Password        string        `yaml:"password,omitempty"`
	PasswordCmd     string        `yaml:"password_cmd,omitempty"`
	ClientID        string        `yaml:"client_id,omitempty"` // MS365 app registration
	Horizon         time.Duration `yaml:"-"`                   // How far ahead upcoming events are listed
}

// FilterConfig configures which events are ignored when computing busy time.
type FilterConfig struct {
	Mode  string       `yaml:"mode"` // "or" or "and"
	Rules []FilterRule `yaml:"rules"`
}

// FilterRule defines a single filter rule.
// Use exactly one of: Contains, Exact, Prefix, Suffix, or Regex.
type FilterRule struct {
	Field           string `yaml:"field"` // "title", "organizer", "source", "description", "location"
	Contains        string `yaml:"contains,omitempty"`
	Exact           string `yaml:"exact,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Suffix          string `yaml:"suffix,omitempty"`
	Regex           string `yaml:"regex,omitempty"`
	CaseInsensitive bool   `yaml:"case_insensitive"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per client; negative turns limiting off
	Burst     int     `yaml:"burst"`
}

// NotificationConfig configures desktop notifications for bookings.
type NotificationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// env holds the environment variables that override the file.
type env struct {
	CredentialsFile string `envconfig:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	CalendarID      string `envconfig:"GOOGLE_CALENDAR_ID"`
	TimeZone        string `envconfig:"CALSLOT_TIMEZONE"`
	Provider        string `envconfig:"CALSLOT_PROVIDER"`
	Addr            string `envconfig:"CALSLOT_ADDR"`
}

// DefaultPath returns ~/.config/calslot/config.yaml.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(configDir, "calslot", "config.yaml"), nil
}

// Load reads configuration from the default location. A missing file is
// not an error; the environment and defaults are used instead.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// LoadFrom reads configuration from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults.
// The result is not validated.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var e env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.applyEnv(e)
	cfg.applyDefaults()

	cfg.Provider.CredentialsFile = expandPath(cfg.Provider.CredentialsFile)
	return &cfg, nil
}

func (c *Config) applyEnv(e env) {
	if e.CredentialsFile != "" {
		c.Provider.CredentialsFile = e.CredentialsFile
	}
	if e.CalendarID != "" {
		c.CalendarID = e.CalendarID
	}
	if e.TimeZone != "" {
		c.TimeZone = e.TimeZone
	}
	if e.Provider != "" {
		c.Provider.Type = e.Provider
	}
	if e.Addr != "" {
		c.Server.Addr = e.Addr
	}
}

// applyDefaults sets default values for unspecified config options.
func (c *Config) applyDefaults() {
	if c.TimeZone == "" {
		c.TimeZone = DefaultTimeZone
	}
	if c.CalendarID == "" {
		c.CalendarID = DefaultCalendarID
	}
	if c.WorkingHours == (WorkingHours{}) {
		c.WorkingHours = WorkingHours{Start: 9 * time.Hour, End: 18 * time.Hour}
	}
	if c.Provider.Type == "" {
		c.Provider.Type = ProviderGoogle
	}
	c.Provider.Type = strings.ToLower(c.Provider.Type)
	if c.Provider.Name == "" {
		c.Provider.Name = c.Provider.Type
	}
	if c.Provider.Horizon == 0 {
		c.Provider.Horizon = 90 * 24 * time.Hour
	}
	if c.BusyFilters.Mode == "" {
		c.BusyFilters.Mode = "or"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 20
	}
}

// Validate reports the first fatal problem, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.TimeZone, err)
	}

	wh := c.WorkingHours
	if wh.Start < 0 || wh.End > 24*time.Hour || wh.Start >= wh.End {
		return fmt.Errorf("%w: working_hours start %s must be before end %s", ErrInvalid, wh.Start, wh.End)
	}

	p := c.Provider
	switch p.Type {
	case ProviderGoogle:
		if p.CredentialsFile == "" {
			return fmt.Errorf("%w: google provider needs credentials_file or GOOGLE_SERVICE_ACCOUNT_JSON", ErrInvalid)
		}
	case ProviderCalDAV, ProviderICS:
		if p.URL == "" {
			return fmt.Errorf("%w: %s provider needs url", ErrInvalid, p.Type)
		}
	case ProviderICloud:
		if p.Username == "" {
			return fmt.Errorf("%w: icloud provider needs username", ErrInvalid)
		}
	case ProviderMS365, ProviderMemory:
	default:
		return fmt.Errorf("%w: unknown provider type %q", ErrInvalid, p.Type)
	}

	if c.Server.Burst < 0 {
		return fmt.Errorf("%w: server burst must not be negative", ErrInvalid)
	}
	return nil
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// GetPassword returns the provider password, executing password_cmd if needed.
func (p *ProviderConfig) GetPassword() (string, error) {
	if p.Password != "" {
		return p.Password, nil
	}
	if p.PasswordCmd == "" {
		return "", nil
	}

	cmd := exec.Command("sh", "-c", p.PasswordCmd)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("execute password_cmd: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// UnmarshalYAML reads "HH:MM" clock times.
func (w *WorkingHours) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if w.Start, err = parseClock(raw.Start, 9*time.Hour); err != nil {
		return fmt.Errorf("parse working_hours.start: %w", err)
	}
	if w.End, err = parseClock(raw.End, 18*time.Hour); err != nil {
		return fmt.Errorf("parse working_hours.end: %w", err)
	}
	return nil
}

// UnmarshalYAML implements custom unmarshaling for the horizon duration.
func (p *ProviderConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ProviderConfig
	var raw struct {
		plain   `yaml:",inline"`
		Horizon string `yaml:"horizon"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*p = ProviderConfig(raw.plain)
	d, err := parseDuration(raw.Horizon)
	if err != nil {
		return fmt.Errorf("parse horizon: %w", err)
	}
	p.Horizon = d
	return nil
}

// parseClock parses "HH:MM". An empty string yields def.
func parseClock(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		// "24:00" closes the day.
		if s == "24:00" {
			return 24 * time.Hour, nil
		}
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// parseDuration extends time.ParseDuration with day ("14d") and week ("2w")
// units. An empty string is zero; negative values are rejected.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	}

	var d time.Duration
	if unit != 0 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d = time.Duration(n) * unit
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, err
		}
	}

	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
