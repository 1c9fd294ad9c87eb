package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultRefreshCron    = "*/15 * * * *"
	defaultConnectTimeout = 30
	defaultCacheDir       = "/var/lib/inkcal/ics-cache"
	defaultStateDir       = "/var/lib/inkcal"
	defaultMaxEvents      = 10
	defaultWidth          = 800
	defaultHeight         = 480
	defaultBorder         = 100
	defaultOpacity        = 0.5
	defaultDriver         = DriverUC8179
	defaultIndicatorPin   = "GPIO13"
	defaultBlinkMillis    = 250
)

// Panel drivers understood by internal/epd.
const (
	DriverUC8179 = "uc8179"
	DriverFile   = "file"
)

// FeedConfig describes the calendar subscription.
type FeedConfig struct {
	// ID is an internal identifier used for cache keys and logging.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS endpoint. When empty, File is parsed instead.
	URL string `yaml:"url" json:"url"`
	// Auth is a pre-encoded HTTP Basic token ("base64(user:password)").
	Auth string `yaml:"auth,omitempty" json:"-"`
	// File is a local ICS file used when URL is empty.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// SPIConfig holds bus and BCM pin names for the SPI panel driver.
type SPIConfig struct {
	Bus  string `yaml:"bus" json:"bus"`
	RST  string `yaml:"rst" json:"rst"`
	DC   string `yaml:"dc" json:"dc"`
	CS   string `yaml:"cs,omitempty" json:"cs,omitempty"`
	Busy string `yaml:"busy" json:"busy"`
}

// DisplayConfig controls layout and the physical panel.
type DisplayConfig struct {
	// Width/Height are the panel resolution in pixels.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// Rotate renders the page in portrait and turns it 90 degrees onto the
	// panel, for panels mounted on their side.
	Rotate bool `yaml:"rotate" json:"rotate"`

	// MaxEvents caps the number of upcoming events drawn.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// Background is an image file drawn behind the event panel.
	Background string `yaml:"background,omitempty" json:"background,omitempty"`

	// Border is the margin (px) around the translucent event panel and
	// Opacity its alpha in [0,1].
	Border  int     `yaml:"border" json:"border"`
	Opacity float64 `yaml:"opacity" json:"opacity"`

	// HighlightRed is a list of keywords that cause events to be rendered in red.
	HighlightRed []string `yaml:"highlight_red" json:"highlight_red"`

	// Driver selects the panel backend: "uc8179" or "file".
	Driver string    `yaml:"driver" json:"driver"`
	SPI    SPIConfig `yaml:"spi" json:"spi"`
}

// IndicatorConfig controls the busy LED.
type IndicatorConfig struct {
	// Pin is a GPIO name as known to periph (e.g. "GPIO13"). Empty disables the LED.
	Pin string `yaml:"pin" json:"pin"`
	// PeriodMillis is the on (and off) duration of one blink.
	PeriodMillis int `yaml:"period_ms" json:"period_ms"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the page, API and metrics.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for display (e.g. "Europe/London").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ConnectTimeoutSec bounds how long a refresh keeps retrying the feed.
	ConnectTimeoutSec int `yaml:"connect_timeout_sec" json:"connect_timeout_sec"`

	// CacheDir holds per-feed ICS bodies and HTTP cache metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// StateDir holds preview.png and plane dumps.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Feed      FeedConfig      `yaml:"feed" json:"feed"`
	Display   DisplayConfig   `yaml:"display" json:"display"`
	Indicator IndicatorConfig `yaml:"indicator" json:"indicator"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		Timezone:          defaultTimezone,
		RefreshCron:       defaultRefreshCron,
		ConnectTimeoutSec: defaultConnectTimeout,
		CacheDir:          defaultCacheDir,
		StateDir:          defaultStateDir,
		LogLevel:          "info",
		Feed: FeedConfig{
			ID: "main",
		},
		Display: DisplayConfig{
			Width:        defaultWidth,
			Height:       defaultHeight,
			Rotate:       true,
			MaxEvents:    defaultMaxEvents,
			Border:       defaultBorder,
			Opacity:      defaultOpacity,
			HighlightRed: []string{},
			Driver:       defaultDriver,
			SPI:          defaultSPI(),
		},
		Indicator: IndicatorConfig{
			Pin:          defaultIndicatorPin,
			PeriodMillis: defaultBlinkMillis,
		},
		BasicAuth: nil,
	}
}

// defaultSPI is the Waveshare e-Paper HAT pinout.
func defaultSPI() SPIConfig {
	return SPIConfig{
		Bus:  "",
		RST:  "GPIO17",
		DC:   "GPIO25",
		Busy: "GPIO24",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.ConnectTimeoutSec <= 0 {
		c.ConnectTimeoutSec = defaultConnectTimeout
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Feed.ID == "" {
		c.Feed.ID = "main"
	}

	d := &c.Display
	if d.Width <= 0 {
		d.Width = defaultWidth
	}
	if d.Height <= 0 {
		d.Height = defaultHeight
	}
	if d.MaxEvents <= 0 {
		d.MaxEvents = defaultMaxEvents
	}
	if d.Border < 0 {
		d.Border = 0
	}
	if d.Opacity < 0 || d.Opacity > 1 {
		d.Opacity = defaultOpacity
	}
	if d.HighlightRed == nil {
		d.HighlightRed = []string{}
	}
	switch d.Driver {
	case DriverUC8179, DriverFile:
	default:
		// Unknown driver; fall back to the default panel.
		d.Driver = defaultDriver
	}
	def := defaultSPI()
	if d.SPI.RST == "" {
		d.SPI.RST = def.RST
	}
	if d.SPI.DC == "" {
		d.SPI.DC = def.DC
	}
	if d.SPI.Busy == "" {
		d.SPI.Busy = def.Busy
	}

	if c.Indicator.PeriodMillis <= 0 {
		c.Indicator.PeriodMillis = defaultBlinkMillis
	}
}

// ConnectTimeout returns ConnectTimeoutSec as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// BlinkPeriod returns the indicator period as a duration.
func (c *Config) BlinkPeriod() time.Duration {
	return time.Duration(c.Indicator.PeriodMillis) * time.Millisecond
}

// Location resolves Timezone, falling back to UTC when unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".inkcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
