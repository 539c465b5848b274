package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Zachkp/folio/internal/lazyembed"
	"github.com/Zachkp/folio/internal/page"
)

// Config is the site configuration. Durations are written as strings in the
// YAML file ("150ms", "5m") and parsed by LoadConfig.
type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		DBPath string `yaml:"dbPath"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Admin struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		// VisitorRetention is how long hashed visitor rows are kept.
		VisitorRetention string `yaml:"visitorRetention"`
	} `yaml:"admin"`

	Sessions struct {
		IdleTTL    string `yaml:"idleTTL"`
		SweepEvery string `yaml:"sweepEvery"`
		Max        int    `yaml:"max"`
	} `yaml:"sessions"`

	RateLimit struct {
		PerSecond float64 `yaml:"perSecond"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	Loader   LoaderConfig    `yaml:"loader"`
	Sections []SectionConfig `yaml:"sections"`

	loader           lazyembed.Config
	idleTTL          time.Duration
	sweepEvery       time.Duration
	visitorRetention time.Duration
	logLevel         slog.Level
}

type ProfileConfig struct {
	Threshold *float64 `yaml:"threshold"`
	Margin    *float64 `yaml:"margin"`
}

type DelayConfig struct {
	Normal string `yaml:"normal"`
	Fast   string `yaml:"fast"`
}

type LoaderConfig struct {
	Normal          ProfileConfig `yaml:"normal"`
	Fast            ProfileConfig `yaml:"fast"`
	Full            DelayConfig   `yaml:"full"`
	Constrained     DelayConfig   `yaml:"constrained"`
	WarmFloor       string        `yaml:"warmFloor"`
	CacheExpiry     string        `yaml:"cacheExpiry"`
	CacheMaxEntries int           `yaml:"cacheMaxEntries"`
	ResizeDebounce  string        `yaml:"resizeDebounce"`
	Breakpoint      float64       `yaml:"breakpoint"`
	TouchBreakpoint float64       `yaml:"touchBreakpoint"`
}

type SectionConfig struct {
	Slot     string `yaml:"slot"`
	Title    string `yaml:"title"`
	Resource string `yaml:"resource"`
	Fast     bool   `yaml:"fast"`
	Large    bool   `yaml:"large"`
}

// LoadConfig reads the YAML file at path, if any, applies environment
// overrides and validates the result. A missing file means defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, err
	}

	applyEnv(&cfg)

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = "folio.db"
	}
	if cfg.Admin.Username == "" {
		cfg.Admin.Username = "admin"
	}
	if cfg.RateLimit.PerSecond == 0 {
		cfg.RateLimit.PerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 60
	}
	if cfg.Sessions.Max == 0 {
		cfg.Sessions.Max = 2000
	}
	if len(cfg.Sections) == 0 {
		cfg.Sections = defaultSections()
	}

	if cfg.logLevel, err = parseLevel(cfg.Log.Level); err != nil {
		return Config{}, fmt.Errorf("log.level: %w", err)
	}
	if cfg.idleTTL, err = parseDuration(cfg.Sessions.IdleTTL, 30*time.Minute); err != nil {
		return Config{}, fmt.Errorf("sessions.idleTTL: %w", err)
	}
	if cfg.sweepEvery, err = parseDuration(cfg.Sessions.SweepEvery, time.Minute); err != nil {
		return Config{}, fmt.Errorf("sessions.sweepEvery: %w", err)
	}
	if cfg.visitorRetention, err = parseDuration(cfg.Admin.VisitorRetention, 365*24*time.Hour); err != nil {
		return Config{}, fmt.Errorf("admin.visitorRetention: %w", err)
	}
	if cfg.loader, err = cfg.Loader.build(); err != nil {
		return Config{}, err
	}

	seen := make(map[string]bool, len(cfg.Sections))
	for i, s := range cfg.Sections {
		if s.Slot == "" || s.Resource == "" {
			return Config{}, fmt.Errorf("sections[%d]: slot and resource are required", i)
		}
		if seen[s.Slot] {
			return Config{}, fmt.Errorf("sections[%d]: duplicate slot %q", i, s.Slot)
		}
		seen[s.Slot] = true
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("ADMIN_USERNAME"); v != "" {
		cfg.Admin.Username = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (lc LoaderConfig) build() (lazyembed.Config, error) {
	cfg := lazyembed.DefaultConfig()

	if lc.Normal.Threshold != nil {
		cfg.Normal.ThresholdRatio = *lc.Normal.Threshold
	}
	if lc.Normal.Margin != nil {
		cfg.Normal.PreMargin = *lc.Normal.Margin
	}
	if lc.Fast.Threshold != nil {
		cfg.Fast.ThresholdRatio = *lc.Fast.Threshold
	}
	if lc.Fast.Margin != nil {
		cfg.Fast.PreMargin = *lc.Fast.Margin
	}

	delays := []struct {
		name string
		raw  string
		key  lazyembed.DelayKey
	}{
		{"loader.full.normal", lc.Full.Normal, lazyembed.DelayKey{Fast: false, Class: lazyembed.Full}},
		{"loader.full.fast", lc.Full.Fast, lazyembed.DelayKey{Fast: true, Class: lazyembed.Full}},
		{"loader.constrained.normal", lc.Constrained.Normal, lazyembed.DelayKey{Fast: false, Class: lazyembed.Constrained}},
		{"loader.constrained.fast", lc.Constrained.Fast, lazyembed.DelayKey{Fast: true, Class: lazyembed.Constrained}},
	}
	for _, d := range delays {
		v, err := parseDuration(d.raw, cfg.Delays[d.key])
		if err != nil {
			return lazyembed.Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		cfg.Delays[d.key] = v
	}

	var err error
	if cfg.WarmFloor, err = parseDuration(lc.WarmFloor, cfg.WarmFloor); err != nil {
		return lazyembed.Config{}, fmt.Errorf("loader.warmFloor: %w", err)
	}
	if cfg.CacheExpiry, err = parseDuration(lc.CacheExpiry, cfg.CacheExpiry); err != nil {
		return lazyembed.Config{}, fmt.Errorf("loader.cacheExpiry: %w", err)
	}
	if cfg.ResizeDebounce, err = parseDuration(lc.ResizeDebounce, cfg.ResizeDebounce); err != nil {
		return lazyembed.Config{}, fmt.Errorf("loader.resizeDebounce: %w", err)
	}
	if lc.CacheMaxEntries != 0 {
		cfg.CacheMaxEntries = lc.CacheMaxEntries
	}
	if lc.Breakpoint != 0 {
		cfg.Breakpoint = lc.Breakpoint
	}
	if lc.TouchBreakpoint != 0 {
		cfg.TouchBreakpoint = lc.TouchBreakpoint
	}

	if err := cfg.Validate(); err != nil {
		return lazyembed.Config{}, err
	}
	return cfg, nil
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var lvl slog.Level
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
		return 0, err
	}
	return lvl, nil
}

func (c Config) pageSections() []page.Section {
	out := make([]page.Section, 0, len(c.Sections))
	for _, s := range c.Sections {
		out = append(out, page.Section{
			Slot:     s.Slot,
			Resource: lazyembed.ResourceID(s.Resource),
			Fast:     s.Fast,
			Large:    s.Large,
		})
	}
	return out
}
