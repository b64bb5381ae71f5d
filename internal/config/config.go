// Package config loads the optional tally configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bamsammich/tally/internal/filter"
)

// Config represents the optional tally configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Rules    []RuleConfig   `toml:"rules"`
}

// DefaultsConfig holds persistent flag defaults. Nil means "not set", so
// command-line flags and built-in defaults apply.
type DefaultsConfig struct {
	Workers          *int      `toml:"workers"`
	Tasks            *int      `toml:"tasks"`
	Hidden           *bool     `toml:"hidden"`
	FollowSymlinks   *bool     `toml:"follow_symlinks"`
	MaxDepth         *int      `toml:"max_depth"`
	ProgressInterval *Duration `toml:"progress_interval"`
	SkipZeroSize     *bool     `toml:"skip_zero_size"`
	SkipSymlinks     *bool     `toml:"skip_symlinks"`
	DedupHardLinks   *bool     `toml:"dedup_hardlinks"`
	Exclude          []string  `toml:"exclude"`
	Extensions       []string  `toml:"extensions"`
}

// RuleConfig is one [[rules]] table.
type RuleConfig struct {
	Enabled   *bool  `toml:"enabled"`
	ID        string `toml:"id"`
	Type      string `toml:"type"`
	Pattern   string `toml:"pattern"`
	Operation string `toml:"operation"`
	Priority  int    `toml:"priority"`
}

// Duration decodes TOML strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "tally", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// LoadFile reads the config file at path. Unlike Load, a missing file is an
// error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undec[0].String())
	}
	return cfg, nil
}

// FilterRules converts the [[rules]] tables into filter rules, in file order.
func (c Config) FilterRules() ([]filter.Rule, error) {
	rules := make([]filter.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		r, err := rc.toRule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("config-%d", i+1)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (rc RuleConfig) toRule() (filter.Rule, error) {
	typ, err := filter.ParseRuleType(rc.Type)
	if err != nil {
		return filter.Rule{}, err
	}
	if typ == filter.RuleCustom {
		return filter.Rule{}, fmt.Errorf("rule type %q cannot be configured from a file", rc.Type)
	}
	op := filter.Exclude
	if rc.Operation != "" {
		if op, err = filter.ParseOperation(rc.Operation); err != nil {
			return filter.Rule{}, err
		}
	}
	if rc.Pattern == "" {
		return filter.Rule{}, errors.New("rule pattern is empty")
	}
	enabled := true
	if rc.Enabled != nil {
		enabled = *rc.Enabled
	}
	return filter.Rule{
		ID:        rc.ID,
		Type:      typ,
		Pattern:   rc.Pattern,
		Operation: op,
		Priority:  rc.Priority,
		Enabled:   enabled,
	}, nil
}

// FilterOptions applies the configured toggles on top of base.
func (d DefaultsConfig) FilterOptions(base filter.Options) filter.Options {
	if d.SkipZeroSize != nil {
		base.SkipZeroSize = *d.SkipZeroSize
	}
	if d.SkipSymlinks != nil {
		base.SkipSymlinks = *d.SkipSymlinks
	}
	if d.DedupHardLinks != nil {
		base.DedupHardLinks = *d.DedupHardLinks
	}
	return base
}
