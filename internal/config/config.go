/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tschaefer/failwatchd/internal/classify"
	"github.com/tschaefer/failwatchd/internal/sink"
)

// Watch binds one log path to the classification category its lines are
// matched against.
type Watch struct {
	Path     string
	Category string
}

// Config is the immutable daemon configuration. It is loaded once and
// injected into the component constructors; nothing reads viper after
// startup.
type Config struct {
	Log struct {
		Level  string
		Format string
	}

	Watch []Watch

	Cycle struct {
		Interval time.Duration
	}

	Flood struct {
		Lines    int
		Interval time.Duration
	}

	Store struct {
		DenyFile  string
		AllowFile string
	}

	Deny struct {
		Limit    int
		Duration time.Duration

		// SkipInactive skips enforcement for addresses that no longer
		// have tracked connections.
		SkipInactive bool
	}

	// Trigger holds the per-category repeat-offense count before a deny
	// is issued. A category missing from the map triggers on the first
	// event.
	Trigger map[string]int

	Exempt struct {
		Allow  []string
		Ignore []string
	}

	Firewall struct {
		Table       string
		InputChain  string
		OutputChain string
		Faststart   bool
	}

	Relay struct {
		Port uint16
	}

	GeoIP struct {
		Database string
	}

	Profiler struct {
		Address string
	}

	Sink sink.Config
}

// InitConfig initializes viper from the given config file or the
// default location /etc/failwatchd/failwatchd.{yaml,json,toml}.
// Environment variables prefixed FAILWATCHD_ override file values.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("failwatchd")
		viper.AddConfigPath("/etc/failwatchd/")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FAILWATCHD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if cfgFile != "" {
				return fmt.Errorf("config file not found: %w", err)
			}
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("cycle.interval", 5*time.Second)
	viper.SetDefault("flood.lines", 500)
	viper.SetDefault("flood.interval", 30*time.Second)
	viper.SetDefault("store.denyfile", "/var/lib/failwatchd/failwatchd.deny")
	viper.SetDefault("store.allowfile", "/var/lib/failwatchd/failwatchd.allow")
	viper.SetDefault("deny.limit", 200)
	viper.SetDefault("deny.duration", time.Hour)
	viper.SetDefault("firewall.table", "filter")
	viper.SetDefault("firewall.inputchain", "FAILWATCH_IN")
	viper.SetDefault("firewall.outputchain", "FAILWATCH_OUT")
	viper.SetDefault("relay.port", 25)
}

// New unmarshals the loaded configuration into a Config and validates
// it. Enforcement-critical omissions are errors here, at startup, never
// silently defaulted into a daemon that watches nothing.
func New() (*Config, error) {
	setDefaults()

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) validate() error {
	if len(c.Watch) == 0 {
		return fmt.Errorf("no log sources configured, nothing to watch")
	}
	for _, w := range c.Watch {
		if w.Path == "" {
			return fmt.Errorf("watch entry without path")
		}
		if !classify.Valid(classify.Category(w.Category)) {
			return fmt.Errorf("watch entry %s: unknown category %q (known: %s)",
				w.Path, w.Category, strings.Join(classify.Categories, ", "))
		}
	}

	if c.Store.DenyFile == "" || c.Store.AllowFile == "" {
		return fmt.Errorf("store files not configured")
	}
	if c.Flood.Lines <= 0 || c.Flood.Interval <= 0 {
		return fmt.Errorf("flood threshold and interval must be positive")
	}
	if c.Cycle.Interval <= 0 {
		return fmt.Errorf("cycle interval must be positive")
	}
	if c.Deny.Limit < 0 {
		return fmt.Errorf("deny limit must not be negative")
	}
	for category := range c.Trigger {
		if !classify.Valid(classify.Category(category)) {
			return fmt.Errorf("trigger for unknown category %q", category)
		}
	}

	return nil
}
