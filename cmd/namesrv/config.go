package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/logiface"
)

// Config is the server configuration, loaded from an optional TOML file,
// then overridden by any flags set explicitly.
type Config struct {
	LogLevel string `toml:"log_level"`

	Admission AdmissionConfig `toml:"admission"`

	Port    int `toml:"port"`
	Workers int `toml:"workers"`
	Backlog int `toml:"backlog"`
	Stacks  int `toml:"stacks"`

	// ConnTimeout bounds each dialogue, from accept to the final flush.
	ConnTimeout time.Duration `toml:"conn_timeout"`

	// StatsEvery sends a stats record each time the connection count
	// reaches a multiple of it.
	StatsEvery int `toml:"stats_every"`
	// StatsInterval additionally sends a stats record periodically, if it
	// changed. Zero disables.
	StatsInterval time.Duration `toml:"stats_interval"`
}

// AdmissionConfig rate limits new connections per peer address. A zero Max
// disables it.
type AdmissionConfig struct {
	Window time.Duration `toml:"window"`
	Max    int           `toml:"max"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		Port:          5555,
		Workers:       4,
		Backlog:       10,
		Stacks:        64,
		ConnTimeout:   10 * time.Second,
		StatsEvery:    100,
		StatsInterval: 5 * time.Second,
		Admission: AdmissionConfig{
			Window: time.Second,
			Max:    50,
		},
	}
}

// parseConfig parses args into the configuration, and reports whether the
// process is a worker.
func parseConfig(args []string) (cfg *Config, worker bool, err error) {
	cfg = defaultConfig()
	var (
		flags      = defaultConfig()
		configPath string
	)

	fs := flag.NewFlagSet("namesrv", flag.ContinueOnError)
	fs.IntVar(&flags.Port, "port", flags.Port, "TCP port to serve on; stats are received on port+1")
	fs.IntVar(&flags.Workers, "workers", flags.Workers, "number of worker processes")
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "log level (emerg, alert, crit, err, warning, notice, info, debug, trace, disabled)")
	fs.StringVar(&configPath, "config", "", "optional TOML config file")
	fs.BoolVar(&worker, "worker", false, "internal: run as a worker, serving the listener inherited as fd 3")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if fs.NArg() != 0 {
		return nil, false, fmt.Errorf("unexpected arguments: %q", fs.Args())
	}

	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, false, fmt.Errorf("config %s: %w", configPath, err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = flags.Port
		case "workers":
			cfg.Workers = flags.Workers
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, worker, nil
}

var errInvalidConfig = errors.New("invalid config")

func (c *Config) validate() error {
	switch {
	case c.Port <= 0 || c.Port >= 0xffff:
		return fmt.Errorf("%w: port %d out of range", errInvalidConfig, c.Port)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", errInvalidConfig)
	case c.Stacks < 0:
		return fmt.Errorf("%w: stacks must not be negative", errInvalidConfig)
	case c.ConnTimeout <= 0:
		return fmt.Errorf("%w: conn_timeout must be positive", errInvalidConfig)
	case c.StatsEvery < 1:
		return fmt.Errorf("%w: stats_every must be positive", errInvalidConfig)
	case c.StatsInterval < 0:
		return fmt.Errorf("%w: stats_interval must not be negative", errInvalidConfig)
	case c.Admission.Max < 0 || (c.Admission.Max > 0 && c.Admission.Window <= 0):
		return fmt.Errorf("%w: admission requires a positive window", errInvalidConfig)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// parseLevel accepts the logiface level names, plus the common aliases.
func parseLevel(s string) (logiface.Level, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	case "information":
		return logiface.LevelInformational, nil
	}
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("%w: unknown log level %q", errInvalidConfig, s)
}
