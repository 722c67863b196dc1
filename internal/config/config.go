// Package config loads the pdsink command configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/oxplot/go-pdsink/dpm"
	"github.com/oxplot/go-pdsink/tcpcdriver/fusb302"
)

// Policy kinds
const (
	PolicyMaxVoltage = "max-voltage"
	PolicyCV         = "cv"
	PolicyCP         = "cp"
)

// Config is the resolved command configuration.
type Config struct {
	Bus          string
	BusSpeedHz   int64
	MPN          fusb302.MPN
	PollInterval time.Duration
	LogLevel     string
	MonitorAddr  string
	Policy       Policy
}

// Policy describes how a source capability is picked.
type Policy struct {
	Kind               string
	MaxVoltage         uint16
	MinVoltage         uint16
	Current            uint16
	Power              uint32
	PreferLowerVoltage bool
	LogCapabilities    bool
}

func Default() Config {
	return Config{
		Bus:          "1",
		BusSpeedHz:   1_000_000,
		MPN:          fusb302.FUSB302BMPX,
		PollInterval: 3 * time.Millisecond,
		Policy: Policy{
			Kind:       PolicyMaxVoltage,
			MaxVoltage: 20000,
			MinVoltage: 5000,
		},
	}
}

type fileConfig struct {
	Bus          string     `toml:"bus"`
	BusSpeedHz   int64      `toml:"bus_speed_hz"`
	MPN          string     `toml:"mpn"`
	PollInterval string     `toml:"poll_interval"`
	LogLevel     string     `toml:"log_level"`
	MonitorAddr  string     `toml:"monitor_addr"`
	Policy       filePolicy `toml:"policy"`
}

type filePolicy struct {
	Kind               string `toml:"kind"`
	MaxVoltage         int64  `toml:"max_voltage_mv"`
	MinVoltage         int64  `toml:"min_voltage_mv"`
	Current            int64  `toml:"current_ma"`
	Power              int64  `toml:"power_mw"`
	PreferLowerVoltage bool   `toml:"prefer_lower_voltage"`
	LogCapabilities    bool   `toml:"log_capabilities"`
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("bus") {
		cfg.Bus = strings.TrimSpace(raw.Bus)
	}
	if meta.IsDefined("bus_speed_hz") {
		cfg.BusSpeedHz = raw.BusSpeedHz
	}
	if meta.IsDefined("mpn") {
		m, err := fusb302.ParseMPN(raw.MPN)
		if err != nil {
			return Config{}, fmt.Errorf("parse mpn: %w", err)
		}
		cfg.MPN = m
	}
	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("monitor_addr") {
		cfg.MonitorAddr = strings.TrimSpace(raw.MonitorAddr)
	}

	p := &cfg.Policy
	if meta.IsDefined("policy", "kind") {
		p.Kind = strings.ToLower(strings.TrimSpace(raw.Policy.Kind))
	}
	if meta.IsDefined("policy", "max_voltage_mv") {
		if p.MaxVoltage, err = millis("policy.max_voltage_mv", raw.Policy.MaxVoltage); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("policy", "min_voltage_mv") {
		if p.MinVoltage, err = millis("policy.min_voltage_mv", raw.Policy.MinVoltage); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("policy", "current_ma") {
		if p.Current, err = millis("policy.current_ma", raw.Policy.Current); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("policy", "power_mw") {
		if raw.Policy.Power < 0 || raw.Policy.Power > 1<<32-1 {
			return Config{}, fmt.Errorf("parse policy.power_mw: %d out of range", raw.Policy.Power)
		}
		p.Power = uint32(raw.Policy.Power)
	}
	if meta.IsDefined("policy", "prefer_lower_voltage") {
		p.PreferLowerVoltage = raw.Policy.PreferLowerVoltage
	}
	if meta.IsDefined("policy", "log_capabilities") {
		p.LogCapabilities = raw.Policy.LogCapabilities
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func millis(key string, v int64) (uint16, error) {
	if v < 0 || v > 1<<16-1 {
		return 0, fmt.Errorf("parse %s: %d out of range", key, v)
	}
	return uint16(v), nil
}

var (
	ErrBadBus          = errors.New("config: bus must not be empty")
	ErrBadBusSpeed     = errors.New("config: bus speed must be > 0Hz & <= 1MHz")
	ErrBadPollInterval = errors.New("config: poll interval must be > 0")
	ErrBadPolicyKind   = errors.New("config: unknown policy kind")
)

// Validate checks the configuration, including the policy parameters.
func (c Config) Validate() error {
	if c.Bus == "" {
		return ErrBadBus
	}
	if c.BusSpeedHz <= 0 || c.BusSpeedHz > 1_000_000 {
		return ErrBadBusSpeed
	}
	if c.PollInterval <= 0 {
		return ErrBadPollInterval
	}
	if _, err := c.Policy.Build(io.Discard); err != nil {
		return err
	}
	return nil
}

// Build returns the validated dpm policy. Capabilities are written to w when
// LogCapabilities is set.
func (p Policy) Build(w io.Writer) (dpm.Policy, error) {
	var pol dpm.Policy
	switch p.Kind {
	case PolicyMaxVoltage:
		var m dpm.MaxVoltage
		m.Limit = p.MaxVoltage
		pol = m
	case PolicyCV:
		pol = dpm.CVPolicy{
			MinVoltage:         p.MinVoltage,
			MaxVoltage:         p.MaxVoltage,
			Current:            p.Current,
			PreferLowerVoltage: p.PreferLowerVoltage,
		}
	case PolicyCP:
		pol = dpm.CPPolicy{
			MinVoltage:         p.MinVoltage,
			MaxVoltage:         p.MaxVoltage,
			Power:              p.Power,
			PreferLowerVoltage: p.PreferLowerVoltage,
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadPolicyKind, p.Kind)
	}
	if p.LogCapabilities {
		pol = dpm.NewLogger(w, "\n", pol)
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.Kind, err)
	}
	return pol, nil
}
