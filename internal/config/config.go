// Package config provides the configuration schema, loader, and provider registry
// for the agentfield simulation server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the agentfield server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps [time.Duration] so YAML fields can be written in the usual
// Go syntax ("60s", "10m", "1h30m").
type Duration time.Duration

// UnmarshalYAML parses a duration string node.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for agentfield.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Providers ProvidersConfig `yaml:"providers"`
	World     WorldConfig     `yaml:"world"`

	// AgentsDir is an optional directory of per-NPC persona definition files
	// (one YAML document per agent) loaded and initialised at boot.
	AgentsDir string `yaml:"agents_dir"`
}

// ServerConfig holds network and logging settings for the agentfield server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// StoreConfig holds settings for the embedded relational store.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `yaml:"path"`

	// WriteBehindWindow is the coalescing window for vitals/mood write-behind
	// flushes. Updates to the same agent within the window collapse into one
	// write. Maximum 2s.
	WriteBehindWindow Duration `yaml:"write_behind_window"`
}

// ProvidersConfig declares which provider implementation to use for each
// oracle stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	STT ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// WorldConfig holds simulation-wide tuning and the declarative world seed.
type WorldConfig struct {
	// Seed is the master RNG seed. The world clock and every per-agent RNG
	// stream derive from it, so runs with the same seed and snapshot replay
	// identically. 0 means "derive from wall clock" (non-reproducible).
	Seed int64 `yaml:"seed"`

	// TimeScale is the number of simulated hours one autorun tick advances.
	TimeScale float64 `yaml:"time_scale"`

	// TickInterval is the wall-clock period between autorun ticks.
	TickInterval Duration `yaml:"tick_interval"`

	// Autostart begins autorun at boot with TimeScale and TickInterval.
	// When false the clock stays stopped until POST /world/start.
	Autostart bool `yaml:"autostart"`

	// GossipProbability is the base per-tick chance that an active agent
	// gossips with a relation-weighted partner. Scaled by sociability.
	GossipProbability float64 `yaml:"gossip_probability"`

	// GroupIdleTimeout is how long a conversation group may stay idle before
	// the expiry sweeper closes it.
	GroupIdleTimeout Duration `yaml:"group_idle_timeout"`

	// NearbyRadius is the default proximity query radius; it also sets the
	// spatial grid cell edge.
	NearbyRadius float64 `yaml:"nearby_radius"`

	// Factions, Territories and Routes seed an empty store at first boot.
	// They are ignored when the store already contains factions.
	Factions    []FactionSeed   `yaml:"factions"`
	Territories []TerritorySeed `yaml:"territories"`
	Routes      []RouteSeed     `yaml:"routes"`
}

// FactionSeed declares one faction of the initial world.
type FactionSeed struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Values    []string `yaml:"values"`
	Resources float64  `yaml:"resources"`
}

// TerritorySeed declares one territory of the initial world.
type TerritorySeed struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Faction string `yaml:"faction"`

	// ControlStrength is the controlling faction's initial grip, in [0, 1].
	ControlStrength float64 `yaml:"control_strength"`

	// StrategicValue weighs the territory in battle morale bonuses, in [0, 1].
	StrategicValue float64 `yaml:"strategic_value"`
}

// RouteSeed declares one trade route of the initial world.
type RouteSeed struct {
	From  string   `yaml:"from"`
	To    string   `yaml:"to"`
	Goods []string `yaml:"goods"`

	// ProfitMargin is the per-trade gain fraction, in [0.05, 0.25].
	ProfitMargin float64 `yaml:"profit_margin"`

	// RiskLevel is the per-roll failure probability, in [0.1, 0.5].
	RiskLevel float64 `yaml:"risk_level"`
}
