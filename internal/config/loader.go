package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [applyDefaults] when the corresponding field is zero.
const (
	DefaultListenAddr        = ":8080"
	DefaultStorePath         = "agentfield.db"
	DefaultTimeScale         = 1.0
	DefaultTickInterval      = 60 * time.Second
	DefaultGossipProbability = 0.05
	DefaultGroupIdleTimeout  = 10 * time.Minute
	DefaultNearbyRadius      = 50.0
	DefaultWriteBehind       = 2 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai"},
	"stt": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.WriteBehindWindow == 0 {
		cfg.Store.WriteBehindWindow = Duration(DefaultWriteBehind)
	}
	if cfg.World.TimeScale == 0 {
		cfg.World.TimeScale = DefaultTimeScale
	}
	if cfg.World.TickInterval == 0 {
		cfg.World.TickInterval = Duration(DefaultTickInterval)
	}
	if cfg.World.GossipProbability == 0 {
		cfg.World.GossipProbability = DefaultGossipProbability
	}
	if cfg.World.GroupIdleTimeout == 0 {
		cfg.World.GroupIdleTimeout = Duration(DefaultGroupIdleTimeout)
	}
	if cfg.World.NearbyRadius == 0 {
		cfg.World.NearbyRadius = DefaultNearbyRadius
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Store
	if cfg.Store.WriteBehindWindow.Std() > 2*time.Second {
		errs = append(errs, fmt.Errorf("store.write_behind_window %s exceeds the 2s coalescing bound", cfg.Store.WriteBehindWindow.Std()))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; agents will answer with fallback frames only")
	}

	// World
	if cfg.World.TimeScale < 0 {
		errs = append(errs, fmt.Errorf("world.time_scale %.2f must be positive", cfg.World.TimeScale))
	}
	if iv := cfg.World.TickInterval.Std(); iv < time.Second {
		errs = append(errs, fmt.Errorf("world.tick_interval %s is below the 1s minimum", iv))
	}
	if p := cfg.World.GossipProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("world.gossip_probability %.2f is out of range [0, 1]", p))
	}
	if cfg.World.NearbyRadius < 0 {
		errs = append(errs, fmt.Errorf("world.nearby_radius %.2f must be positive", cfg.World.NearbyRadius))
	}

	// World seed cross-checks
	factionIDs := make(map[string]int, len(cfg.World.Factions))
	for i, f := range cfg.World.Factions {
		prefix := fmt.Sprintf("world.factions[%d]", i)
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := factionIDs[f.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of world.factions[%d]", prefix, f.ID, prev))
		}
		factionIDs[f.ID] = i
	}
	for i, t := range cfg.World.Territories {
		prefix := fmt.Sprintf("world.territories[%d]", i)
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		}
		if t.Faction != "" {
			if _, ok := factionIDs[t.Faction]; !ok {
				errs = append(errs, fmt.Errorf("%s.faction %q is not declared in world.factions", prefix, t.Faction))
			}
		}
		if t.ControlStrength < 0 || t.ControlStrength > 1 {
			errs = append(errs, fmt.Errorf("%s.control_strength %.2f is out of range [0, 1]", prefix, t.ControlStrength))
		}
		if t.StrategicValue < 0 || t.StrategicValue > 1 {
			errs = append(errs, fmt.Errorf("%s.strategic_value %.2f is out of range [0, 1]", prefix, t.StrategicValue))
		}
	}
	for i, r := range cfg.World.Routes {
		prefix := fmt.Sprintf("world.routes[%d]", i)
		if r.From == "" || r.To == "" {
			errs = append(errs, fmt.Errorf("%s: from and to are required", prefix))
		}
		if r.ProfitMargin != 0 && (r.ProfitMargin < 0.05 || r.ProfitMargin > 0.25) {
			errs = append(errs, fmt.Errorf("%s.profit_margin %.2f is out of range [0.05, 0.25]", prefix, r.ProfitMargin))
		}
		if r.RiskLevel != 0 && (r.RiskLevel < 0.1 || r.RiskLevel > 0.5) {
			errs = append(errs, fmt.Errorf("%s.risk_level %.2f is out of range [0.1, 0.5]", prefix, r.RiskLevel))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
