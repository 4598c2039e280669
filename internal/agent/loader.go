package agent

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the declarative persona configuration for one agent,
// loaded from a YAML file in the agents directory. It captures only
// what the world starts with; everything mutable (trait drift, vitals,
// goals) lives in [State] afterwards.
type Definition struct {
	// ID is the unique identifier for this agent.
	ID string `yaml:"id"`

	// Name is the agent's in-world display name (e.g., "Marn the Smith").
	Name string `yaml:"name"`

	// Role is a short occupation tag ("blacksmith", "guard captain").
	Role string `yaml:"role"`

	// Persona is a free-text description of character, speech patterns,
	// quirks, and motivations. Injected verbatim into cognition prompts.
	Persona string `yaml:"persona"`

	// Faction is the id of the faction this agent belongs to, if any.
	Faction string `yaml:"faction"`

	// Zone plus Position place the agent in the proximity index. Agents
	// without a position are excluded from nearby queries but fully
	// functional otherwise.
	Zone     string    `yaml:"zone"`
	Position *Position `yaml:"position"`

	// Traits seeds the personality axes. Missing axes default to 0.5;
	// values are pinned into [0.05, 0.95]. Unknown trait names are a
	// load error.
	Traits map[string]float64 `yaml:"traits"`

	// VoiceFingerprint selects the synthesis voice for this agent.
	VoiceFingerprint string `yaml:"voice_fingerprint"`
}

// Position is a 3D point within a zone.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Validate checks required fields and trait names.
func (d *Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("agent: definition id must not be empty"))
	}
	if d.Name == "" {
		errs = append(errs, errors.New("agent: definition name must not be empty"))
	}
	for name := range d.Traits {
		if !Trait(name).IsValid() {
			errs = append(errs, fmt.Errorf("agent: definition %s: unknown trait %q", d.ID, name))
		}
	}
	return errors.Join(errs...)
}

// NewState builds fresh simulation state from a definition: default
// vitals and mood, persona traits pinned into the band, no goals yet.
func (d *Definition) NewState(now int64) *State {
	st := &State{
		ID: d.ID, Name: d.Name, Role: d.Role, Persona: d.Persona,
		Zone:              d.Zone,
		Traits:            DefaultTraits(),
		Vitals:            DefaultVitals(),
		Mood:              DefaultMood(),
		FactionID:         d.Faction,
		VoiceFingerprint:  d.VoiceFingerprint,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	if d.Position != nil {
		st.X, st.Y, st.Z = d.Position.X, d.Position.Y, d.Position.Z
		st.HasPosition = true
	}
	for name, value := range d.Traits {
		st.Traits[Trait(name)] = clampBand(value)
	}
	return st
}

// LoadDefinitions reads every *.yaml / *.yml file under dir, one
// definition per file. Duplicate ids are an error. A missing directory
// yields an empty slice, so a world can start with no scripted agents.
func LoadDefinitions(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent: read definitions dir %q: %w", dir, err)
	}

	var defs []Definition
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := loadDefinitionFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("agent: duplicate definition id %q in %s and %s", def.ID, prev, entry.Name())
		}
		seen[def.ID] = entry.Name()
		defs = append(defs, def)
	}
	return defs, nil
}

func loadDefinitionFile(path string) (Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return Definition{}, fmt.Errorf("agent: open definition %q: %w", path, err)
	}
	defer f.Close()

	var def Definition
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return Definition{}, fmt.Errorf("agent: decode definition %q: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("agent: definition %q: %w", path, err)
	}
	return def, nil
}
