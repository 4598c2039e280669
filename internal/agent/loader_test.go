package agent_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/agentfield/internal/agent"
)

func writeDefinition(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDefinitions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDefinition(t, dir, "marn.yaml", `
id: marn
name: Marn the Smith
role: blacksmith
persona: Gruff but fair. Speaks in short sentences.
faction: traders
zone: market
position:
  x: 12.5
  y: 0
  z: -3.25
traits:
  aggression: 0.3
  greed: 1.2
voice_fingerprint: gravel-low
`)
	writeDefinition(t, dir, "sela.yml", `
id: sela
name: Sela
`)
	writeDefinition(t, dir, "notes.txt", "not a definition")

	defs, err := agent.LoadDefinitions(dir)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}

	var marn agent.Definition
	for _, d := range defs {
		if d.ID == "marn" {
			marn = d
		}
	}
	if marn.Name != "Marn the Smith" || marn.Role != "blacksmith" || marn.Faction != "traders" {
		t.Errorf("marn = %+v, want name/role/faction populated", marn)
	}
	if marn.Position == nil || marn.Position.X != 12.5 || marn.Position.Z != -3.25 {
		t.Errorf("marn position = %+v, want (12.5, 0, -3.25)", marn.Position)
	}

	st := marn.NewState(1000)
	if st.Trait(agent.TraitAggression) != 0.3 {
		t.Errorf("aggression = %v, want 0.3", st.Trait(agent.TraitAggression))
	}
	if st.Trait(agent.TraitGreed) != agent.TraitCeil {
		t.Errorf("greed = %v, want pinned to %v", st.Trait(agent.TraitGreed), agent.TraitCeil)
	}
	if st.Trait(agent.TraitEmpathy) != 0.5 {
		t.Errorf("unset empathy = %v, want default 0.5", st.Trait(agent.TraitEmpathy))
	}
	if !st.HasPosition || st.Zone != "market" {
		t.Errorf("position = (%v, %q), want placed in market", st.HasPosition, st.Zone)
	}
	if st.Mood.Label != agent.MoodCalm || st.Vitals != agent.DefaultVitals() {
		t.Errorf("spawn mood/vitals = (%s, %+v), want defaults", st.Mood.Label, st.Vitals)
	}
	if st.CreatedAt != 1000 || st.LastInteractionAt != 1000 {
		t.Errorf("timestamps = (%d, %d), want both 1000", st.CreatedAt, st.LastInteractionAt)
	}
}

func TestLoadDefinitions_DuplicateID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDefinition(t, dir, "a.yaml", "id: marn\nname: First\n")
	writeDefinition(t, dir, "b.yaml", "id: marn\nname: Second\n")

	_, err := agent.LoadDefinitions(dir)
	if err == nil {
		t.Fatal("expected duplicate id error, got nil")
	}
	if !strings.Contains(err.Error(), "a.yaml") || !strings.Contains(err.Error(), "b.yaml") {
		t.Errorf("error %q should name both files", err)
	}
}

func TestLoadDefinitions_UnknownTrait(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDefinition(t, dir, "bad.yaml", "id: x\nname: X\ntraits:\n  charisma: 0.9\n")

	if _, err := agent.LoadDefinitions(dir); err == nil {
		t.Fatal("expected unknown trait error, got nil")
	}
}

func TestLoadDefinitions_UnknownField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDefinition(t, dir, "bad.yaml", "id: x\nname: X\nbackstory: long\n")

	if _, err := agent.LoadDefinitions(dir); err == nil {
		t.Fatal("expected unknown field error, got nil")
	}
}

func TestLoadDefinitions_MissingDir(t *testing.T) {
	t.Parallel()

	defs, err := agent.LoadDefinitions(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error, got %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("got %d definitions from missing dir, want 0", len(defs))
	}
}

func TestDefinitionValidate_RequiredFields(t *testing.T) {
	t.Parallel()

	d := agent.Definition{}
	err := d.Validate()
	if err == nil {
		t.Fatal("empty definition should fail validation")
	}
	if !strings.Contains(err.Error(), "id") || !strings.Contains(err.Error(), "name") {
		t.Errorf("error %q should mention id and name", err)
	}
}
