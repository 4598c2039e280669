// Package agent holds per-NPC simulation state: personality traits
// behind the soft-clamp sigmoid, vitals, mood, goals and position.
//
// A [State] is plain data owned by exactly one writer at a time. The
// [Agent] wrapper provides the mailbox that serializes mutations;
// cross-agent operations go through [DoPair], which locks both
// mailboxes in ascending id order.
package agent

import (
	"fmt"

	"github.com/MrWong99/agentfield/internal/store"
)

// State is an agent's complete in-memory simulation state. It is not
// safe for concurrent mutation; go through [Agent.Do].
type State struct {
	ID      string
	Name    string
	Role    string
	Persona string

	Zone        string
	X, Y, Z     float64
	HasPosition bool

	Traits map[Trait]float64
	Vitals Vitals
	Mood   Mood
	Goals  []Goal

	FactionID        string
	VoiceFingerprint string

	CreatedAt         int64
	LastInteractionAt int64
}

// FromRecord rebuilds in-memory state from its persisted form. Unknown
// trait keys are dropped; missing axes fill in at 0.5.
func FromRecord(rec store.AgentRecord) *State {
	st := &State{
		ID: rec.ID, Name: rec.Name, Role: rec.Role, Persona: rec.Persona,
		Zone: rec.Zone, X: rec.X, Y: rec.Y, Z: rec.Z, HasPosition: rec.HasPosition,
		Traits:            DefaultTraits(),
		Vitals:            Vitals{Hunger: rec.Hunger, Fatigue: rec.Fatigue},
		Mood:              Mood{Label: MoodLabel(rec.MoodLabel), Arousal: rec.Arousal, Valence: rec.Valence},
		FactionID:         rec.FactionID,
		VoiceFingerprint:  rec.VoiceFingerprint,
		CreatedAt:         rec.CreatedAt,
		LastInteractionAt: rec.LastInteractionAt,
	}
	for name, value := range rec.Traits {
		t := Trait(name)
		if t.IsValid() {
			st.Traits[t] = clampBand(value)
		}
	}
	if !st.Mood.Label.IsValid() {
		st.Mood.Label = DeriveMoodLabel(st.Mood.Arousal, st.Mood.Valence)
	}
	return st
}

// Record converts the state to its persisted form. Goals persist
// separately through the goal table.
func (s *State) Record() store.AgentRecord {
	traits := make(map[string]float64, len(s.Traits))
	for t, v := range s.Traits {
		traits[string(t)] = v
	}
	return store.AgentRecord{
		ID: s.ID, Name: s.Name, Role: s.Role, Persona: s.Persona,
		Zone: s.Zone, X: s.X, Y: s.Y, Z: s.Z, HasPosition: s.HasPosition,
		Traits: traits,
		Hunger: s.Vitals.Hunger, Fatigue: s.Vitals.Fatigue,
		MoodLabel: string(s.Mood.Label), Arousal: s.Mood.Arousal, Valence: s.Mood.Valence,
		FactionID:         s.FactionID,
		VoiceFingerprint:  s.VoiceFingerprint,
		CreatedAt:         s.CreatedAt,
		LastInteractionAt: s.LastInteractionAt,
	}
}

// VitalsUpdate snapshots the write-behind payload for this agent.
func (s *State) VitalsUpdate() store.VitalsUpdate {
	return store.VitalsUpdate{
		AgentID: s.ID,
		Hunger:  s.Vitals.Hunger, Fatigue: s.Vitals.Fatigue,
		MoodLabel: string(s.Mood.Label),
		Arousal:   s.Mood.Arousal, Valence: s.Mood.Valence,
		LastInteractionAt: s.LastInteractionAt,
	}
}

// Trait returns the current value of a trait axis, 0.5 if unset.
func (s *State) Trait(t Trait) float64 {
	if v, ok := s.Traits[t]; ok {
		return v
	}
	return 0.5
}

// ApplyTraitDelta mutates one trait through the soft-clamp and returns
// the delta-log entry describing the change.
func (s *State) ApplyTraitDelta(t Trait, delta float64, reason string, now int64) (store.TraitDeltaRecord, error) {
	if !t.IsValid() {
		return store.TraitDeltaRecord{}, fmt.Errorf("agent: unknown trait %q", t)
	}
	if s.Traits == nil {
		s.Traits = DefaultTraits()
	}
	from := s.Trait(t)
	to := SoftClamp(from + delta)
	s.Traits[t] = to
	return store.TraitDeltaRecord{
		AgentID: s.ID, Trait: string(t),
		FromValue: from, ToValue: to, Delta: delta,
		Reason: reason, TS: now,
	}, nil
}

// ApplyVitalDecay advances hunger and fatigue for elapsed simulated
// hours.
func (s *State) ApplyVitalDecay(deltaHours float64) {
	s.Vitals.Decay(deltaHours)
}

// ApplyAction applies a cognitive frame's mood shift and relabels.
func (s *State) ApplyAction(arousalDelta, valenceDelta float64) {
	s.Mood.ApplyShift(arousalDelta, valenceDelta)
}

// Touch stamps the last interaction time. Feeds tier classification;
// never moves backwards.
func (s *State) Touch(now int64) {
	if now > s.LastInteractionAt {
		s.LastInteractionAt = now
	}
}

// MoveTo places the agent at a zone coordinate.
func (s *State) MoveTo(zone string, x, y, z float64) {
	s.Zone = zone
	s.X, s.Y, s.Z = x, y, z
	s.HasPosition = true
}
