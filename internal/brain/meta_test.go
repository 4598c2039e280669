package brain

import (
	"math"
	"testing"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/oracle"
)

func neutralState(vitals agent.Vitals) *agent.State {
	return &agent.State{
		ID:     "npc-1",
		Traits: agent.DefaultTraits(),
		Vitals: vitals,
		Mood:   agent.DefaultMood(),
	}
}

func TestApplyOverrides_Survival(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		vitals       agent.Vitals
		intent       oracle.Intent
		urgency      float64
		wantIntent   oracle.Intent
		wantUrgency  float64
		wantDialogue string
		wantOverride bool
	}{
		{
			name:        "healthy agent keeps its mind",
			vitals:      agent.DefaultVitals(),
			intent:      oracle.IntentSocialize,
			urgency:     0.2,
			wantIntent:  oracle.IntentSocialize,
			wantUrgency: 0.2,
		},
		{
			name:         "critical hunger redirects to foraging",
			vitals:       agent.Vitals{Hunger: 0.85, Fatigue: 0.3},
			intent:       oracle.IntentSocialize,
			urgency:      0.2,
			wantIntent:   oracle.IntentInvestigate,
			wantUrgency:  0.9,
			wantOverride: true,
		},
		{
			name:         "hunger never lowers an already urgent frame",
			vitals:       agent.Vitals{Hunger: 0.85, Fatigue: 0.3},
			intent:       oracle.IntentAttack,
			urgency:      0.95,
			wantIntent:   oracle.IntentInvestigate,
			wantUrgency:  0.95,
			wantOverride: true,
		},
		{
			name:        "hunger spares flight",
			vitals:      agent.Vitals{Hunger: 0.85, Fatigue: 0.3},
			intent:      oracle.IntentFlee,
			urgency:     0.8,
			wantIntent:  oracle.IntentFlee,
			wantUrgency: 0.8,
		},
		{
			name:        "hunger spares helping",
			vitals:      agent.Vitals{Hunger: 0.85, Fatigue: 0.3},
			intent:      oracle.IntentAssist,
			urgency:     0.4,
			wantIntent:  oracle.IntentAssist,
			wantUrgency: 0.4,
		},
		{
			name:         "critical fatigue forces rest",
			vitals:       agent.Vitals{Hunger: 0.2, Fatigue: 0.95},
			intent:       oracle.IntentAttack,
			urgency:      0.6,
			wantIntent:   oracle.IntentIgnore,
			wantUrgency:  1.0,
			wantDialogue: "I... need to rest...",
			wantOverride: true,
		},
		{
			name:        "fatigue spares flight",
			vitals:      agent.Vitals{Hunger: 0.2, Fatigue: 0.95},
			intent:      oracle.IntentFlee,
			urgency:     0.8,
			wantIntent:  oracle.IntentFlee,
			wantUrgency: 0.8,
		},
		{
			name:         "fatigue outranks hunger",
			vitals:       agent.Vitals{Hunger: 0.85, Fatigue: 0.95},
			intent:       oracle.IntentSocialize,
			urgency:      0.2,
			wantIntent:   oracle.IntentIgnore,
			wantUrgency:  1.0,
			wantDialogue: "I... need to rest...",
			wantOverride: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			frame := oracle.CognitiveFrame{
				Intent:   tc.intent,
				Dialogue: "original line",
				Urgency:  tc.urgency,
			}
			got := applyOverrides(&frame, neutralState(tc.vitals))

			if got != tc.wantOverride {
				t.Errorf("overridden = %v, want %v", got, tc.wantOverride)
			}
			if frame.Intent != tc.wantIntent {
				t.Errorf("intent = %q, want %q", frame.Intent, tc.wantIntent)
			}
			if math.Abs(frame.Urgency-tc.wantUrgency) > 1e-9 {
				t.Errorf("urgency = %v, want %v", frame.Urgency, tc.wantUrgency)
			}
			if tc.wantDialogue != "" && frame.Dialogue != tc.wantDialogue {
				t.Errorf("dialogue = %q, want %q", frame.Dialogue, tc.wantDialogue)
			}
		})
	}
}

func TestApplyOverrides_TrustModifiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		paranoia float64
		empathy  float64
		delta    float64
		want     float64
	}{
		{"neutral traits pass through", 0.5, 0.5, 0.1, 0.1},
		{"paranoia amplifies distrust", 0.8, 0.5, -0.1, -0.15},
		{"paranoia amplifies trust too", 0.8, 0.5, 0.1, 0.15},
		{"empathy amplifies trust", 0.5, 0.8, 0.1, 0.13},
		{"empathy ignores distrust", 0.5, 0.8, -0.1, -0.1},
		{"stacked modifiers clamp at the band", 0.8, 0.8, 0.12, oracle.MaxTrustDelta},
		{"amplified distrust clamps too", 0.8, 0.5, -0.18, -oracle.MaxTrustDelta},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := neutralState(agent.DefaultVitals())
			s.Traits[agent.TraitParanoia] = tc.paranoia
			s.Traits[agent.TraitEmpathy] = tc.empathy

			frame := oracle.CognitiveFrame{
				Intent: oracle.IntentSocialize, Dialogue: "hm",
				TrustDelta: tc.delta,
			}
			applyOverrides(&frame, s)

			if math.Abs(frame.TrustDelta-tc.want) > 1e-9 {
				t.Errorf("trust delta = %v, want %v", frame.TrustDelta, tc.want)
			}
		})
	}
}

func TestDriftFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		intent    oracle.Intent
		wantTrait agent.Trait
		wantDelta float64
	}{
		{oracle.IntentFlee, agent.TraitParanoia, 0.1 * traitInertia},
		{oracle.IntentAttack, agent.TraitParanoia, 0.1 * traitInertia},
		{oracle.IntentGuard, agent.TraitParanoia, 0.1 * traitInertia},
		{oracle.IntentAssist, agent.TraitEmpathy, 0.05 * traitInertia},
		{oracle.IntentSocialize, agent.TraitEmpathy, 0.05 * traitInertia},
		{oracle.IntentTrade, "", 0},
		{oracle.IntentInvestigate, "", 0},
		{oracle.IntentIgnore, "", 0},
	}

	for _, tc := range cases {
		trait, delta := driftFor(tc.intent)
		if trait != tc.wantTrait || delta != tc.wantDelta {
			t.Errorf("driftFor(%s) = (%q, %v), want (%q, %v)",
				tc.intent, trait, delta, tc.wantTrait, tc.wantDelta)
		}
	}
}
