package brain

import (
	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/oracle"
)

const (
	hungerOverride  = 0.8
	fatigueOverride = 0.9

	paranoiaGate    = 0.7
	paranoiaScale   = 1.5
	empathyGate     = 0.7
	empathyScale    = 1.3
)

// applyOverrides lets the body veto the mind. Critical hunger redirects
// the agent toward finding food, critical fatigue forces rest, and
// extreme personality traits amplify the trust swing. Returns whether
// an override replaced the model's intent.
func applyOverrides(frame *oracle.CognitiveFrame, s *agent.State) bool {
	overridden := false

	if s.Vitals.Hunger > hungerOverride && frame.Intent != oracle.IntentFlee && frame.Intent != oracle.IntentAssist {
		frame.Intent = oracle.IntentInvestigate
		frame.Urgency = max(frame.Urgency, 0.9)
		overridden = true
	}
	if s.Vitals.Fatigue > fatigueOverride && frame.Intent != oracle.IntentFlee {
		frame.Intent = oracle.IntentIgnore
		frame.Dialogue = "I... need to rest..."
		frame.Urgency = 1.0
		overridden = true
	}

	if s.Trait(agent.TraitParanoia) > paranoiaGate {
		frame.TrustDelta *= paranoiaScale
	}
	if s.Trait(agent.TraitEmpathy) > empathyGate && frame.TrustDelta > 0 {
		frame.TrustDelta *= empathyScale
	}
	frame.TrustDelta = clampAbs(frame.TrustDelta, oracle.MaxTrustDelta)

	return overridden
}

// driftFor maps an acted intent to the trait it reshapes. Threatening
// situations harden paranoia, helpful ones deepen empathy; everything
// else leaves personality alone.
func driftFor(intent oracle.Intent) (agent.Trait, float64) {
	switch intent {
	case oracle.IntentFlee, oracle.IntentAttack, oracle.IntentGuard:
		return agent.TraitParanoia, 0.1 * traitInertia
	case oracle.IntentAssist, oracle.IntentSocialize:
		return agent.TraitEmpathy, 0.05 * traitInertia
	default:
		return "", 0
	}
}
