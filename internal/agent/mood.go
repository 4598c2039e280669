package agent

// MoodLabel is the coarse emotional readout derived from arousal and
// valence.
type MoodLabel string

// Mood labels, roughly ordered by how alarmed the agent is.
const (
	MoodCalm       MoodLabel = "calm"
	MoodHappy      MoodLabel = "happy"
	MoodParanoid   MoodLabel = "paranoid"
	MoodAggressive MoodLabel = "aggressive"
	MoodFearful    MoodLabel = "fearful"
)

// IsValid reports whether l is a known mood label.
func (l MoodLabel) IsValid() bool {
	switch l {
	case MoodCalm, MoodHappy, MoodParanoid, MoodAggressive, MoodFearful:
		return true
	}
	return false
}

// Mood is the continuous emotional state plus its derived label.
// Arousal 0 = lethargic, 1 = panicked; valence 0 = negative,
// 1 = positive.
type Mood struct {
	Label   MoodLabel
	Arousal float64
	Valence float64
}

// DefaultMood is the spawn state: calm, slightly alert, neutral.
func DefaultMood() Mood {
	return Mood{Label: MoodCalm, Arousal: 0.3, Valence: 0.5}
}

// DeriveMoodLabel maps (arousal, valence) onto a label. Checks run from
// most to least alarmed so the extreme corners win.
func DeriveMoodLabel(arousal, valence float64) MoodLabel {
	switch {
	case valence < 0.2 && arousal > 0.75:
		return MoodFearful
	case valence < 0.35 && arousal > 0.6:
		return MoodAggressive
	case valence < 0.45 && arousal > 0.45:
		return MoodParanoid
	case valence > 0.65:
		return MoodHappy
	default:
		return MoodCalm
	}
}

// ApplyShift nudges arousal and valence by the given deltas, keeps both
// in [0,1] and relabels.
func (m *Mood) ApplyShift(arousalDelta, valenceDelta float64) {
	m.Arousal = clamp01(m.Arousal + arousalDelta)
	m.Valence = clamp01(m.Valence + valenceDelta)
	m.Label = DeriveMoodLabel(m.Arousal, m.Valence)
}

// TickDecay relaxes the mood toward baseline: arousal fades by 5%,
// valence is pulled toward 0.5 by 10%.
func (m *Mood) TickDecay() {
	m.Arousal *= 0.95
	m.Valence = 0.5 + (m.Valence-0.5)*0.9
	m.Label = DeriveMoodLabel(m.Arousal, m.Valence)
}

// Vitals are the biological pressure gauges. 0 is sated/rested, 1 is
// starving/exhausted.
type Vitals struct {
	Hunger  float64
	Fatigue float64
}

// DefaultVitals is the spawn state.
func DefaultVitals() Vitals {
	return Vitals{Hunger: 0.2, Fatigue: 0.3}
}

// Decay advances both gauges for elapsed simulated hours: hunger
// saturates in 4 h, fatigue in 6 h.
func (v *Vitals) Decay(deltaHours float64) {
	v.Hunger = min(1.0, v.Hunger+deltaHours/4)
	v.Fatigue = min(1.0, v.Fatigue+deltaHours/6)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
