package agent

import "math"

// Trait is one of the eight personality axes every agent carries.
type Trait string

// The personality axes. Values live in [0.05, 0.95]; every mutation
// passes through SoftClamp so they cannot leave that band.
const (
	TraitAggression  Trait = "aggression"
	TraitCuriosity   Trait = "curiosity"
	TraitEmpathy     Trait = "empathy"
	TraitGreed       Trait = "greed"
	TraitHonor       Trait = "honor"
	TraitLoyalty     Trait = "loyalty"
	TraitParanoia    Trait = "paranoia"
	TraitSociability Trait = "sociability"
)

// AllTraits lists every axis in stable order.
var AllTraits = []Trait{
	TraitAggression,
	TraitCuriosity,
	TraitEmpathy,
	TraitGreed,
	TraitHonor,
	TraitLoyalty,
	TraitParanoia,
	TraitSociability,
}

// IsValid reports whether t is a known trait.
func (t Trait) IsValid() bool {
	switch t {
	case TraitAggression, TraitCuriosity, TraitEmpathy, TraitGreed,
		TraitHonor, TraitLoyalty, TraitParanoia, TraitSociability:
		return true
	}
	return false
}

// Trait band limits. SoftClamp approaches but never reaches them.
const (
	TraitFloor = 0.05
	TraitCeil  = 0.95
)

// SoftClamp maps a linear trait value into (0.05, 0.95) through a
// sigmoid centered on 0.5:
//
//	x = (v − 0.5)·10
//	σ = 1 / (1 + e^−x)
//	out = 0.05 + 0.9·σ
//
// Repeated positive deltas saturate toward 0.95 instead of overshooting,
// so cumulative pressure stays monotone and bounded.
func SoftClamp(v float64) float64 {
	x := (v - 0.5) * 10
	sigmoid := 1 / (1 + math.Exp(-x))
	return TraitFloor + 0.9*sigmoid
}

// DefaultTraits returns a neutral personality (every axis 0.5).
func DefaultTraits() map[Trait]float64 {
	traits := make(map[Trait]float64, len(AllTraits))
	for _, t := range AllTraits {
		traits[t] = 0.5
	}
	return traits
}

// clampBand pins an externally supplied trait value into the legal band
// without the sigmoid. Used for initial persona values only; mutations
// go through SoftClamp.
func clampBand(v float64) float64 {
	if v < TraitFloor {
		return TraitFloor
	}
	if v > TraitCeil {
		return TraitCeil
	}
	return v
}
