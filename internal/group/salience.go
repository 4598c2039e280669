package group

import (
	"cmp"
	"context"
	"slices"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/store"
)

// Salience weights. Familiarity carries full weight; topic interest,
// tension-fed paranoia and the recent-speaker damper are scaled down so
// a stranger who cares deeply can still out-rank a regular.
const (
	interestWeight     = 0.3
	tensionWeight      = 0.4
	recentSpeakerPenal = 0.25

	// recentTurnWindow: spoke within the last two turns counts as recent.
	recentTurnWindow = 2

	// familiarityPerMemory converts visible memory count into [0,1]
	// familiarity; six memories of the player make a regular.
	familiarityPerMemory = 6
)

// topicAffinity maps an extracted topic category to the trait whose
// holders find it interesting. Gossip about crime hooks the aggressive,
// fear hooks the paranoid, trade talk hooks the greedy.
var topicAffinity = map[string]agent.Trait{
	memory.CategorySecret:     agent.TraitCuriosity,
	memory.CategoryFamily:     agent.TraitEmpathy,
	memory.CategoryCrime:      agent.TraitAggression,
	memory.CategoryFear:       agent.TraitParanoia,
	memory.CategoryEvent:      agent.TraitCuriosity,
	memory.CategoryGoal:       agent.TraitGreed,
	memory.CategoryOrigin:     agent.TraitCuriosity,
	memory.CategoryPreference: agent.TraitEmpathy,
	memory.CategoryProfession: agent.TraitGreed,
}

// rankedParticipant pairs a participant with its salience for one turn.
type rankedParticipant struct {
	p        *participant
	state    agent.State
	salience float64
}

// rankBySalience scores every participant for the incoming message and
// returns them best first, ties broken by agent id for determinism.
//
//	salience = familiarity + 0.3·interest + 0.4·tension·paranoia
//	         − 0.25·[spoke within the last two turns]
func (o *Orchestrator) rankBySalience(ctx context.Context, conv *conversation, text string) ([]rankedParticipant, error) {
	topics := memory.ExtractTopics(text)

	ranked := make([]rankedParticipant, 0, len(conv.participants))
	for _, p := range conv.participants {
		a, err := o.registry.Get(p.agentID)
		if err != nil {
			// Participant disappeared from the registry (shutdown race);
			// skip rather than sink the whole turn.
			continue
		}
		state, err := a.Snapshot(ctx)
		if err != nil {
			return nil, err
		}

		fam, err := o.familiarity(ctx, p.agentID, conv.playerID)
		if err != nil {
			return nil, err
		}

		s := fam
		s += interestWeight * interest(state, topics)
		s += tensionWeight * conv.tension * state.Trait(agent.TraitParanoia)
		if p.lastSpokeTurn >= 0 && conv.turn-p.lastSpokeTurn < recentTurnWindow {
			s -= recentSpeakerPenal
		}

		ranked = append(ranked, rankedParticipant{p: p, state: state, salience: s})
	}

	slices.SortFunc(ranked, func(a, b rankedParticipant) int {
		if a.salience != b.salience {
			return cmp.Compare(b.salience, a.salience)
		}
		return cmp.Compare(a.p.agentID, b.p.agentID)
	})
	return ranked, nil
}

// familiarity reads how well the agent knows the player: the count of
// visible memories about them, saturating at six.
func (o *Orchestrator) familiarity(ctx context.Context, agentID, playerID string) (float64, error) {
	mems, err := o.store.QueryMemories(ctx, store.MemoryQuery{
		Owner: agentID, Subject: playerID, Limit: familiarityPerMemory,
	})
	if err != nil {
		return 0, err
	}
	return float64(len(mems)) / familiarityPerMemory, nil
}

// interest is the strongest trait affinity the message's topics touch.
// A message with no recognizable topic leaves everyone mildly curious.
func interest(state agent.State, topics []memory.Topic) float64 {
	if len(topics) == 0 {
		return 0.5 * state.Trait(agent.TraitCuriosity)
	}
	best := 0.0
	for _, t := range topics {
		trait, ok := topicAffinity[t.Category]
		if !ok {
			continue
		}
		if v := state.Trait(trait); v > best {
			best = v
		}
	}
	return best
}
