package brain

import (
	"context"
	"fmt"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/store"
)

// GroupTurn is one speaker's share of a group exchange, ready to commit.
// The orchestrator ran a single cognition pass for the whole group, so
// unlike [Brain.Process] there is no per-speaker frame here: the mood
// and trust movement derive from the response type.
type GroupTurn struct {
	// PlayerID and PlayerLine identify the message that opened the turn.
	PlayerID   string
	PlayerLine string

	// Utterance is this speaker's validated contribution.
	Utterance oracle.GroupUtterance

	// Remember inserts memories of the player's line for this speaker.
	// The orchestrator sets it only for the primary responder so a
	// crowded room does not mint one copy of the memory per bystander.
	Remember bool
}

// groupMoodShift maps a response type to the mood movement speaking it
// causes. Conflict runs hot, agreement runs pleasant.
func groupMoodShift(rt oracle.ResponseType) (arousal, valence float64) {
	switch rt {
	case oracle.ResponseAgreement:
		return 0.02, 0.06
	case oracle.ResponseDisagreement:
		return 0.10, -0.05
	case oracle.ResponseInterruption:
		return 0.15, -0.05
	case oracle.ResponseRedirect:
		return 0.05, -0.02
	default: // direct_reply, elaboration
		return 0.04, 0.01
	}
}

// groupTrustNudge is the small reputation movement a group response
// carries toward the player. Deliberately an order of magnitude under
// [oracle.MaxTrustDelta]: banter moves standing, it does not define it.
func groupTrustNudge(rt oracle.ResponseType) float64 {
	switch rt {
	case oracle.ResponseAgreement:
		return 0.02
	case oracle.ResponseDisagreement:
		return -0.02
	case oracle.ResponseInterruption:
		return -0.03
	default:
		return 0
	}
}

// CommitGroupTurn applies one speaker's group-turn effects in the same
// fixed order Process uses: mood shift and touch, vitals persistence,
// memory insertion, reputation nudge. It serializes against solo
// interactions with the same agent through the interaction lock.
func (b *Brain) CommitGroupTurn(ctx context.Context, a *agent.Agent, turn GroupTurn) (agent.Mood, error) {
	lock := b.interactionLock(a.ID())
	lock.Lock()
	defer lock.Unlock()

	now := b.now()
	arousal, valence := groupMoodShift(turn.Utterance.Type)

	var mood agent.Mood
	var vitals store.VitalsUpdate
	err := a.Do(ctx, func(s *agent.State) error {
		s.ApplyAction(arousal, valence)
		s.Touch(now)
		mood = s.Mood
		vitals = s.VitalsUpdate()
		return nil
	})
	if err != nil {
		return agent.Mood{}, fmt.Errorf("brain: group turn %s: %w", a.ID(), err)
	}
	if err := b.persistVitals(ctx, vitals); err != nil {
		return mood, err
	}

	if turn.Remember {
		topics := memory.ExtractTopics(turn.PlayerLine)
		if _, err := b.memory.Remember(ctx, a.ID(), turn.PlayerID, topics); err != nil {
			return mood, err
		}
	}

	if nudge := groupTrustNudge(turn.Utterance.Type); nudge != 0 {
		rep, err := b.store.GetReputation(ctx, turn.PlayerID, a.ID())
		if err != nil {
			return mood, fmt.Errorf("brain: group turn %s: %w", a.ID(), err)
		}
		err = b.store.PutReputation(ctx, store.ReputationRecord{
			PlayerID:   turn.PlayerID,
			TargetID:   a.ID(),
			TargetKind: store.TargetAgent,
			Score:      clampAbs(rep+nudge, 1),
			UpdatedAt:  now,
		})
		if err != nil {
			return mood, fmt.Errorf("brain: group turn %s: %w", a.ID(), err)
		}
	}
	return mood, nil
}
