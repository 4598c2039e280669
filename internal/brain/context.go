package brain

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/faction"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/store"
)

// promptContext is everything one cognition call knows about the world:
// a state snapshot plus the recalled memories, rumors and relationships
// that shape the prompts.
type promptContext struct {
	state      agent.State
	playerID   string
	playerName string
	utterance  string

	memories   []store.MemoryRecord
	rumors     []store.RumorRecord
	reputation float64

	factionName     string
	factionStanding float64
	hasFaction      bool
}

// assemble gathers the prompt context. The snapshot comes first so the
// faction lookup knows whether there is one; the remaining reads fan
// out concurrently and each fills a distinct field.
func (b *Brain) assemble(ctx context.Context, a *agent.Agent, playerID, playerName, utterance string) (promptContext, error) {
	state, err := a.Snapshot(ctx)
	if err != nil {
		return promptContext{}, fmt.Errorf("brain: snapshot %s: %w", a.ID(), err)
	}
	pc := promptContext{
		state:      state,
		playerID:   playerID,
		playerName: playerName,
		utterance:  utterance,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mems, err := b.memory.RecallForPrompt(gctx, a.ID(), playerID, promptMemoryLimit)
		if err != nil {
			return err
		}
		pc.memories = mems
		return nil
	})
	g.Go(func() error {
		rumors, err := b.memory.RumorsAbout(gctx, playerID, a.ID(), promptRumorLimit)
		if err != nil {
			return err
		}
		pc.rumors = rumors
		return nil
	})
	g.Go(func() error {
		rep, err := b.store.GetReputation(gctx, playerID, a.ID())
		if err != nil {
			return err
		}
		pc.reputation = rep
		return nil
	})
	if state.FactionID != "" {
		g.Go(func() error {
			fac, err := b.store.GetFaction(gctx, state.FactionID)
			if err != nil {
				return err
			}
			standing, err := b.store.GetReputation(gctx, playerID, state.FactionID)
			if err != nil {
				return err
			}
			pc.factionName = fac.Name
			pc.factionStanding = standing
			pc.hasFaction = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return promptContext{}, fmt.Errorf("brain: assemble context %s: %w", a.ID(), err)
	}
	return pc, nil
}

// systemPrompt renders who the agent is: persona, personality, current
// condition, goals, allegiances and what it remembers about the player.
func systemPrompt(pc promptContext) string {
	s := pc.state
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, a %s.", s.Name, s.Role)
	if s.Persona != "" {
		sb.WriteString(" ")
		sb.WriteString(s.Persona)
	}
	sb.WriteString("\n\nPersonality (0 weakest, 1 strongest):\n")
	for _, t := range agent.AllTraits {
		fmt.Fprintf(&sb, "- %s: %.2f\n", t, s.Trait(t))
	}

	fmt.Fprintf(&sb, "\nRight now you feel %s (hunger %.2f, fatigue %.2f).\n",
		s.Mood.Label, s.Vitals.Hunger, s.Vitals.Fatigue)

	if goals := s.ActiveGoals(); len(goals) > 0 {
		sb.WriteString("\nYour current goals:\n")
		for i, g := range goals {
			if i == promptGoalLimit {
				break
			}
			fmt.Fprintf(&sb, "- %s (progress %.0f%%)\n", g.Description, g.Progress*100)
		}
	}

	if pc.hasFaction {
		fmt.Fprintf(&sb, "\nYou belong to %s. This person is %s toward your faction.\n",
			pc.factionName, standingPhrase(pc.factionStanding))
	}
	fmt.Fprintf(&sb, "\nYour trust in this person: %.2f (-1 hated, 1 trusted).\n", pc.reputation)

	if len(pc.memories) > 0 {
		sb.WriteString("\nWhat you remember about them:\n")
		for _, m := range pc.memories {
			if m.Secondhand() {
				fmt.Fprintf(&sb, "- [%s, heard from %s] %s\n", memory.Clarity(m.Strength), m.Source, m.Content)
			} else {
				fmt.Fprintf(&sb, "- [%s] %s\n", memory.Clarity(m.Strength), m.Content)
			}
		}
	}
	if len(pc.rumors) > 0 {
		sb.WriteString("\nRumors you have heard about them:\n")
		for _, r := range pc.rumors {
			fmt.Fprintf(&sb, "- %q\n", r.Content)
		}
	}
	return sb.String()
}

// situationPrompt renders the immediate exchange.
func situationPrompt(pc promptContext) string {
	name := pc.playerName
	if name == "" {
		name = "A stranger"
	}
	if strings.TrimSpace(pc.utterance) == "" {
		return fmt.Sprintf("%s approaches you silently. React in character.", name)
	}
	return fmt.Sprintf("%s says to you: %q\nReact in character.", name, pc.utterance)
}

// standingPhrase describes a player-to-faction score the way agents
// talk about outsiders.
func standingPhrase(score float64) string {
	switch faction.LabelFor(score) {
	case faction.LabelEnemy:
		return "a sworn enemy"
	case faction.LabelHostile:
		return "unwelcome"
	case faction.LabelFriendly:
		return "a friend"
	case faction.LabelAllied:
		return "a trusted ally"
	default:
		return "an outsider"
	}
}
