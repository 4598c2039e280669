package group

import (
	"fmt"
	"strings"
)

// groupSystemPrompt frames the scene: who is present (salience order,
// most engaged first), what each of them is like right now, and how
// charged the room is. The response contract itself is appended by the
// oracle.
func groupSystemPrompt(conv *conversation, ranked []rankedParticipant) string {
	var sb strings.Builder

	sb.WriteString("You are simulating a group conversation between several characters and a visitor.")
	if conv.location != "" {
		fmt.Fprintf(&sb, " The scene is %s.", conv.location)
	}
	sb.WriteString("\n\nCharacters present, most engaged first:\n")
	for _, r := range ranked {
		fmt.Fprintf(&sb, "\n%s (id %q), a %s.", r.state.Name, r.p.agentID, r.state.Role)
		if r.state.Persona != "" {
			sb.WriteString(" ")
			sb.WriteString(r.state.Persona)
		}
		fmt.Fprintf(&sb, " Currently feeling %s.\n", r.state.Mood.Label)
	}

	fmt.Fprintf(&sb, "\n%s\n", tensionPhrase(conv.tension))
	if conv.topic != "" {
		fmt.Fprintf(&sb, "The conversation so far has centered on %s.\n", conv.topic)
	}
	sb.WriteString("\nThe first character listed is the most likely to answer. Others may agree, disagree, interrupt or stay silent as their nature dictates. Keep every line short and in character.")
	return sb.String()
}

// groupSituationPrompt replays the recent transcript and delivers the
// new player line.
func groupSituationPrompt(conv *conversation, playerName, text string) string {
	var sb strings.Builder

	// History already contains the incoming line; replay what preceded it.
	prior := conv.history
	if len(prior) > 0 {
		prior = prior[:len(prior)-1]
	}
	if len(prior) > historyPrompt {
		prior = prior[len(prior)-historyPrompt:]
	}
	if len(prior) > 0 {
		sb.WriteString("Recent exchange:\n")
		for _, e := range prior {
			fmt.Fprintf(&sb, "%s: %q\n", e.SpeakerName, e.Text)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%s says: %q\nHow does the group react?", playerName, text)
	return sb.String()
}

// tensionPhrase describes the room's mood for the prompt.
func tensionPhrase(t float64) string {
	switch {
	case t >= 0.75:
		return "The atmosphere is openly hostile; an argument is one wrong word away."
	case t >= 0.5:
		return "The atmosphere is tense; people are picking their words carefully."
	case t >= 0.25:
		return "There is a slight edge to the conversation."
	default:
		return "The atmosphere is relaxed."
	}
}
