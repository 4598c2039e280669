package quest

import (
	"math/rand/v2"
	"strings"

	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/store"
)

type questTemplate struct {
	titles       []string
	descriptions []string
}

var questTemplates = map[string]questTemplate{
	TypeFetch: {
		titles: []string{
			"Retrieve Lost {item}",
			"Gather {item} from {location}",
			"Find and Return {item}",
		},
		descriptions: []string{
			"I need someone to retrieve {item} from {location}. It's important to me.",
			"There's {item} out in {location} that I desperately need. Can you get it?",
			"I've lost my {item} somewhere near {location}. Please find it for me.",
		},
	},
	TypeProtect: {
		titles: []string{
			"Guard the Road to {location}",
			"Escort to {location}",
			"Defend Against {threat}",
		},
		descriptions: []string{
			"I need protection while traveling to {location}. The roads aren't safe.",
			"{victim} needs guarding. There have been threats lately.",
			"Something dangerous lurks near {location}. I need someone capable to handle it.",
		},
	},
	TypeInvestigate: {
		titles: []string{
			"Uncover the Truth About {subject}",
			"Investigate {location}",
			"Find Information on {subject}",
		},
		descriptions: []string{
			"Strange things are happening at {location}. I need someone to look into it.",
			"I've heard rumors about {subject}. Can you find out what's really going on?",
			"There's something suspicious about {subject}. Investigate discreetly.",
		},
	},
	TypeRevenge: {
		titles: []string{
			"Justice for {victim}",
			"Hunt Down {threat}",
			"Settle the Score",
		},
		descriptions: []string{
			"Someone wronged me, and I want justice. Find {threat} and make them pay.",
			"{threat} took something precious from me. I want it back, or them punished.",
			"I remember what {threat} did. Help me get revenge.",
		},
	},
	TypeTrade: {
		titles: []string{
			"Deliver {item} to {recipient}",
			"Broker a Deal",
			"Secure the Trade Route",
		},
		descriptions: []string{
			"I have {item} that needs to reach {recipient} safely. Interested?",
			"There's profit to be made if you can negotiate with {recipient} on my behalf.",
			"The trade routes have been disrupted. Clear them and there's coin in it for you.",
		},
	},
	TypeRescue: {
		titles: []string{
			"Save {victim}",
			"Rescue Mission to {location}",
			"Free the Captive",
		},
		descriptions: []string{
			"{victim} has been taken. I need someone to bring them back.",
			"Someone I care about is trapped in {location}. Please help.",
			"They're holding {victim} somewhere. Find them before it's too late.",
		},
	},
}

var (
	questItems = []string{
		"supplies", "medicine", "weapons", "gold", "documents",
		"an artifact", "tools", "food", "water",
	}
	questLocations = []string{
		"the northern pass", "the old ruins", "the docks",
		"the forest edge", "the abandoned mine", "the merchant district",
	}
	questThreats = []string{
		"bandits", "wild beasts", "raiders", "unknown assailants", "a rival faction",
	}
)

// contextAdditions personalize the description from the giver's most
// emotionally loaded memory about the player.
var contextAdditions = map[string]string{
	memory.CategoryCrime:      " I know you have... experience with this sort of thing. That's why I'm asking you.",
	memory.CategorySecret:     " You've trusted me before. Now I'm trusting you with this.",
	memory.CategoryFamily:     " I remember what you told me about your family. This might be personal for you.",
	memory.CategoryGoal:       " This aligns with what you've been looking for, doesn't it?",
	memory.CategoryProfession: " Your skills make you perfect for this task.",
}

// typeFor picks the quest type the giver's memories call for: dark
// memories demand revenge or digging, ambitions suggest errands and
// deals, family ties mean someone to save or shield.
func typeFor(memories []store.MemoryRecord, rng *rand.Rand) string {
	categories := make(map[string]bool, len(memories))
	for _, m := range memories {
		categories[m.Category] = true
	}
	switch {
	case categories[memory.CategoryCrime] || categories[memory.CategoryFear] || categories[memory.CategorySecret]:
		return pick(rng, TypeRevenge, TypeInvestigate)
	case categories[memory.CategoryGoal]:
		return pick(rng, TypeFetch, TypeTrade)
	case categories[memory.CategoryFamily]:
		return pick(rng, TypeRescue, TypeProtect)
	default:
		return pick(rng, TypeFetch, TypeTrade, TypeProtect)
	}
}

// difficultyFor grades the quest by how well the giver knows the
// player: strong memories mean bigger asks.
func difficultyFor(memories []store.MemoryRecord) string {
	if len(memories) == 0 {
		return "easy"
	}
	total := 0.0
	for _, m := range memories {
		total += m.Strength
	}
	switch avg := total / float64(len(memories)); {
	case avg > 0.7:
		return "hard"
	case avg > 0.4:
		return "medium"
	default:
		return "easy"
	}
}

func rewardsFor(difficulty string) map[string]float64 {
	switch difficulty {
	case "hard":
		return map[string]float64{"gold": 200, "reputation": 0.2}
	case "medium":
		return map[string]float64{"gold": 100, "reputation": 0.1}
	default:
		return map[string]float64{"gold": 50, "reputation": 0.05}
	}
}

// render fills a random title/description pair for the type, seasoned
// with details scavenged from the memories.
func render(rng *rand.Rand, questType string, memories []store.MemoryRecord) (string, string) {
	tpl := questTemplates[questType]
	subject, victim, recipient := personalize(memories)
	replacer := strings.NewReplacer(
		"{item}", questItems[rng.IntN(len(questItems))],
		"{location}", questLocations[rng.IntN(len(questLocations))],
		"{threat}", questThreats[rng.IntN(len(questThreats))],
		"{subject}", subject,
		"{victim}", victim,
		"{recipient}", recipient,
	)
	title := replacer.Replace(tpl.titles[rng.IntN(len(tpl.titles))])
	description := replacer.Replace(tpl.descriptions[rng.IntN(len(tpl.descriptions))])

	if add := memoryContext(memories); add != "" {
		description += add
	}
	return title, description
}

// personalize mines concrete names from memory content, with safe
// defaults when nothing fits.
func personalize(memories []store.MemoryRecord) (subject, victim, recipient string) {
	subject, victim, recipient = "the mystery", "someone important", "a trusted contact"
	for _, m := range memories {
		content := strings.ToLower(m.Content)
		if strings.Contains(content, "bandit") || strings.Contains(content, "thief") {
			subject = "the bandits"
		}
		if strings.Contains(content, "family") {
			victim = "a family member"
		}
		if strings.Contains(content, "merchant") || strings.Contains(content, "trade") {
			recipient = "a merchant contact"
		}
	}
	return subject, victim, recipient
}

// memoryContext returns the personal aside earned by the giver's most
// emotionally loaded memory, empty when no category qualifies.
func memoryContext(memories []store.MemoryRecord) string {
	best := -1.0
	category := ""
	for _, m := range memories {
		if m.EmotionalWeight > best {
			best = m.EmotionalWeight
			category = m.Category
		}
	}
	return contextAdditions[category]
}

func pick(rng *rand.Rand, options ...string) string {
	return options[rng.IntN(len(options))]
}
