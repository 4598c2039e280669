package memory

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// Memory categories, roughly ordered by how much an agent cares.
const (
	CategorySecret     = "secret"
	CategoryFamily     = "family"
	CategoryCrime      = "crime"
	CategoryFear       = "fear"
	CategoryEvent      = "event"
	CategoryGoal       = "goal"
	CategoryOrigin     = "origin"
	CategoryPreference = "preference"
	CategoryProfession = "profession"
)

// Topic is one category-tagged fact pulled out of an utterance, ready
// to become a memory.
type Topic struct {
	Category string
	Content  string
	Weight   float64
	Keywords []string
}

// Up to this many topics per utterance survive extraction.
const maxTopicsPerMessage = 3

type topicIndicator struct {
	category   string
	baseWeight float64
	keywords   []string
}

var topicIndicators = []topicIndicator{
	{CategorySecret, 0.95, []string{
		"secret", "don't tell", "between us", "confidential", "trust you",
		"never told anyone", "no one knows", "dark past", "hidden",
		"used to be", "changed my ways",
	}},
	{CategoryFamily, 0.9, []string{
		"family", "father", "mother", "brother", "sister", "son", "daughter",
		"wife", "husband", "parents", "children", "killed", "died", "lost",
	}},
	{CategoryCrime, 0.9, []string{
		"robbed", "stole", "killed", "murdered", "crime", "criminal",
		"outlaw", "bandit", "thief", "guilty",
	}},
	{CategoryFear, 0.8, []string{
		"afraid", "fear", "scared", "terrified", "nightmare", "dread",
		"worry", "anxious",
	}},
	{CategoryEvent, 0.75, []string{
		"happened", "attacked", "survived", "escaped", "witnessed", "saw",
		"remember when", "last year", "last month", "yesterday",
	}},
	{CategoryGoal, 0.7, []string{
		"want to", "need to", "looking for", "searching", "find", "seeking",
		"goal", "mission", "quest", "dream",
	}},
	{CategoryOrigin, 0.6, []string{
		"from", "hometown", "village", "city", "born", "grew up", "raised",
		"northern", "southern", "eastern", "western",
	}},
	{CategoryPreference, 0.5, []string{
		"like", "love", "hate", "prefer", "favorite", "enjoy", "despise",
	}},
	{CategoryProfession, 0.5, []string{
		"work", "job", "trade", "merchant", "soldier", "farmer", "hunter",
		"blacksmith", "healer", "bandit", "thief", "spy", "captain",
		"guard", "knight",
	}},
}

// ExtractTopics scans an utterance for keyword-flagged topics and
// returns the heaviest few, at most three. Each matched category keeps
// the full utterance as content; the weight starts at the category base
// and grows 0.05 per keyword hit beyond the first, capped at 1.
func ExtractTopics(text string) []Topic {
	lower := strings.ToLower(text)
	var out []Topic
	for _, ind := range topicIndicators {
		var hits []string
		for _, kw := range ind.keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}
		weight := min(1.0, ind.baseWeight+0.05*float64(len(hits)-1))
		out = append(out, Topic{
			Category: ind.category,
			Content:  text,
			Weight:   weight,
			Keywords: hits,
		})
	}
	slices.SortStableFunc(out, func(a, b Topic) int {
		return cmp.Compare(b.Weight, a.Weight)
	})
	if len(out) > maxTopicsPerMessage {
		out = out[:maxTopicsPerMessage]
	}
	return out
}

var rumorPositive = []string{
	"%s helped out around here. Seems trustworthy.",
	"Heard %s did something good. Maybe they're alright.",
	"%s showed respect. Not like the usual troublemakers.",
}

var rumorNegative = []string{
	"%s caused trouble nearby. Keep an eye on them.",
	"Watch out for %s. They're not to be trusted.",
	"%s acted suspiciously. Might be dangerous.",
}

var rumorNeutral = []string{
	"%s passed through. Nothing special.",
	"Saw %s around. Seemed ordinary enough.",
}

// RumorContent renders rumor text about a subject. Sentiment above
// +0.05 picks a flattering template, below −0.05 a hostile one,
// anything in between stays indifferent.
func RumorContent(rng *rand.Rand, about string, sentiment float64) string {
	var pool []string
	switch {
	case sentiment > 0.05:
		pool = rumorPositive
	case sentiment < -0.05:
		pool = rumorNegative
	default:
		pool = rumorNeutral
	}
	return fmt.Sprintf(pool[rng.IntN(len(pool))], about)
}

// Clarity names how sharp a memory still is, for prompt text.
func Clarity(strength float64) string {
	switch {
	case strength > 0.8:
		return "vivid"
	case strength > 0.5:
		return "clear"
	case strength > 0.2:
		return "fading"
	default:
		return "dim"
	}
}
