package quest

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/MrWong99/agentfield/internal/store"
)

func memWith(category string, strength float64) store.MemoryRecord {
	return store.MemoryRecord{Category: category, Strength: strength, Content: "about " + category}
}

func TestTypeFor(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	cases := []struct {
		name       string
		categories []string
		want       []string
	}{
		{"crime demands retribution", []string{"crime"}, []string{TypeRevenge, TypeInvestigate}},
		{"fear counts as dark too", []string{"fear", "preference"}, []string{TypeRevenge, TypeInvestigate}},
		{"secrets get dug into", []string{"secret"}, []string{TypeRevenge, TypeInvestigate}},
		{"dark outranks ambition", []string{"goal", "crime"}, []string{TypeRevenge, TypeInvestigate}},
		{"ambition means errands", []string{"goal"}, []string{TypeFetch, TypeTrade}},
		{"family means someone to save", []string{"family"}, []string{TypeRescue, TypeProtect}},
		{"strangers get generic work", nil, []string{TypeFetch, TypeTrade, TypeProtect}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var memories []store.MemoryRecord
			for _, c := range tc.categories {
				memories = append(memories, memWith(c, 0.5))
			}
			// The pick is random within the bucket; sample a few draws.
			for range 8 {
				got := typeFor(memories, rng)
				ok := false
				for _, w := range tc.want {
					if got == w {
						ok = true
					}
				}
				if !ok {
					t.Fatalf("typeFor = %q, want one of %v", got, tc.want)
				}
			}
		})
	}
}

func TestDifficultyFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		strengths []float64
		want      string
	}{
		{"no memories", nil, "easy"},
		{"faint memories", []float64{0.2, 0.3}, "easy"},
		{"familiar", []float64{0.5, 0.6}, "medium"},
		{"well known", []float64{0.8, 0.9}, "hard"},
		{"boundary stays medium", []float64{0.7}, "medium"},
	}
	for _, tc := range cases {
		var memories []store.MemoryRecord
		for _, s := range tc.strengths {
			memories = append(memories, memWith("event", s))
		}
		if got := difficultyFor(memories); got != tc.want {
			t.Errorf("%s: difficulty = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRender_FillsEveryPlaceholder(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	for questType := range questTemplates {
		for range 12 {
			title, desc := render(rng, questType, nil)
			if strings.Contains(title, "{") || strings.Contains(title, "}") {
				t.Errorf("%s title leaked a placeholder: %q", questType, title)
			}
			if strings.Contains(desc, "{") || strings.Contains(desc, "}") {
				t.Errorf("%s description leaked a placeholder: %q", questType, desc)
			}
		}
	}
}

func TestRender_PersonalizesFromMemories(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	memories := []store.MemoryRecord{
		{Category: "crime", Content: "They ran with bandits once.", Strength: 0.8, EmotionalWeight: 0.9},
	}
	_, desc := render(rng, TypeInvestigate, memories)
	if !strings.Contains(desc, "experience with this sort of thing") {
		t.Errorf("description missing the crime aside: %q", desc)
	}

	subject, _, _ := personalize(memories)
	if subject != "the bandits" {
		t.Errorf("subject = %q", subject)
	}
}
