package agent

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/agentfield/internal/store"
)

// GoalType classifies what an agent is autonomously working toward.
type GoalType string

// Goal types in descending base priority.
const (
	GoalSurvive   GoalType = "survive"
	GoalRevenge   GoalType = "revenge"
	GoalHunt      GoalType = "hunt"
	GoalTerritory GoalType = "territory"
	GoalProtect   GoalType = "protect"
	GoalTrade     GoalType = "trade"
	GoalAcquire   GoalType = "acquire"
	GoalSocialize GoalType = "socialize"
)

// IsValid reports whether g is a known goal type.
func (g GoalType) IsValid() bool {
	_, ok := goalTemplates[g]
	return ok
}

// Goal is one autonomous objective. Progress runs 0 → 1; Deadline is
// Unix seconds, 0 for open-ended.
type Goal struct {
	ID          string
	Type        GoalType
	Description string
	Priority    float64
	Progress    float64
	Deadline    int64
	Status      string
	CreatedAt   int64
}

// Record converts the goal to its persisted form.
func (g Goal) Record(agentID string) store.GoalRecord {
	return store.GoalRecord{
		ID: g.ID, AgentID: agentID, Type: string(g.Type),
		Description: g.Description, Priority: g.Priority, Progress: g.Progress,
		Deadline: g.Deadline, Status: g.Status, CreatedAt: g.CreatedAt,
	}
}

// GoalFromRecord rebuilds a goal from its persisted form.
func GoalFromRecord(rec store.GoalRecord) Goal {
	return Goal{
		ID: rec.ID, Type: GoalType(rec.Type),
		Description: rec.Description, Priority: rec.Priority, Progress: rec.Progress,
		Deadline: rec.Deadline, Status: rec.Status, CreatedAt: rec.CreatedAt,
	}
}

type goalTemplate struct {
	basePriority float64
	suitableFor  []string // faction ids; empty = any
	descriptions []string
	targets      []string
	steps        [3]string
}

var goalTemplates = map[GoalType]goalTemplate{
	GoalSurvive: {
		basePriority: 0.95,
		suitableFor:  []string{"outcasts", "citizens"},
		descriptions: []string{"Find food and shelter", "Avoid %s", "Stay alive another day"},
		targets:      []string{"the authorities", "my enemies", "starvation", "danger"},
		steps:        [3]string{"scout a safe spot", "gather supplies", "lie low"},
	},
	GoalRevenge: {
		basePriority: 0.9,
		suitableFor:  []string{"outcasts", "citizens"},
		descriptions: []string{"Get revenge on %s", "Make %s pay for what they did", "Settle the score with %s"},
		targets:      []string{"those who wronged me", "the betrayer", "my enemy", "the one responsible"},
		steps:        [3]string{"learn their routine", "find a weakness", "strike when ready"},
	},
	GoalHunt: {
		basePriority: 0.8,
		suitableFor:  []string{"guards"},
		descriptions: []string{"Track down %s", "Bring %s to justice", "Eliminate the threat of %s"},
		targets:      []string{"the bandit leader", "a wanted criminal", "the outlaw", "smugglers"},
		steps:        [3]string{"gather witness reports", "follow the trail", "make the arrest"},
	},
	GoalTerritory: {
		basePriority: 0.75,
		suitableFor:  []string{"guards", "outcasts"},
		descriptions: []string{"Expand control to %s", "Defend %s from rivals", "Reclaim %s for our faction"},
		targets:      []string{"the northern district", "the market square", "the old quarter", "the docks"},
		steps:        [3]string{"rally allies", "press the claim", "hold the ground"},
	},
	GoalProtect: {
		basePriority: 0.7,
		suitableFor:  []string{"guards", "citizens"},
		descriptions: []string{"Keep %s safe from harm", "Guard %s against threats", "Ensure the security of %s"},
		targets:      []string{"the city gates", "the merchant quarter", "the citizens", "the trade route"},
		steps:        [3]string{"survey the risks", "set up watch", "stay vigilant"},
	},
	GoalTrade: {
		basePriority: 0.6,
		suitableFor:  []string{"traders", "citizens"},
		descriptions: []string{"Establish trade connection with %s", "Negotiate better prices with %s", "Find new customers for my goods"},
		targets:      []string{"the merchant guild", "northern traders", "a new supplier", "the docks"},
		steps:        [3]string{"sound out demand", "open negotiations", "close the deal"},
	},
	GoalAcquire: {
		basePriority: 0.5,
		suitableFor:  []string{"traders", "outcasts"},
		descriptions: []string{"Obtain %s", "Secure %s for myself", "Find a way to get %s"},
		targets:      []string{"rare goods", "valuable information", "weapons", "resources"},
		steps:        [3]string{"locate a source", "arrange the exchange", "take possession"},
	},
	GoalSocialize: {
		basePriority: 0.4,
		suitableFor:  []string{"traders", "citizens"},
		descriptions: []string{"Build friendship with %s", "Gain the trust of %s", "Form an alliance with %s"},
		targets:      []string{"influential people", "potential allies", "the guild master", "newcomers"},
		steps:        [3]string{"make an introduction", "do a small favor", "deepen the bond"},
	},
}

// Goal deadline window in simulated days.
const (
	goalDeadlineMinDays = 3
	goalDeadlineMaxDays = 14
)

// GenerateGoal produces a new autonomous goal for the agent, weighted
// toward types suitable for its faction, with ±0.1 priority jitter, a
// 3–14 day deadline and a three-step plan in the description. The rng
// is the agent's own stream, so identical seeds yield identical goals.
func (s *State) GenerateGoal(rng *rand.Rand, now int64) Goal {
	type candidate struct {
		goalType GoalType
		priority float64
	}
	var candidates []candidate
	for _, gt := range []GoalType{GoalSurvive, GoalRevenge, GoalHunt, GoalTerritory, GoalProtect, GoalTrade, GoalAcquire, GoalSocialize} {
		tpl := goalTemplates[gt]
		if len(tpl.suitableFor) == 0 || s.FactionID == "" || slices.Contains(tpl.suitableFor, s.FactionID) {
			candidates = append(candidates, candidate{gt, tpl.basePriority})
		}
	}
	if len(candidates) == 0 {
		candidates = []candidate{{GoalSurvive, goalTemplates[GoalSurvive].basePriority}}
	}

	// Weighted pick: higher base priority, more likely.
	total := 0.0
	for _, c := range candidates {
		total += c.priority
	}
	r := rng.Float64() * total
	selected := candidates[0]
	cumulative := 0.0
	for _, c := range candidates {
		cumulative += c.priority
		if r <= cumulative {
			selected = c
			break
		}
	}

	tpl := goalTemplates[selected.goalType]
	target := tpl.targets[rng.IntN(len(tpl.targets))]
	desc := tpl.descriptions[rng.IntN(len(tpl.descriptions))]
	if strings.Contains(desc, "%s") {
		desc = fmt.Sprintf(desc, target)
	}
	plan := fmt.Sprintf("%s (plan: %s; %s; %s)", desc, tpl.steps[0], tpl.steps[1], tpl.steps[2])

	days := goalDeadlineMinDays + rng.IntN(goalDeadlineMaxDays-goalDeadlineMinDays+1)
	priority := clamp01(selected.priority + (rng.Float64()*0.2 - 0.1))

	goal := Goal{
		ID:          uuid.NewString(),
		Type:        selected.goalType,
		Description: plan,
		Priority:    priority,
		Progress:    0,
		Deadline:    now + int64(days)*24*3600,
		Status:      store.GoalActive,
		CreatedAt:   now,
	}
	s.Goals = append(s.Goals, goal)
	return goal
}

// SetGoal appends an externally supplied goal.
func (s *State) SetGoal(g Goal) {
	if g.Status == "" {
		g.Status = store.GoalActive
	}
	s.Goals = append(s.Goals, g)
}

// ProgressGoal advances a goal and completes it at 1.0. Returns the
// updated goal, or false when the id is unknown or inactive.
func (s *State) ProgressGoal(goalID string, delta float64) (Goal, bool) {
	for i := range s.Goals {
		g := &s.Goals[i]
		if g.ID != goalID || g.Status != store.GoalActive {
			continue
		}
		g.Progress = clamp01(g.Progress + delta)
		if g.Progress >= 1.0 {
			g.Status = store.GoalCompleted
		}
		return *g, true
	}
	return Goal{}, false
}

// AbandonGoal marks a goal abandoned. Returns false when the id is
// unknown or the goal already finished.
func (s *State) AbandonGoal(goalID string) (Goal, bool) {
	for i := range s.Goals {
		g := &s.Goals[i]
		if g.ID != goalID || g.Status != store.GoalActive {
			continue
		}
		g.Status = store.GoalAbandoned
		return *g, true
	}
	return Goal{}, false
}

// ActiveGoals returns the agent's active goals, strongest first.
func (s *State) ActiveGoals() []Goal {
	var active []Goal
	for _, g := range s.Goals {
		if g.Status == store.GoalActive {
			active = append(active, g)
		}
	}
	slices.SortStableFunc(active, func(a, b Goal) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return active
}
