package group

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/brain"
	"github.com/MrWong99/agentfield/internal/memory"
	"github.com/MrWong99/agentfield/internal/observe"
	"github.com/MrWong99/agentfield/internal/oracle"
	"github.com/MrWong99/agentfield/internal/store"
	"github.com/MrWong99/agentfield/internal/world"
)

// sweepEvery is how often the idle sweeper wakes.
const sweepEvery = time.Minute

// Orchestrator owns every live conversation group. Groups started over
// HTTP and over the WebSocket gateway land in the same instance, so a
// group id is valid on either surface.
type Orchestrator struct {
	store    *store.Store
	registry *agent.Registry
	brain    *brain.Brain
	oracle   *oracle.Oracle
	memory   *memory.Engine

	proximity    *world.Proximity
	metrics      *observe.Metrics
	now          func() int64
	idleTimeout  time.Duration
	nearbyRadius float64

	mu      sync.RWMutex
	groups  map[string]*conversation
	convMus map[string]*sync.Mutex // per-group turn serialization
	inConv  map[string]int         // agentID → live group memberships
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithProximity enables auto participant selection on Start.
func WithProximity(p *world.Proximity) Option {
	return func(o *Orchestrator) { o.proximity = p }
}

// WithMetrics attaches the live-group gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the unix-seconds clock, for tests.
func WithClock(now func() int64) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIdleTimeout overrides how long a silent group survives.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// WithNearbyRadius overrides the auto-selection radius.
func WithNearbyRadius(r float64) Option {
	return func(o *Orchestrator) {
		if r > 0 {
			o.nearbyRadius = r
		}
	}
}

// New builds an Orchestrator over its required collaborators.
func New(st *store.Store, reg *agent.Registry, br *brain.Brain, orc *oracle.Oracle, mem *memory.Engine, opts ...Option) (*Orchestrator, error) {
	if st == nil || reg == nil || br == nil || orc == nil || mem == nil {
		return nil, fmt.Errorf("group: store, registry, brain, oracle and memory engine are all required")
	}
	o := &Orchestrator{
		store:       st,
		registry:    reg,
		brain:       br,
		oracle:      orc,
		memory:      mem,
		metrics:     observe.DefaultMetrics(),
		now:         func() int64 { return time.Now().Unix() },
		idleTimeout: DefaultIdleTimeout,
		groups:      make(map[string]*conversation),
		convMus:     make(map[string]*sync.Mutex),
		inConv:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Start opens a conversation between a player and one or more NPCs.
// With no explicit npcIDs the proximity index supplies everyone near
// the player, capped at [MaxParticipants].
func (o *Orchestrator) Start(ctx context.Context, playerID, playerName string, npcIDs []string, location string) (Snapshot, error) {
	if playerID == "" {
		return Snapshot{}, fmt.Errorf("group: player id must not be empty")
	}
	if len(npcIDs) == 0 {
		if o.proximity == nil {
			return Snapshot{}, ErrNoNPCs
		}
		npcIDs = o.proximity.Nearby(playerID, o.nearbyRadius)
	}

	now := o.now()
	var participants []*participant
	seen := make(map[string]bool, len(npcIDs))
	for _, id := range npcIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		a, err := o.registry.Get(id)
		if err != nil {
			return Snapshot{}, fmt.Errorf("group: participant %s: %w", id, err)
		}
		state, err := a.Snapshot(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("group: participant %s: %w", id, err)
		}
		participants = append(participants, &participant{
			agentID: id, name: state.Name, joinedAt: now, lastSpokeTurn: -1,
		})
		if len(participants) == MaxParticipants {
			break
		}
	}
	if len(participants) == 0 {
		return Snapshot{}, ErrNoNPCs
	}

	conv := &conversation{
		id:             uuid.NewString(),
		playerID:       playerID,
		playerName:     playerName,
		location:       location,
		participants:   participants,
		createdAt:      now,
		lastActivityAt: now,
	}

	o.mu.Lock()
	o.groups[conv.id] = conv
	o.convMus[conv.id] = &sync.Mutex{}
	for _, p := range participants {
		o.inConv[p.agentID]++
	}
	o.mu.Unlock()

	o.metrics.ActiveGroups.Add(ctx, 1)
	slog.Info("group: conversation started",
		"group", conv.id, "player", playerID, "participants", len(participants))
	return conv.snapshot(), nil
}

// Get returns the current state of a group.
func (o *Orchestrator) Get(groupID string) (Snapshot, error) {
	conv, lock, err := o.lookup(groupID)
	if err != nil {
		return Snapshot{}, err
	}
	lock.Lock()
	defer lock.Unlock()
	if conv.closed {
		return Snapshot{}, ErrGroupClosed
	}
	return conv.snapshot(), nil
}

// AddAgent joins an NPC to a live conversation.
func (o *Orchestrator) AddAgent(ctx context.Context, groupID, agentID string) (Snapshot, error) {
	conv, lock, err := o.lookup(groupID)
	if err != nil {
		return Snapshot{}, err
	}
	a, err := o.registry.Get(agentID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("group: add %s: %w", agentID, err)
	}
	state, err := a.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("group: add %s: %w", agentID, err)
	}

	lock.Lock()
	defer lock.Unlock()
	if conv.closed {
		return Snapshot{}, ErrGroupClosed
	}
	if conv.find(agentID) != nil {
		return conv.snapshot(), nil
	}
	if len(conv.participants) >= MaxParticipants {
		return Snapshot{}, ErrGroupFull
	}
	now := o.now()
	conv.participants = append(conv.participants, &participant{
		agentID: agentID, name: state.Name, joinedAt: now, lastSpokeTurn: -1,
	})
	conv.lastActivityAt = now

	o.mu.Lock()
	o.inConv[agentID]++
	o.mu.Unlock()
	return conv.snapshot(), nil
}

// RemoveAgent drops an NPC from a live conversation. Removing the last
// NPC ends the group.
func (o *Orchestrator) RemoveAgent(ctx context.Context, groupID, agentID string) (Snapshot, error) {
	conv, lock, err := o.lookup(groupID)
	if err != nil {
		return Snapshot{}, err
	}
	lock.Lock()
	if conv.closed {
		lock.Unlock()
		return Snapshot{}, ErrGroupClosed
	}
	if conv.find(agentID) == nil {
		lock.Unlock()
		return Snapshot{}, ErrNotInGroup
	}
	kept := conv.participants[:0]
	for _, p := range conv.participants {
		if p.agentID != agentID {
			kept = append(kept, p)
		}
	}
	conv.participants = kept
	conv.lastActivityAt = o.now()
	snap := conv.snapshot()
	lastOne := len(conv.participants) == 0
	lock.Unlock()

	o.mu.Lock()
	if o.inConv[agentID] <= 1 {
		delete(o.inConv, agentID)
	} else {
		o.inConv[agentID]--
	}
	o.mu.Unlock()

	if lastOne {
		return o.End(ctx, groupID)
	}
	return snap, nil
}

// End finalizes a conversation: every participant keeps a summary
// memory of the exchange, weighted by how heated it got, and the group
// is discarded.
func (o *Orchestrator) End(ctx context.Context, groupID string) (Snapshot, error) {
	conv, lock, err := o.lookup(groupID)
	if err != nil {
		return Snapshot{}, err
	}
	lock.Lock()
	if conv.closed {
		lock.Unlock()
		return Snapshot{}, ErrGroupClosed
	}
	conv.closed = true
	snap := conv.snapshot()
	summary := conv.summaryTopic()
	lock.Unlock()

	for _, id := range snap.Participants {
		if _, err := o.memory.Remember(ctx, id, snap.PlayerID, []memory.Topic{summary}); err != nil {
			slog.Warn("group: summary memory not written", "group", groupID, "agent", id, "error", err)
		}
	}

	o.mu.Lock()
	delete(o.groups, groupID)
	delete(o.convMus, groupID)
	for _, id := range snap.Participants {
		if o.inConv[id] <= 1 {
			delete(o.inConv, id)
		} else {
			o.inConv[id]--
		}
	}
	o.mu.Unlock()

	o.metrics.ActiveGroups.Add(ctx, -1)
	slog.Info("group: conversation ended",
		"group", groupID, "turns", conv.turn, "peak_tension", fmt.Sprintf("%.2f", conv.peakTension))
	return snap, nil
}

// summaryTopic condenses a conversation into one memory topic. Weight
// follows peak tension: shouting matches are remembered harder.
func (c *conversation) summaryTopic() memory.Topic {
	who := c.playerName
	if who == "" {
		who = c.playerID
	}
	content := fmt.Sprintf("talked with %s", who)
	if c.topic != "" {
		content += " about " + c.topic
	}
	if c.location != "" {
		content += " at " + c.location
	}
	return memory.Topic{
		Category: memory.CategoryEvent,
		Content:  content,
		Weight:   max(0.3, c.peakTension),
	}
}

// InConversation reports whether the agent is in any live group. Wired
// into the tiering classifier so conversing agents stay Active.
func (o *Orchestrator) InConversation(agentID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.inConv[agentID] > 0
}

// Len returns the number of live groups.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.groups)
}

// Run sweeps idle groups until ctx is done. Groups silent for longer
// than the idle timeout end exactly as an explicit End would.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.ExpireIdle(ctx); n > 0 {
				slog.Debug("group: idle conversations expired", "count", n)
			}
		}
	}
}

// ExpireIdle ends every group whose last activity predates the idle
// timeout and returns how many it closed.
func (o *Orchestrator) ExpireIdle(ctx context.Context) int {
	cutoff := o.now() - int64(o.idleTimeout.Seconds())

	o.mu.RLock()
	var due []string
	for id, conv := range o.groups {
		if conv.lastActivityAt < cutoff {
			due = append(due, id)
		}
	}
	o.mu.RUnlock()

	expired := 0
	for _, id := range due {
		if _, err := o.End(ctx, id); err == nil {
			expired++
		}
	}
	return expired
}

// lookup resolves a group and its turn lock.
func (o *Orchestrator) lookup(groupID string) (*conversation, *sync.Mutex, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	conv, ok := o.groups[groupID]
	if !ok {
		return nil, nil, ErrGroupUnknown
	}
	return conv, o.convMus[groupID], nil
}

// ─── Message ─────────────────────────────────────────────────────────────────

// Message runs one group turn: salience ranking, a single group
// cognition pass, per-speaker effect commits in the returned order,
// then the tension update. targetID, when non-empty, forces the primary
// responder; otherwise the text is scanned for an addressed name.
func (o *Orchestrator) Message(ctx context.Context, groupID, text, targetID string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, fmt.Errorf("group: message text must not be empty")
	}
	conv, lock, err := o.lookup(groupID)
	if err != nil {
		return TurnResult{}, err
	}
	lock.Lock()
	defer lock.Unlock()
	if conv.closed {
		return TurnResult{}, ErrGroupClosed
	}

	now := o.now()
	conv.turn++
	conv.lastActivityAt = now
	playerName := conv.playerName
	if playerName == "" {
		playerName = conv.playerID
	}
	conv.appendHistory(HistoryEntry{
		SpeakerID: conv.playerID, SpeakerName: playerName, Text: text, TS: now,
	})
	if conv.topic == "" {
		if topics := memory.ExtractTopics(text); len(topics) > 0 {
			conv.topic = topics[0].Content
		}
	}

	ranked, err := o.rankBySalience(ctx, conv, text)
	if err != nil {
		return TurnResult{}, fmt.Errorf("group: rank %s: %w", groupID, err)
	}
	if len(ranked) == 0 {
		return TurnResult{}, ErrNoNPCs
	}

	// A forced or detected addressee leads the ranking.
	primary := targetID
	if primary == "" {
		names := make(map[string]string, len(conv.participants))
		for _, p := range conv.participants {
			names[p.agentID] = p.name
		}
		primary = addressee(text, names)
	}
	if primary != "" {
		for i, r := range ranked {
			if r.p.agentID == primary && i > 0 {
				lead := ranked[i]
				copy(ranked[1:i+1], ranked[:i])
				ranked[0] = lead
				break
			}
		}
	}

	utterances, cogErr := o.oracle.GroupCognize(ctx, oracle.GroupCognizeRequest{
		GroupID: groupID,
		System:  groupSystemPrompt(conv, ranked),
		Prompt:  groupSituationPrompt(conv, playerName, text),
	})
	fallback := false
	if cogErr != nil {
		// Group fallback: the salience leader answers with the cautious
		// default so the conversation survives the outage.
		lead := ranked[0]
		utterances = []oracle.GroupUtterance{{
			Speaker:  lead.p.agentID,
			Type:     oracle.ResponseDirectReply,
			Dialogue: oracle.FallbackFrame(string(lead.state.Mood.Label)).Dialogue,
		}}
		fallback = true
		slog.Warn("group: cognition fell back", "group", groupID, "error", cogErr)
	}

	ordered := validateUtterances(utterances, conv)
	if len(ordered) == 0 {
		lead := ranked[0]
		ordered = []oracle.GroupUtterance{{
			Speaker:  lead.p.agentID,
			Type:     oracle.ResponseDirectReply,
			Dialogue: oracle.FallbackFrame(string(lead.state.Mood.Label)).Dialogue,
		}}
		fallback = true
	}

	result := TurnResult{GroupID: groupID}
	var agreements, conflicts int
	for i, u := range ordered {
		p := conv.find(u.Speaker)
		a, err := o.registry.Get(u.Speaker)
		if err != nil {
			continue
		}
		mood, err := o.brain.CommitGroupTurn(ctx, a, brain.GroupTurn{
			PlayerID:   conv.playerID,
			PlayerLine: text,
			Utterance:  u,
			Remember:   i == 0 && !fallback,
		})
		if err != nil {
			return result, fmt.Errorf("group: commit %s: %w", u.Speaker, err)
		}
		p.lastSpokeTurn = conv.turn
		conv.appendHistory(HistoryEntry{
			SpeakerID: u.Speaker, SpeakerName: p.name, Text: u.Dialogue, TS: now,
		})
		switch u.Type {
		case oracle.ResponseAgreement:
			agreements++
		case oracle.ResponseDisagreement, oracle.ResponseInterruption:
			conflicts++
		}
		result.Responses = append(result.Responses, Response{
			AgentID:     u.Speaker,
			AgentName:   p.name,
			Type:        string(u.Type),
			AddressedTo: u.AddressedTo,
			Dialogue:    u.Dialogue,
			MoodLabel:   string(mood.Label),
			Fallback:    fallback,
		})
	}

	conv.tension = clamp01(conv.tension + tensionConflictGain*float64(conflicts) - tensionAccordEase*float64(agreements))
	if conv.tension > conv.peakTension {
		conv.peakTension = conv.tension
	}
	result.Tension = conv.tension

	slog.Debug("group: turn complete",
		"group", groupID, "speakers", len(result.Responses),
		"tension", fmt.Sprintf("%.2f", conv.tension), "fallback", fallback)
	return result, nil
}

// validateUtterances enforces the turn contract: silent entries out,
// unknown speakers dropped (names are resolved to ids first), each
// speaker at most once, at most maxSpeakersPerTurn total.
func validateUtterances(utterances []oracle.GroupUtterance, conv *conversation) []oracle.GroupUtterance {
	byName := make(map[string]string, len(conv.participants))
	for _, p := range conv.participants {
		byName[strings.ToLower(p.name)] = p.agentID
	}

	spoke := make(map[string]bool, len(utterances))
	out := make([]oracle.GroupUtterance, 0, len(utterances))
	for _, u := range utterances {
		if u.Type == oracle.ResponseSilent {
			continue
		}
		id := u.Speaker
		if conv.find(id) == nil {
			// The model sometimes answers with display names.
			id = byName[strings.ToLower(u.Speaker)]
			if id == "" || conv.find(id) == nil {
				continue
			}
		}
		if spoke[id] {
			continue
		}
		spoke[id] = true
		u.Speaker = id
		out = append(out, u)
		if len(out) == maxSpeakersPerTurn {
			break
		}
	}
	return out
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
