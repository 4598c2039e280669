// Package group runs multi-agent conversations: lifecycle, salience-based
// turn selection, one group cognition pass per player message, per-speaker
// effect commits in response order, and the tension scalar that makes a
// room feel tetchy after an argument.
//
// Groups are in-memory state owned by the [Orchestrator]; what survives a
// conversation is what the participants remember, written through the
// memory engine when the group ends.
package group

import (
	"errors"
	"time"
)

// Group size and history bounds.
const (
	// MaxParticipants caps a group; beyond six NPCs nobody gets a line.
	MaxParticipants = 6

	// historyKeep bounds the per-group transcript ring.
	historyKeep = 20

	// historyPrompt is how many recent lines the group prompt replays.
	historyPrompt = 5

	// maxSpeakersPerTurn bounds how many participants answer one message.
	maxSpeakersPerTurn = 3
)

// Tension movement per response type occurrence.
const (
	tensionConflictGain = 0.15
	tensionAccordEase   = 0.05
)

// DefaultIdleTimeout expires groups nobody has spoken in for this long.
const DefaultIdleTimeout = 10 * time.Minute

// Errors surfaced by group operations.
var (
	ErrGroupUnknown = errors.New("group: unknown conversation")
	ErrGroupClosed  = errors.New("group: conversation has ended")
	ErrNoNPCs       = errors.New("group: a conversation needs at least one NPC")
	ErrGroupFull    = errors.New("group: participant limit reached")
	ErrNotInGroup   = errors.New("group: agent is not a participant")
)

// participant tracks one NPC's standing within a group.
type participant struct {
	agentID  string
	name     string
	joinedAt int64

	// lastSpokeTurn is the message turn this participant last spoke on,
	// -1 until they do. Recent speakers are damped in salience scoring.
	lastSpokeTurn int
}

// conversation is the orchestrator-owned mutable state of one group.
type conversation struct {
	id         string
	playerID   string
	playerName string
	location   string

	participants []*participant
	history      []HistoryEntry

	tension     float64
	peakTension float64
	topic       string

	turn           int
	createdAt      int64
	lastActivityAt int64
	closed         bool
}

func (c *conversation) find(agentID string) *participant {
	for _, p := range c.participants {
		if p.agentID == agentID {
			return p
		}
	}
	return nil
}

func (c *conversation) appendHistory(e HistoryEntry) {
	c.history = append(c.history, e)
	if len(c.history) > historyKeep {
		c.history = c.history[len(c.history)-historyKeep:]
	}
}

// HistoryEntry is one line of a group transcript.
type HistoryEntry struct {
	// SpeakerID is an agent id, or the player id for player lines.
	SpeakerID string `json:"speaker_id"`

	// SpeakerName is the display name used in prompts.
	SpeakerName string `json:"speaker_name"`

	// Text is the spoken line.
	Text string `json:"text"`

	// TS is the unix time the line landed.
	TS int64 `json:"ts"`
}

// Snapshot is a read-only copy of a group's state.
type Snapshot struct {
	ID             string         `json:"id"`
	PlayerID       string         `json:"player_id"`
	PlayerName     string         `json:"player_name,omitempty"`
	Location       string         `json:"location,omitempty"`
	Participants   []string       `json:"participants"`
	History        []HistoryEntry `json:"history"`
	Topic          string         `json:"topic,omitempty"`
	Tension        float64        `json:"tension"`
	CreatedAt      int64          `json:"created_at"`
	LastActivityAt int64          `json:"last_activity_at"`
}

func (c *conversation) snapshot() Snapshot {
	ids := make([]string, len(c.participants))
	for i, p := range c.participants {
		ids[i] = p.agentID
	}
	hist := make([]HistoryEntry, len(c.history))
	copy(hist, c.history)
	return Snapshot{
		ID:             c.id,
		PlayerID:       c.playerID,
		PlayerName:     c.playerName,
		Location:       c.location,
		Participants:   ids,
		History:        hist,
		Topic:          c.topic,
		Tension:        c.tension,
		CreatedAt:      c.createdAt,
		LastActivityAt: c.lastActivityAt,
	}
}

// Response is one speaker's contribution in a turn result, in commit
// order.
type Response struct {
	AgentID     string  `json:"agent_id"`
	AgentName   string  `json:"agent_name"`
	Type        string  `json:"response_type"`
	AddressedTo string  `json:"addressed_to,omitempty"`
	Dialogue    string  `json:"dialogue"`
	MoodLabel   string  `json:"mood"`
	Fallback    bool    `json:"fallback,omitempty"`
	Tension     float64 `json:"-"`
}

// TurnResult is the ordered outcome of one player message.
type TurnResult struct {
	GroupID   string     `json:"group_id"`
	Responses []Response `json:"responses"`
	Tension   float64    `json:"tension"`
}
