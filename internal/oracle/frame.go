package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent is the action category an agent commits to in a cognitive frame.
type Intent string

// The eight intents an agent can hold after processing a perception.
const (
	IntentInvestigate Intent = "Investigate"
	IntentGuard       Intent = "Guard"
	IntentTrade       Intent = "Trade"
	IntentAssist      Intent = "Assist"
	IntentFlee        Intent = "Flee"
	IntentAttack      Intent = "Attack"
	IntentSocialize   Intent = "Socialize"
	IntentIgnore      Intent = "Ignore"
)

// intents holds the canonical intent values keyed by lower-case name.
var intents = map[string]Intent{
	"investigate": IntentInvestigate,
	"guard":       IntentGuard,
	"trade":       IntentTrade,
	"assist":      IntentAssist,
	"flee":        IntentFlee,
	"attack":      IntentAttack,
	"socialize":   IntentSocialize,
	"ignore":      IntentIgnore,
}

// ParseIntent normalises a model-emitted intent string to its canonical
// form. Matching is case-insensitive.
func ParseIntent(s string) (Intent, bool) {
	i, ok := intents[strings.ToLower(strings.TrimSpace(s))]
	return i, ok
}

// IsValid reports whether i is one of the eight canonical intents.
func (i Intent) IsValid() bool {
	_, ok := intents[strings.ToLower(string(i))]
	return ok
}

// MaxTrustDelta bounds how much a single interaction may move trust.
const MaxTrustDelta = 0.2

// MoodShift is the emotional displacement a perception causes.
type MoodShift struct {
	Arousal float64 `json:"arousal"`
	Valence float64 `json:"valence"`
}

// CognitiveFrame is the structured result of one cognition pass: what the
// agent thinks, says, intends, and how the moment moves it.
type CognitiveFrame struct {
	// Reflection is the agent's private reasoning. Never shown to players.
	Reflection string

	// Dialogue is the spoken line. Never empty; "..." stands in for silence.
	Dialogue string

	// Intent is the action category the agent commits to.
	Intent Intent

	// MoodShift displaces arousal/valence when the frame is applied.
	MoodShift MoodShift

	// Urgency in [0,1] drives world-event emission and trait drift.
	Urgency float64

	// TrustDelta in [-MaxTrustDelta, MaxTrustDelta] moves the speaker's
	// reputation with this agent.
	TrustDelta float64

	// EmotionalWeight in [0,1] scales how strongly this moment is remembered.
	EmotionalWeight float64

	// Topics lists memorable subject strings extracted by the model; each
	// becomes a candidate memory.
	Topics []string
}

// frameWire is the JSON shape the model is instructed to emit.
type frameWire struct {
	Reflection      string    `json:"reflection"`
	Dialogue        string    `json:"dialogue"`
	Intent          string    `json:"intent"`
	MoodShift       MoodShift `json:"mood_shift"`
	Urgency         float64   `json:"urgency"`
	TrustDelta      float64   `json:"trust_delta"`
	EmotionalWeight float64   `json:"emotional_weight"`
	Topics          []string  `json:"extracted_topics"`
}

// ParseFrame extracts and validates a cognitive frame from raw model output.
// The JSON object is located by slicing from the first '{' to the last '}',
// tolerating prose the model wraps around it. Out-of-range numeric fields
// are clamped; an unknown intent makes the frame malformed.
func ParseFrame(raw string) (CognitiveFrame, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return CognitiveFrame{}, fmt.Errorf("oracle: no JSON object in model output")
	}

	var w frameWire
	if err := json.Unmarshal([]byte(raw[start:end+1]), &w); err != nil {
		return CognitiveFrame{}, fmt.Errorf("oracle: decode frame: %w", err)
	}

	intent, ok := ParseIntent(w.Intent)
	if !ok {
		return CognitiveFrame{}, fmt.Errorf("oracle: unknown intent %q", w.Intent)
	}

	frame := CognitiveFrame{
		Reflection: strings.TrimSpace(w.Reflection),
		Dialogue:   strings.TrimSpace(w.Dialogue),
		Intent:     intent,
		MoodShift: MoodShift{
			Arousal: clampAbs(w.MoodShift.Arousal, 1),
			Valence: clampAbs(w.MoodShift.Valence, 1),
		},
		Urgency:         clamp01(w.Urgency),
		TrustDelta:      clampAbs(w.TrustDelta, MaxTrustDelta),
		EmotionalWeight: clamp01(w.EmotionalWeight),
	}
	for _, topic := range w.Topics {
		if t := strings.TrimSpace(topic); t != "" {
			frame.Topics = append(frame.Topics, t)
		}
	}
	if frame.Dialogue == "" {
		frame.Dialogue = "..."
	}
	return frame, nil
}

// FallbackFrame builds the cautious default served when cognition fails.
// The agent's current mood colours the reflection; the frame itself moves
// nothing: zero mood shift, zero trust delta, no topics.
func FallbackFrame(moodLabel string) CognitiveFrame {
	reflection := "My thoughts scatter. Best to stay guarded."
	if moodLabel != "" {
		reflection = fmt.Sprintf("My thoughts scatter. Feeling %s; best to stay guarded.", moodLabel)
	}
	return CognitiveFrame{
		Reflection: reflection,
		Dialogue:   "...",
		Intent:     IntentGuard,
		Urgency:    0.5,
	}
}

// ResponseType classifies how a group participant reacts within a turn.
type ResponseType string

// Response types a group cognition pass may assign to a participant.
const (
	ResponseDirectReply  ResponseType = "direct_reply"
	ResponseAgreement    ResponseType = "agreement"
	ResponseDisagreement ResponseType = "disagreement"
	ResponseElaboration  ResponseType = "elaboration"
	ResponseInterruption ResponseType = "interruption"
	ResponseRedirect     ResponseType = "redirect"
	ResponseSilent       ResponseType = "silent"
)

// responseTypes holds the canonical response types keyed by lower-case name.
var responseTypes = map[string]ResponseType{
	"direct_reply": ResponseDirectReply,
	"agreement":    ResponseAgreement,
	"disagreement": ResponseDisagreement,
	"elaboration":  ResponseElaboration,
	"interruption": ResponseInterruption,
	"redirect":     ResponseRedirect,
	"silent":       ResponseSilent,
}

// ParseResponseType normalises a model-emitted response type. Matching is
// case-insensitive.
func ParseResponseType(s string) (ResponseType, bool) {
	rt, ok := responseTypes[strings.ToLower(strings.TrimSpace(s))]
	return rt, ok
}

// GroupUtterance is one participant's contribution within a group turn.
type GroupUtterance struct {
	// Speaker is the responding agent's id.
	Speaker string

	// Type classifies the response.
	Type ResponseType

	// AddressedTo names who the line is directed at: an agent id, the
	// player, or empty for the room.
	AddressedTo string

	// Dialogue is the spoken line. Empty only for silent responses.
	Dialogue string
}

// groupWire is the JSON shape the model is instructed to emit for group
// turns.
type groupWire struct {
	Responses []struct {
		Speaker      string `json:"speaker"`
		ResponseType string `json:"response_type"`
		AddressedTo  string `json:"addressed_to"`
		Dialogue     string `json:"dialogue"`
	} `json:"responses"`
}

// parseGroupUtterances extracts the ordered response list from raw model
// output. Entries with unknown response types are dropped; an output with
// no usable entries is malformed.
func parseGroupUtterances(raw string) ([]GroupUtterance, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("oracle: no JSON object in model output")
	}

	var w groupWire
	if err := json.Unmarshal([]byte(raw[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("oracle: decode group response: %w", err)
	}

	utterances := make([]GroupUtterance, 0, len(w.Responses))
	for _, r := range w.Responses {
		rt, ok := ParseResponseType(r.ResponseType)
		if !ok {
			continue
		}
		u := GroupUtterance{
			Speaker:     strings.TrimSpace(r.Speaker),
			Type:        rt,
			AddressedTo: strings.TrimSpace(r.AddressedTo),
			Dialogue:    strings.TrimSpace(r.Dialogue),
		}
		if u.Speaker == "" {
			continue
		}
		if u.Dialogue == "" && u.Type != ResponseSilent {
			u.Dialogue = "..."
		}
		utterances = append(utterances, u)
	}
	if len(utterances) == 0 {
		return nil, fmt.Errorf("oracle: group response contains no usable entries")
	}
	return utterances, nil
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

func clampAbs(v, limit float64) float64 {
	if v < -limit {
		return -limit
	}
	if v > limit {
		return limit
	}
	return v
}
