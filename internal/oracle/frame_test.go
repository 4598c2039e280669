package oracle

import (
	"strings"
	"testing"
)

func TestParseFrame_CompleteFrame(t *testing.T) {
	raw := `Here is my response:
{
  "reflection": "He carries a blade but keeps it sheathed. Watchful, not hostile.",
  "dialogue": "State your business, stranger.",
  "intent": "Investigate",
  "mood_shift": {"arousal": 0.2, "valence": -0.1},
  "urgency": 0.7,
  "trust_delta": -0.05,
  "emotional_weight": 0.4,
  "extracted_topics": ["armed stranger at the gate"]
}
Hope that helps!`

	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Intent != IntentInvestigate {
		t.Errorf("intent = %q, want Investigate", frame.Intent)
	}
	if frame.Dialogue != "State your business, stranger." {
		t.Errorf("dialogue = %q", frame.Dialogue)
	}
	if frame.MoodShift.Arousal != 0.2 || frame.MoodShift.Valence != -0.1 {
		t.Errorf("mood shift = %+v", frame.MoodShift)
	}
	if frame.Urgency != 0.7 {
		t.Errorf("urgency = %v, want 0.7", frame.Urgency)
	}
	if frame.TrustDelta != -0.05 {
		t.Errorf("trust delta = %v, want -0.05", frame.TrustDelta)
	}
	if len(frame.Topics) != 1 || frame.Topics[0] != "armed stranger at the gate" {
		t.Errorf("topics = %v", frame.Topics)
	}
}

func TestParseFrame_ClampsRanges(t *testing.T) {
	raw := `{
  "reflection": "r",
  "dialogue": "d",
  "intent": "guard",
  "mood_shift": {"arousal": 3.0, "valence": -9.0},
  "urgency": 1.8,
  "trust_delta": 0.9,
  "emotional_weight": -0.5,
  "extracted_topics": []
}`

	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Intent != IntentGuard {
		t.Errorf("intent = %q, want Guard (case-insensitive)", frame.Intent)
	}
	if frame.MoodShift.Arousal != 1 || frame.MoodShift.Valence != -1 {
		t.Errorf("mood shift = %+v, want clamped to [-1,1]", frame.MoodShift)
	}
	if frame.Urgency != 1 {
		t.Errorf("urgency = %v, want clamped to 1", frame.Urgency)
	}
	if frame.TrustDelta != MaxTrustDelta {
		t.Errorf("trust delta = %v, want clamped to %v", frame.TrustDelta, MaxTrustDelta)
	}
	if frame.EmotionalWeight != 0 {
		t.Errorf("emotional weight = %v, want clamped to 0", frame.EmotionalWeight)
	}
}

func TestParseFrame_EmptyDialogueBecomesSilence(t *testing.T) {
	raw := `{"reflection": "r", "dialogue": "   ", "intent": "Ignore"}`
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Dialogue != "..." {
		t.Errorf("dialogue = %q, want ...", frame.Dialogue)
	}
}

func TestParseFrame_NoJSON(t *testing.T) {
	_, err := ParseFrame("I refuse to answer in the requested format.")
	if err == nil {
		t.Fatal("expected error for missing JSON object")
	}
}

func TestParseFrame_BadJSON(t *testing.T) {
	_, err := ParseFrame(`{"dialogue": "hi", "intent": `)
	if err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestParseFrame_UnknownIntent(t *testing.T) {
	_, err := ParseFrame(`{"dialogue": "hi", "intent": "Moonwalk"}`)
	if err == nil {
		t.Fatal("expected error for unknown intent")
	}
	if !strings.Contains(err.Error(), "Moonwalk") {
		t.Errorf("error should name the bad intent, got: %v", err)
	}
}

func TestParseFrame_DropsBlankTopics(t *testing.T) {
	raw := `{"dialogue": "d", "intent": "Trade", "extracted_topics": ["", "  ", "iron prices"]}`
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frame.Topics) != 1 || frame.Topics[0] != "iron prices" {
		t.Errorf("topics = %v, want [iron prices]", frame.Topics)
	}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in   string
		want Intent
		ok   bool
	}{
		{"Investigate", IntentInvestigate, true},
		{"FLEE", IntentFlee, true},
		{"  socialize ", IntentSocialize, true},
		{"wander", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseIntent(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseIntent(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFallbackFrame(t *testing.T) {
	frame := FallbackFrame("paranoid")
	if frame.Intent != IntentGuard {
		t.Errorf("intent = %q, want Guard", frame.Intent)
	}
	if frame.Dialogue != "..." {
		t.Errorf("dialogue = %q, want ...", frame.Dialogue)
	}
	if frame.Urgency != 0.5 {
		t.Errorf("urgency = %v, want 0.5", frame.Urgency)
	}
	if frame.TrustDelta != 0 {
		t.Errorf("trust delta = %v, want 0", frame.TrustDelta)
	}
	if frame.MoodShift.Arousal != 0 || frame.MoodShift.Valence != 0 {
		t.Errorf("mood shift = %+v, want zero", frame.MoodShift)
	}
	if len(frame.Topics) != 0 {
		t.Errorf("topics = %v, want none", frame.Topics)
	}
	if !strings.Contains(frame.Reflection, "paranoid") {
		t.Errorf("reflection should mention the mood, got %q", frame.Reflection)
	}
}

func TestParseGroupUtterances_OrderedList(t *testing.T) {
	raw := `{
  "responses": [
    {"speaker": "marn", "response_type": "direct_reply", "addressed_to": "player", "dialogue": "We don't serve your kind."},
    {"speaker": "sela", "response_type": "disagreement", "addressed_to": "marn", "dialogue": "Marn, enough."},
    {"speaker": "orrin", "response_type": "silent", "addressed_to": "", "dialogue": ""}
  ]
}`

	utterances, err := parseGroupUtterances(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(utterances) != 3 {
		t.Fatalf("got %d utterances, want 3", len(utterances))
	}
	if utterances[0].Speaker != "marn" || utterances[0].Type != ResponseDirectReply {
		t.Errorf("first = %+v", utterances[0])
	}
	if utterances[1].AddressedTo != "marn" {
		t.Errorf("second addressedTo = %q, want marn", utterances[1].AddressedTo)
	}
	if utterances[2].Type != ResponseSilent || utterances[2].Dialogue != "" {
		t.Errorf("silent entry should keep empty dialogue, got %+v", utterances[2])
	}
}

func TestParseGroupUtterances_DropsUnknownTypesAndBlankSpeakers(t *testing.T) {
	raw := `{
  "responses": [
    {"speaker": "marn", "response_type": "shouting", "dialogue": "x"},
    {"speaker": "", "response_type": "agreement", "dialogue": "y"},
    {"speaker": "sela", "response_type": "AGREEMENT", "dialogue": "Aye."}
  ]
}`

	utterances, err := parseGroupUtterances(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(utterances) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utterances))
	}
	if utterances[0].Speaker != "sela" || utterances[0].Type != ResponseAgreement {
		t.Errorf("kept = %+v", utterances[0])
	}
}

func TestParseGroupUtterances_AllInvalidIsMalformed(t *testing.T) {
	raw := `{"responses": [{"speaker": "marn", "response_type": "shouting", "dialogue": "x"}]}`
	if _, err := parseGroupUtterances(raw); err == nil {
		t.Fatal("expected error when no entry is usable")
	}
}

func TestParseGroupUtterances_SubstitutesMissingDialogue(t *testing.T) {
	raw := `{"responses": [{"speaker": "marn", "response_type": "redirect", "dialogue": ""}]}`
	utterances, err := parseGroupUtterances(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if utterances[0].Dialogue != "..." {
		t.Errorf("dialogue = %q, want ...", utterances[0].Dialogue)
	}
}
