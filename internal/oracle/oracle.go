// Package oracle is the single seam between the simulation and its AI
// providers. Cognition, speech synthesis, and transcription all pass
// through here: per-operation deadlines, the circuit breaker, frame
// parsing, and fallback behaviour live in this package so that callers
// (Brain, GroupOrchestrator, the boundary) never touch a provider
// directly.
//
// Cognition never fails outward: when the provider times out, the breaker
// is open, or the model emits garbage, [Oracle.Cognize] serves a cautious
// fallback frame and reports the downgrade in the result's [Outcome].
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/observe"
	"github.com/MrWong99/agentfield/pkg/provider/llm"
	"github.com/MrWong99/agentfield/pkg/provider/stt"
	"github.com/MrWong99/agentfield/pkg/provider/tts"
)

// Per-operation deadlines. Cognition is interactive; synthesis may render
// long clips; transcription sits between.
const (
	DefaultCognizeTimeout    = 15 * time.Second
	DefaultSynthesizeTimeout = 30 * time.Second
	DefaultTranscribeTimeout = 20 * time.Second
)

// defaultMaxTokens bounds cognition output; frames are small JSON objects.
const defaultMaxTokens = 700

// ErrNoTTS and ErrNoSTT are returned when the corresponding provider was
// not configured.
var (
	ErrNoTTS = errors.New("oracle: no tts provider configured")
	ErrNoSTT = errors.New("oracle: no stt provider configured")
)

// Outcome tells callers whether a cognition result came from the model or
// from the fallback path.
type Outcome int

const (
	// OutcomeOk means the frame was parsed from genuine model output.
	OutcomeOk Outcome = iota

	// OutcomeFallback means the frame is the cautious default; Reason on
	// the result says why.
	OutcomeFallback
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	if o == OutcomeFallback {
		return "fallback"
	}
	return "ok"
}

// CognizeRequest carries one cognition pass for a single agent.
type CognizeRequest struct {
	// AgentID identifies the thinking agent (logging only).
	AgentID string

	// System is the persona system prompt assembled by the caller.
	System string

	// Prompt is the situation prompt assembled by the caller.
	Prompt string

	// MoodLabel colours the fallback frame when cognition fails.
	MoodLabel string

	// Temperature overrides the sampling temperature when non-zero.
	Temperature float64
}

// CognizeResult is the explicit outcome of one cognition pass. Frame is
// always usable; Outcome and Reason say whether it was downgraded.
type CognizeResult struct {
	Frame   CognitiveFrame
	Outcome Outcome

	// Reason explains a fallback ("timeout", "breaker open", decode
	// detail). Empty when Outcome is OutcomeOk.
	Reason string
}

// GroupCognizeRequest carries one group turn covering several agents.
type GroupCognizeRequest struct {
	// GroupID identifies the conversation (logging only).
	GroupID string

	// System frames the scene and the response contract.
	System string

	// Prompt is the salience-ranked participant context plus the player
	// message.
	Prompt string

	// Temperature overrides the sampling temperature when non-zero.
	Temperature float64
}

// Option is a functional option for [New].
type Option func(*Oracle)

// WithCognizeTimeout overrides the cognition deadline.
func WithCognizeTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.cognizeTimeout = d
		}
	}
}

// WithSynthesizeTimeout overrides the synthesis deadline.
func WithSynthesizeTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.synthesizeTimeout = d
		}
	}
}

// WithTranscribeTimeout overrides the transcription deadline.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.transcribeTimeout = d
		}
	}
}

// WithBreaker replaces the default breaker configuration.
func WithBreaker(cfg BreakerConfig) Option {
	return func(o *Oracle) {
		o.breaker = NewBreaker(cfg)
	}
}

// WithMetrics injects the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Oracle) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTemperature sets the default sampling temperature for cognition.
func WithTemperature(t float64) Option {
	return func(o *Oracle) {
		o.temperature = t
	}
}

// Oracle mediates all provider I/O. Safe for concurrent use.
type Oracle struct {
	llm llm.Provider
	tts tts.Provider
	stt stt.Provider

	breaker *Breaker
	metrics *observe.Metrics

	cognizeTimeout    time.Duration
	synthesizeTimeout time.Duration
	transcribeTimeout time.Duration
	temperature       float64
}

// New constructs an Oracle around the given providers. llmProvider is
// required; ttsProvider and sttProvider may be nil, in which case
// [Oracle.Synthesize] and [Oracle.Transcribe] return [ErrNoTTS] and
// [ErrNoSTT].
func New(llmProvider llm.Provider, ttsProvider tts.Provider, sttProvider stt.Provider, opts ...Option) (*Oracle, error) {
	if llmProvider == nil {
		return nil, fmt.Errorf("oracle: llm provider must not be nil")
	}
	o := &Oracle{
		llm:               llmProvider,
		tts:               ttsProvider,
		stt:               sttProvider,
		breaker:           NewBreaker(BreakerConfig{}),
		cognizeTimeout:    DefaultCognizeTimeout,
		synthesizeTimeout: DefaultSynthesizeTimeout,
		transcribeTimeout: DefaultTranscribeTimeout,
		temperature:       0.7,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// BreakerState exposes the cognition breaker's state for health reporting.
func (o *Oracle) BreakerState() BreakerState {
	return o.breaker.State()
}

// frameInstructions is appended to every cognition system prompt; it pins
// the JSON contract [ParseFrame] expects.
const frameInstructions = `

Respond ONLY with a single JSON object, no extra text:
{
  "reflection": "your private reasoning, 1-3 sentences",
  "dialogue": "the line you speak out loud",
  "intent": "Investigate|Guard|Trade|Assist|Flee|Attack|Socialize|Ignore",
  "mood_shift": {"arousal": 0.0, "valence": 0.0},
  "urgency": 0.0,
  "trust_delta": 0.0,
  "emotional_weight": 0.0,
  "extracted_topics": ["things worth remembering about this exchange"]
}
urgency and emotional_weight are in [0,1]; trust_delta in [-0.2,0.2];
mood_shift components in [-1,1]. Stay in character.`

// groupInstructions pins the JSON contract for group turns.
const groupInstructions = `

Respond ONLY with a single JSON object, no extra text:
{
  "responses": [
    {
      "speaker": "agent id",
      "response_type": "direct_reply|agreement|disagreement|elaboration|interruption|redirect|silent",
      "addressed_to": "agent id, player, or empty for the room",
      "dialogue": "the spoken line; empty only when silent"
    }
  ]
}
List responses in speaking order. Not everyone must speak; use "silent"
for participants who hold back. Each speaker appears at most once.`

// Cognize runs one cognition pass. It never fails because of the provider:
// timeouts, open breakers, and malformed output all downgrade to a fallback
// frame with a non-nil result. The returned error is non-nil only when ctx
// itself was cancelled.
func (o *Oracle) Cognize(ctx context.Context, req CognizeRequest) (CognizeResult, error) {
	start := time.Now()
	content, err := o.complete(ctx, o.cognizeTimeout, llm.CompletionRequest{
		SystemPrompt: req.System + frameInstructions,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		Temperature:  o.pickTemperature(req.Temperature),
		MaxTokens:    defaultMaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return CognizeResult{}, ctx.Err()
		}
		reason := failureReason(err)
		o.metrics.RecordOracleFailure(ctx, "cognize", reason)
		o.metrics.RecordOracleOp(ctx, "cognize", OutcomeFallback.String(), time.Since(start).Seconds())
		slog.Warn("oracle: cognition failed, serving fallback",
			"agent", req.AgentID, "reason", reason, "error", err)
		return CognizeResult{
			Frame:   FallbackFrame(req.MoodLabel),
			Outcome: OutcomeFallback,
			Reason:  reason,
		}, nil
	}

	frame, err := ParseFrame(content)
	if err != nil {
		o.metrics.RecordOracleFailure(ctx, "cognize", "malformed")
		o.metrics.RecordOracleOp(ctx, "cognize", OutcomeFallback.String(), time.Since(start).Seconds())
		slog.Warn("oracle: malformed frame, serving fallback",
			"agent", req.AgentID, "error", err)
		return CognizeResult{
			Frame:   FallbackFrame(req.MoodLabel),
			Outcome: OutcomeFallback,
			Reason:  err.Error(),
		}, nil
	}

	o.metrics.RecordOracleOp(ctx, "cognize", OutcomeOk.String(), time.Since(start).Seconds())
	return CognizeResult{Frame: frame, Outcome: OutcomeOk}, nil
}

// GroupCognize runs one group turn. Unlike [Oracle.Cognize] it surfaces
// failures: the orchestrator owns the group fallback (salience leader), so
// a provider or parse error comes back as a plain error.
func (o *Oracle) GroupCognize(ctx context.Context, req GroupCognizeRequest) ([]GroupUtterance, error) {
	start := time.Now()
	content, err := o.complete(ctx, o.cognizeTimeout, llm.CompletionRequest{
		SystemPrompt: req.System + groupInstructions,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		Temperature:  o.pickTemperature(req.Temperature),
		MaxTokens:    defaultMaxTokens * 2,
	})
	if err != nil {
		o.metrics.RecordOracleFailure(ctx, "group_cognize", failureReason(err))
		o.metrics.RecordOracleOp(ctx, "group_cognize", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("oracle: group cognition: %w", err)
	}

	utterances, err := parseGroupUtterances(content)
	if err != nil {
		o.metrics.RecordOracleFailure(ctx, "group_cognize", "malformed")
		o.metrics.RecordOracleOp(ctx, "group_cognize", "error", time.Since(start).Seconds())
		return nil, err
	}

	o.metrics.RecordOracleOp(ctx, "group_cognize", OutcomeOk.String(), time.Since(start).Seconds())
	slog.Debug("oracle: group turn complete",
		"group", req.GroupID, "responses", len(utterances))
	return utterances, nil
}

// Synthesize renders dialogue as speech. The agent's mood paces the
// delivery: higher arousal speaks faster.
func (o *Oracle) Synthesize(ctx context.Context, voice, text string, mood agent.Mood) ([]byte, error) {
	if o.tts == nil {
		return nil, ErrNoTTS
	}
	if text == "" {
		return nil, fmt.Errorf("oracle: text must not be empty")
	}

	sctx, cancel := context.WithTimeout(ctx, o.synthesizeTimeout)
	defer cancel()

	start := time.Now()
	audio, err := o.tts.Synthesize(sctx, tts.SpeechRequest{
		Text:  text,
		Voice: voice,
		Speed: speechSpeed(mood),
	})
	if err != nil {
		o.metrics.RecordOracleFailure(ctx, "synthesize", failureReason(err))
		o.metrics.RecordOracleOp(ctx, "synthesize", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("oracle: synthesize: %w", err)
	}

	o.metrics.RecordOracleOp(ctx, "synthesize", OutcomeOk.String(), time.Since(start).Seconds())
	return audio, nil
}

// Transcribe converts a player's audio clip to text. The clip's container
// format is sniffed from its leading bytes.
func (o *Oracle) Transcribe(ctx context.Context, audio []byte, lang string) (string, error) {
	if o.stt == nil {
		return "", ErrNoSTT
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("oracle: audio must not be empty")
	}

	tctx, cancel := context.WithTimeout(ctx, o.transcribeTimeout)
	defer cancel()

	start := time.Now()
	transcript, err := o.stt.Transcribe(tctx, stt.TranscriptionRequest{
		Audio:    audio,
		Format:   detectAudioFormat(audio),
		Language: lang,
	})
	if err != nil {
		o.metrics.RecordOracleFailure(ctx, "transcribe", failureReason(err))
		o.metrics.RecordOracleOp(ctx, "transcribe", "error", time.Since(start).Seconds())
		return "", fmt.Errorf("oracle: transcribe: %w", err)
	}

	o.metrics.RecordOracleOp(ctx, "transcribe", OutcomeOk.String(), time.Since(start).Seconds())
	return transcript.Text, nil
}

// complete runs one chat completion behind the breaker and deadline.
func (o *Oracle) complete(ctx context.Context, timeout time.Duration, req llm.CompletionRequest) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var content string
	err := o.breaker.Execute(func() error {
		resp, err := o.llm.Complete(cctx, req)
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	})
	return content, err
}

// pickTemperature returns the request override or the oracle default.
func (o *Oracle) pickTemperature(override float64) float64 {
	if override != 0 {
		return override
	}
	return o.temperature
}

// failureReason maps an error to its metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "provider"
	}
}

// speechSpeed maps mood to speaking rate: 0.9 at flat calm up to 1.2 at
// full arousal.
func speechSpeed(mood agent.Mood) float64 {
	return 0.9 + 0.3*clamp01(mood.Arousal)
}

// detectAudioFormat sniffs common container magic bytes. Unknown data is
// treated as WAV, the format game clients record in by default.
func detectAudioFormat(audio []byte) string {
	switch {
	case len(audio) >= 4 && string(audio[:4]) == "RIFF":
		return stt.FormatWAV
	case len(audio) >= 4 && string(audio[:4]) == "OggS":
		return stt.FormatOgg
	case len(audio) >= 4 && audio[0] == 0x1A && audio[1] == 0x45 && audio[2] == 0xDF && audio[3] == 0xA3:
		return stt.FormatWebM
	case len(audio) >= 3 && string(audio[:3]) == "ID3":
		return stt.FormatMP3
	case len(audio) >= 2 && audio[0] == 0xFF && audio[1]&0xE0 == 0xE0:
		return stt.FormatMP3
	default:
		return stt.FormatWAV
	}
}
