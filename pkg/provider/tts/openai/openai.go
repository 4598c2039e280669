// Package openai provides a TTS provider backed by the OpenAI audio API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/agentfield/pkg/provider/tts"
)

// DefaultVoice is used when a SpeechRequest leaves Voice empty.
const DefaultVoice = "alloy"

// OpenAI accepts speaking rates in this range.
const (
	minSpeed = 0.25
	maxSpeed = 4.0
)

// voiceNames is the current OpenAI speech voice catalogue.
var voiceNames = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "nova", "onyx", "sage", "shimmer", "verse",
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider. model selects the speech model,
// e.g. "tts-1" or "gpt-4o-mini-tts".
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai: text must not be empty")
	}

	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	if !knownVoice(voice) {
		return nil, fmt.Errorf("openai: unknown voice %q", voice)
	}

	format := req.Format
	if format == "" {
		format = tts.DefaultFormat
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}
	if req.Speed != 0 {
		if req.Speed < minSpeed || req.Speed > maxSpeed {
			return nil, fmt.Errorf("openai: speed %.2f outside [%.2f, %.2f]", req.Speed, minSpeed, maxSpeed)
		}
		params.Speed = param.NewOpt(req.Speed)
	}

	res, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech synthesis: %w", err)
	}
	defer res.Body.Close()

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read audio body: %w", err)
	}
	return audio, nil
}

// Voices implements tts.Provider. The OpenAI catalogue is fixed per model
// family, so no API call is made.
func (p *Provider) Voices(_ context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(voiceNames))
	for _, name := range voiceNames {
		voices = append(voices, tts.Voice{
			ID:       name,
			Name:     name,
			Provider: "openai",
		})
	}
	return voices, nil
}

func knownVoice(id string) bool {
	for _, name := range voiceNames {
		if name == id {
			return true
		}
	}
	return false
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
