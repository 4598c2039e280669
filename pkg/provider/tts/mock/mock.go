// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify the
// SpeechRequests passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeAudio: []byte("fake-mp3-bytes"),
//	    VoicesResult:    []tts.Voice{{ID: "v1", Name: "Alice"}},
//	}
//	audio, _ := p.Synthesize(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/agentfield/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the SpeechRequest passed to Synthesize.
	Req tts.SpeechRequest
}

// VoicesCall records a single invocation of Voices.
type VoicesCall struct {
	// Ctx is the context passed to Voices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeAudio is returned by Synthesize. A copy is handed out on each
	// call so tests may mutate the result safely.
	SynthesizeAudio []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// VoicesResult is returned by Voices.
	VoicesResult []tts.Voice

	// VoicesErr, if non-nil, is returned as the error from Voices.
	VoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// VoicesCalls records every call to Voices in order.
	VoicesCalls []VoicesCall
}

// Synthesize records the call and returns a copy of SynthesizeAudio, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	audio := make([]byte, len(p.SynthesizeAudio))
	copy(audio, p.SynthesizeAudio)
	return audio, nil
}

// Voices records the call and returns VoicesResult, VoicesErr.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VoicesCalls = append(p.VoicesCalls, VoicesCall{Ctx: ctx})
	return p.VoicesResult, p.VoicesErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.VoicesCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
