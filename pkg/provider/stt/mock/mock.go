// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled transcripts to consumers and to verify the
// TranscriptionRequests passed to the STT backend.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeResult: &stt.Transcript{Text: "hello there"},
//	}
//	transcript, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/agentfield/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the TranscriptionRequest passed to Transcribe. Audio is a copy.
	Req stt.TranscriptionRequest
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeResult is returned by Transcribe. May be nil (returns nil, nil).
	TranscribeResult *stt.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns TranscribeResult, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, req stt.TranscriptionRequest) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	audio := make([]byte, len(req.Audio))
	copy(audio, req.Audio)
	recorded := req
	recorded.Audio = audio
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: recorded})
	return p.TranscribeResult, p.TranscribeErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
