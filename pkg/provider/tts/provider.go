// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., the OpenAI audio
// API) and presents a uniform request/response interface: one utterance of
// NPC dialogue in, one encoded audio clip out. Chunking for transport is the
// caller's concern; providers always return the complete clip.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (e.g., multiple NPC voices at once).
type Provider interface {
	// Synthesize renders the request's text as speech and returns the
	// encoded audio clip in the requested format.
	//
	// Providers should return an error if the requested voice is not
	// available rather than silently substituting another one.
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)

	// Voices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	Voices(ctx context.Context) ([]Voice, error)
}
