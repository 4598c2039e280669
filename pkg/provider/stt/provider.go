// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI audio API)
// behind a uniform request/response interface: one encoded audio clip in, one
// transcript out. Player speech arrives at the boundary as complete clips, so
// no streaming session abstraction is needed.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple transcriptions
// may run in parallel (e.g., several players speaking to different NPCs).
type Provider interface {
	// Transcribe converts the request's audio clip into text.
	//
	// Returns an error if the provider cannot be reached, the audio format is
	// not supported, or ctx is cancelled before a result is available. An
	// empty transcript with a nil error means the clip contained no speech.
	Transcribe(ctx context.Context, req TranscriptionRequest) (*Transcript, error)
}
