package stt

// Audio input formats accepted across backends. Individual providers may
// reject formats they cannot decode.
const (
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
	FormatOgg  = "ogg"
	FormatWebM = "webm"
)

// DefaultFormat is used when a TranscriptionRequest leaves Format empty.
const DefaultFormat = FormatWAV

// TranscriptionRequest describes a single audio clip to transcribe.
type TranscriptionRequest struct {
	// Audio is the encoded audio clip. Must not be empty.
	Audio []byte

	// Format names the audio container/encoding of Audio. Empty means
	// DefaultFormat.
	Format string

	// Language is the ISO 639-1 language hint for recognition (e.g., "en",
	// "de"). An empty string lets the provider auto-detect the language.
	Language string
}

// Transcript represents a speech-to-text result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content. Empty means the clip contained
	// no recognisable speech.
	Text string

	// Language is the language the provider detected or was told to use.
	// May be empty if the provider does not report it.
	Language string
}
