package tts

// Audio output formats supported across backends. Individual providers may
// reject formats they cannot encode.
const (
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
	FormatPCM  = "pcm"
	FormatOpus = "opus"
)

// DefaultFormat is used when a SpeechRequest leaves Format empty.
const DefaultFormat = FormatMP3

// SpeechRequest describes a single utterance to synthesise.
type SpeechRequest struct {
	// Text is the dialogue line to speak. Must not be empty.
	Text string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	Voice string

	// Speed adjusts speaking rate (1.0 = normal). Zero means default.
	// Callers use this to let an agent's mood pace its delivery.
	Speed float64

	// Format selects the audio container/encoding. Empty means DefaultFormat.
	Format string
}

// Voice describes a voice available from a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS backend this voice belongs to.
	Provider string
}
