package tts

import "context"

// Synthesizer turns text into encoded audio (MP3).
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	Close() error
}
