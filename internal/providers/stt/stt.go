package stt

import "context"

// Audio is one recorded chunk sent for recognition.
type Audio struct {
	Data     []byte
	Language string // BCP-47, ex: "en-US"
	Format   string // "webm" (browser MediaRecorder) or "pcm16"
}

type Result struct {
	Text       string
	Confidence float64
}

type Provider interface {
	Transcribe(ctx context.Context, a Audio) (Result, error)
	Close() error
}
