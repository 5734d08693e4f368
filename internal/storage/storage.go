package storage

import (
	"context"
	"io"
	"time"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// AudioObject names the object holding one synthesized utterance.
func AudioObject(sessionID, utteranceID string) string {
	return "interviews/" + sessionID + "/tts/" + utteranceID + ".mp3"
}
