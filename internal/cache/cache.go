package cache

import (
	"context"
	"time"
)

// Cache stores JSON values under string keys.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Bus fans JSON messages out to per-session subscribers.
type Bus interface {
	Publish(ctx context.Context, channel string, val any) error
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, closeFn func())
}

func ProfileKey(userID string) string { return "profile:" + userID }

func TempReportKey(key string) string { return "report:temp:" + key }

// TranscriptChannel carries server-side recognition results for one session.
func TranscriptChannel(sessionID string) string { return "interview:" + sessionID + ":transcript" }
