package workers

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkJobRoundTripsThroughStreamValues(t *testing.T) {
	in := ChunkJob{SessionID: "s1", ChunkIndex: 3, Language: "en", Format: "webm", AudioBase64: "AAEC", IsFinal: true}

	vals := map[string]any{}
	for k, v := range in.Values() {
		vals[k] = v
	}
	out, ok := jobFrom(redis.XMessage{ID: "1-0", Values: vals})

	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestJobFromRejectsMissingFields(t *testing.T) {
	_, ok := jobFrom(redis.XMessage{Values: map[string]any{"session_id": "s1"}})
	assert.False(t, ok)

	_, ok = jobFrom(redis.XMessage{Values: map[string]any{"session_id": "s1", "chunk_index": "0"}})
	assert.False(t, ok)
}

func TestFetchDecodesDataURL(t *testing.T) {
	p := &STTWorkerPool{}
	raw := []byte{1, 2, 3}
	b, err := p.fetch(context.Background(), ChunkJob{AudioBase64: "data:audio/webm;base64," + base64.StdEncoding.EncodeToString(raw)})

	require.NoError(t, err)
	assert.Equal(t, raw, b)
}

func TestFetchDownloadsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("opus"))
	}))
	defer srv.Close()

	p := &STTWorkerPool{HTTPClient: srv.Client()}
	b, err := p.fetch(context.Background(), ChunkJob{AudioURL: srv.URL + "/a.webm"})
	require.NoError(t, err)
	assert.Equal(t, []byte("opus"), b)

	_, err = p.fetch(context.Background(), ChunkJob{AudioURL: srv.URL + "/missing"})
	assert.Error(t, err)

	_, err = p.fetch(context.Background(), ChunkJob{})
	assert.Error(t, err)
}
