package workers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/internal/cache"
	"github.com/yoockh/jobdance/internal/providers/stt"
	"github.com/yoockh/jobdance/internal/services"
)

const (
	DefaultStream = "interview:audio"
	DefaultGroup  = "stt-workers"
)

// TranscriptMessage is published on cache.TranscriptChannel for every
// recognized or failed chunk.
type TranscriptMessage struct {
	Type       string  `json:"type"` // stt_result|stt_error
	ChunkIndex int64   `json:"chunk_index"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFinal    bool    `json:"is_final"`
	Error      string  `json:"error,omitempty"`
}

// ChunkJob is the stream entry produced by the interview socket.
type ChunkJob struct {
	SessionID   string
	ChunkIndex  int64
	Language    string
	Format      string
	AudioBase64 string
	AudioURL    string
	IsFinal     bool
}

func (j ChunkJob) Values() map[string]any {
	v := map[string]any{
		"session_id":  j.SessionID,
		"chunk_index": strconv.FormatInt(j.ChunkIndex, 10),
		"language":    j.Language,
		"format":      j.Format,
		"is_final":    strconv.FormatBool(j.IsFinal),
	}
	if j.AudioBase64 != "" {
		v["audio_base64"] = j.AudioBase64
	}
	if j.AudioURL != "" {
		v["audio_url"] = j.AudioURL
	}
	return v
}

func jobFrom(msg redis.XMessage) (ChunkJob, bool) {
	get := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	idx, err := strconv.ParseInt(get("chunk_index"), 10, 64)
	j := ChunkJob{
		SessionID:   get("session_id"),
		ChunkIndex:  idx,
		Language:    get("language"),
		Format:      get("format"),
		AudioBase64: get("audio_base64"),
		AudioURL:    get("audio_url"),
	}
	j.IsFinal, _ = strconv.ParseBool(get("is_final"))
	return j, err == nil && j.SessionID != "" && idx > 0
}

// STTWorkerPool consumes audio chunks from a Redis stream, transcribes them
// and publishes the text to the owning session.
type STTWorkerPool struct {
	Redis      *redis.Client
	Bus        cache.Bus
	Chunks     services.ChunkService
	STT        stt.Provider
	NumWorkers int
	Logger     logrus.FieldLogger

	Stream         string
	Group          string
	ConsumerPrefix string
	HTTPClient     *http.Client
}

func (p *STTWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Bus == nil || p.Chunks == nil || p.STT == nil {
		return errors.New("STTWorkerPool missing dependency: Redis/Bus/Chunks/STT must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultStream
	}
	if p.Group == "" {
		p.Group = DefaultGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "stt"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}
	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // BUSYGROUP is fine

	for i := 0; i < p.NumWorkers; i++ {
		go p.runConsumer(ctx, p.ConsumerPrefix+"-"+strconv.Itoa(i+1))
	}
	return nil
}

// Enqueue appends a chunk to the stream.
func Enqueue(ctx context.Context, rdb *redis.Client, stream string, j ChunkJob) error {
	if stream == "" {
		stream = DefaultStream
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: j.Values()}).Err()
}

func (p *STTWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handle(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *STTWorkerPool) handle(ctx context.Context, msg redis.XMessage) {
	job, ok := jobFrom(msg)
	if !ok {
		p.Logger.WithField("redis_id", msg.ID).Warn("dropping malformed audio chunk")
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":    msg.ID,
		"session_id":  job.SessionID,
		"chunk_index": job.ChunkIndex,
	})
	channel := cache.TranscriptChannel(job.SessionID)
	fail := func(reason string, err error) {
		log.WithError(err).Warn(reason)
		_ = p.Chunks.MarkSTT(ctx, job.SessionID, job.ChunkIndex, "", 0, services.ChunkFailed, 0)
		_ = p.Bus.Publish(ctx, channel, TranscriptMessage{Type: "stt_error", ChunkIndex: job.ChunkIndex, Error: reason})
	}

	audio, err := p.fetch(ctx, job)
	if err != nil {
		fail("audio unavailable", err)
		return
	}

	start := time.Now()
	_ = p.Chunks.MarkSTT(ctx, job.SessionID, job.ChunkIndex, "", 0, services.ChunkProcessing, 0)

	res, err := p.STT.Transcribe(ctx, stt.Audio{
		Data:     audio,
		Language: stt.NormalizeLanguage(job.Language),
		Format:   job.Format,
	})
	if err != nil {
		fail("stt failed", err)
		return
	}

	_ = p.Chunks.MarkSTT(ctx, job.SessionID, job.ChunkIndex, res.Text, res.Confidence, services.ChunkDone, time.Since(start).Milliseconds())
	if err := p.Bus.Publish(ctx, channel, TranscriptMessage{
		Type:       "stt_result",
		ChunkIndex: job.ChunkIndex,
		Text:       res.Text,
		Confidence: res.Confidence,
		IsFinal:    true,
	}); err != nil {
		log.WithError(err).Warn("transcript publish failed")
	}
}

func (p *STTWorkerPool) fetch(ctx context.Context, j ChunkJob) ([]byte, error) {
	if j.AudioBase64 != "" {
		raw := j.AudioBase64
		if i := strings.Index(raw, ","); i >= 0 {
			raw = raw[i+1:] // data:...;base64,
		}
		return base64.StdEncoding.DecodeString(raw)
	}
	if j.AudioURL == "" {
		return nil, errors.New("chunk carries no audio")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.AudioURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio_url: status %d", resp.StatusCode)
	}

	const maxBytes = 10 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty audio")
	}
	return body, nil
}
