// Package output speaks interviewer lines: remote synthesis first, then the
// device's built-in voice, then silence.
package output

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrLocalUnavailable is returned by players without a built-in voice.
var ErrLocalUnavailable = errors.New("local voice unavailable")

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Player is the device that renders speech.
type Player interface {
	PlayAudio(ctx context.Context, audio []byte) error
	SpeakLocal(ctx context.Context, text string) error
}

type Path string

const (
	PathRemote Path = "remote"
	PathLocal  Path = "local"
	PathSilent Path = "silent"
)

type Config struct {
	Voice           string
	LoadTimeout     time.Duration // remote synthesis
	PlaybackTimeout time.Duration // per playback attempt
}

type Speaker struct {
	synth  Synthesizer
	player Player
	cfg    Config
	log    logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSpeaker(synth Synthesizer, player Player, cfg Config, log logrus.FieldLogger) *Speaker {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	if cfg.PlaybackTimeout <= 0 {
		cfg.PlaybackTimeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Speaker{synth: synth, player: player, cfg: cfg, log: log}
}

// Speak renders text asynchronously. onDone is called exactly once, after
// playback ends, every fallback has failed, or Stop is called. Starting a
// new utterance cancels the previous one.
func (s *Speaker) Speak(ctx context.Context, text string, onDone func(Path)) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		path := PathSilent
		defer func() {
			cancel()
			if onDone != nil {
				onDone(path)
			}
		}()
		path = s.render(ctx, text)
	}()
}

// Stop cancels the utterance in flight, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Speaker) render(ctx context.Context, text string) Path {
	text = strings.TrimSpace(text)
	if text == "" {
		return PathSilent
	}
	log := s.log.WithField("chars", len(text))

	if s.synth != nil {
		err := s.remote(ctx, text)
		if err == nil {
			return PathRemote
		}
		log.WithError(err).Warn("remote speech failed, using local voice")
	}
	if ctx.Err() != nil {
		return PathSilent
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PlaybackTimeout)
	defer cancel()
	err := s.player.SpeakLocal(pctx, text)
	if err == nil {
		return PathLocal
	}
	if !errors.Is(err, ErrLocalUnavailable) {
		log.WithError(err).Warn("local voice failed")
	}
	return PathSilent
}

func (s *Speaker) remote(ctx context.Context, text string) error {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	audio, err := s.synth.Synthesize(lctx, text, s.cfg.Voice)
	cancel()
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return errors.New("empty audio")
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PlaybackTimeout)
	defer cancel()
	return s.player.PlayAudio(pctx, audio)
}
