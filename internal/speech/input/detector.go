// Package input turns a stream of recognizer fragments into complete
// spoken answers using a silence window.
package input

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

type ResultKind int

const (
	Interim ResultKind = iota
	Final
	Error
)

func (k ResultKind) String() string {
	switch k {
	case Interim:
		return "interim"
	case Final:
		return "final"
	default:
		return "error"
	}
}

type ErrorKind string

const (
	ErrPermissionDenied ErrorKind = "permission-denied"
	ErrNoSpeech         ErrorKind = "no-speech"
	ErrAudioCapture     ErrorKind = "audio-capture"
	ErrAborted          ErrorKind = "aborted"
	ErrNetwork          ErrorKind = "network"
)

// Fatal reports whether the error ends voice input for the current turn.
func (k ErrorKind) Fatal() bool { return k == ErrPermissionDenied || k == "not-allowed" }

// Benign errors are expected recognizer noise and are never surfaced.
func (k ErrorKind) Benign() bool {
	return k == ErrNoSpeech || k == ErrAudioCapture || k == ErrAborted
}

// Result is Interim(text), Final(text) or Error(kind).
type Result struct {
	Kind ResultKind
	Text string
	Err  ErrorKind
}

// TranscriptEvent is one recognizer fragment.
type TranscriptEvent struct {
	Text      string
	IsInterim bool
}

// Recognizer is the underlying speech-to-text session.
type Recognizer interface {
	Start() error
	Stop()
}

type Config struct {
	SilenceWindow  time.Duration
	RestartSpacing time.Duration
}

// Detector decides when the user has finished an answer. Every fragment
// restarts the silence window; final fragments are buffered and the buffer
// is emitted as one Final result once the window elapses with no speech.
type Detector struct {
	rec   Recognizer
	clock clock.WithDelayedExecution
	cfg   Config
	log   logrus.FieldLogger

	results chan Result

	mu             sync.Mutex
	armed          bool
	session        uint64 // bumps on every arm/disarm
	gen            uint64 // bumps on every fragment
	finals         []string
	interim        string
	silence        clock.Timer
	restart        clock.Timer
	restartPending bool
	lastRestart    time.Time
	restarts       int
}

func NewDetector(rec Recognizer, clk clock.WithDelayedExecution, cfg Config, log logrus.FieldLogger) *Detector {
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = 5 * time.Second
	}
	if cfg.RestartSpacing <= 0 {
		cfg.RestartSpacing = 200 * time.Millisecond
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Detector{
		rec:     rec,
		clock:   clk,
		cfg:     cfg,
		log:     log,
		results: make(chan Result, 64),
	}
}

func (d *Detector) Results() <-chan Result { return d.results }

// Armed reports whether the detector is currently listening.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Restarts counts transparent recognizer restarts.
func (d *Detector) Restarts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restarts
}

// Start arms the detector and starts the recognizer.
func (d *Detector) Start() error {
	d.mu.Lock()
	if d.armed {
		d.mu.Unlock()
		return nil
	}
	d.armed = true
	d.session++
	d.resetLocked(true)
	d.lastRestart = d.clock.Now()
	d.mu.Unlock()

	if err := d.rec.Start(); err != nil {
		d.mu.Lock()
		d.armed = false
		d.mu.Unlock()
		return err
	}
	return nil
}

// Stop disarms the detector and discards any buffered speech.
func (d *Detector) Stop() {
	d.mu.Lock()
	wasArmed := d.armed
	d.disarmLocked(true)
	d.mu.Unlock()

	if wasArmed {
		d.rec.Stop()
	}
}

// Flush ends the answer now, emitting whatever has been heard so far.
func (d *Detector) Flush() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	text := d.textLocked()
	if text == "" {
		d.mu.Unlock()
		return
	}
	d.disarmLocked(true)
	d.mu.Unlock()

	d.rec.Stop()
	d.deliver(Result{Kind: Final, Text: text})
}

func (d *Detector) OnTranscript(ev TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return
	}

	if ev.IsInterim {
		d.interim = text
	} else {
		if text != "" {
			d.finals = append(d.finals, text)
		}
		d.interim = ""
	}

	d.gen++
	session, gen := d.session, d.gen
	if d.silence != nil {
		d.silence.Stop()
	}
	d.silence = d.clock.AfterFunc(d.cfg.SilenceWindow, func() { d.onSilence(session, gen) })

	if running := d.textLocked(); running != "" {
		d.offer(Result{Kind: Interim, Text: running})
	}
}

// onSilence runs on the clock's timer; it must not call back into the clock.
func (d *Detector) onSilence(session, gen uint64) {
	d.mu.Lock()
	if !d.armed || session != d.session || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.silence = nil
	text := d.textLocked()
	if text == "" {
		d.mu.Unlock()
		return
	}
	d.disarmLocked(false)
	d.mu.Unlock()

	d.rec.Stop()
	d.deliver(Result{Kind: Final, Text: text})
}

// OnEnd handles the recognizer session ending on its own. While armed the
// recognizer is restarted, no sooner than RestartSpacing after the last start.
func (d *Detector) OnEnd() {
	d.mu.Lock()
	if !d.armed || d.restartPending {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()
	wait := d.cfg.RestartSpacing - now.Sub(d.lastRestart)
	if wait > 0 {
		d.restartPending = true
		at := d.lastRestart.Add(d.cfg.RestartSpacing)
		session := d.session
		d.restart = d.clock.AfterFunc(wait, func() { d.restartAt(at, session) })
		d.mu.Unlock()
		return
	}
	d.lastRestart = now
	d.restarts++
	d.mu.Unlock()

	d.startRecognizer()
}

// restartAt runs on the clock's timer.
func (d *Detector) restartAt(at time.Time, session uint64) {
	d.mu.Lock()
	if session != d.session {
		d.mu.Unlock()
		return
	}
	d.restartPending = false
	d.restart = nil
	if !d.armed {
		d.mu.Unlock()
		return
	}
	d.lastRestart = at
	d.restarts++
	d.mu.Unlock()

	d.startRecognizer()
}

func (d *Detector) startRecognizer() {
	if err := d.rec.Start(); err != nil {
		d.log.WithError(err).Warn("recognizer restart failed")
		d.deliver(Result{Kind: Error, Err: ErrorKind("restart-failed")})
	}
}

// OnError classifies a recognizer error.
func (d *Detector) OnError(kind ErrorKind) {
	switch {
	case kind.Benign():
		d.log.WithField("error", string(kind)).Debug("recognizer error ignored")
	case kind.Fatal():
		d.mu.Lock()
		wasArmed := d.armed
		d.disarmLocked(true)
		d.mu.Unlock()
		if wasArmed {
			d.rec.Stop()
		}
		d.deliver(Result{Kind: Error, Err: ErrPermissionDenied})
	default:
		d.log.WithField("error", string(kind)).Warn("recognizer error")
		d.deliver(Result{Kind: Error, Err: kind})
	}
}

func (d *Detector) textLocked() string {
	parts := append([]string(nil), d.finals...)
	if d.interim != "" {
		parts = append(parts, d.interim)
	}
	return strings.Join(parts, " ")
}

func (d *Detector) disarmLocked(stopTimers bool) {
	d.armed = false
	d.session++
	d.resetLocked(stopTimers)
}

// resetLocked clears the buffer. Timer callbacks pass stopTimers=false:
// stale timers are ignored through the session and gen checks instead.
func (d *Detector) resetLocked(stopTimers bool) {
	d.finals = nil
	d.interim = ""
	if stopTimers {
		if d.silence != nil {
			d.silence.Stop()
		}
		if d.restart != nil {
			d.restart.Stop()
		}
	}
	d.silence = nil
	d.restart = nil
	d.restartPending = false
}

// offer drops interim updates when the consumer is behind.
func (d *Detector) offer(r Result) {
	select {
	case d.results <- r:
	default:
	}
}

// deliver never drops a terminal result.
func (d *Detector) deliver(r Result) {
	select {
	case d.results <- r:
	default:
		go func() { d.results <- r }()
	}
}
