package interview

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/internal/gateway"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/speech/input"
	"github.com/yoockh/jobdance/internal/speech/output"
	"k8s.io/utils/clock"
)

type AI interface {
	RequestQuestion(ctx context.Context, req gateway.QuestionRequest) (string, error)
	RequestReport(ctx context.Context, req gateway.ReportRequest) (*models.Report, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string, onDone func(output.Path))
	Stop()
}

type Listener interface {
	Start() error
	Stop()
	Results() <-chan input.Result
}

// Store persists finished sessions and returns the stored session id.
type Store interface {
	Save(ctx context.Context, s *models.InterviewSession) (string, error)
}

// ReportStash keeps a report that could not be persisted and returns the
// key of its temporary view.
type ReportStash interface {
	StashReport(ctx context.Context, sessionID string, r *models.Report) (string, error)
}

// Presenter renders controller output on the user's device.
type Presenter interface {
	State(s VoiceState, mode InputMode)
	Question(text string, closing bool)
	Interim(text string)
	Notice(code, message string)
	Outcome(o Outcome)
}

type Config struct {
	SessionID string
	UserID    string
	Profile   *models.Profile
	Metadata  models.SessionMetadata
	Mode      InputMode

	MaxQuestions    int
	SafetyTimeout   time.Duration
	QuestionTimeout time.Duration // follow-up and closing requests
	ClosingDelay    time.Duration
	ReportTimeout   time.Duration
	PersistTimeout  time.Duration
}

type Deps struct {
	AI        AI
	Speaker   Speaker
	Listener  Listener // nil for text-only sessions
	Store     Store
	Stash     ReportStash
	Presenter Presenter
	Clock     clock.WithDelayedExecution
	Log       logrus.FieldLogger
}

// Controller owns one interview. Run is its event loop and the only
// goroutine that touches the Machine; everything else talks to it through
// events.
type Controller struct {
	cfg Config
	d   Deps
	log logrus.FieldLogger

	events chan Event
	done   chan struct{}

	// loop-owned
	m             Machine
	ctx           context.Context
	safety        clock.Timer
	endTimer      clock.Timer
	cancelOpening context.CancelFunc

	mu   sync.RWMutex
	view Machine
}

func New(cfg Config, d Deps) *Controller {
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = 35 * time.Second
	}
	if cfg.QuestionTimeout <= 0 {
		cfg.QuestionTimeout = 30 * time.Second
	}
	if cfg.ClosingDelay <= 0 {
		cfg.ClosingDelay = 3 * time.Second
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 45 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 15 * time.Second
	}
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	mode := cfg.Mode
	if d.Listener == nil {
		mode = TextMode
	}
	m := NewMachine(cfg.MaxQuestions, mode)
	return &Controller{
		cfg:    cfg,
		d:      d,
		log:    d.Log.WithField("session_id", cfg.SessionID),
		events: make(chan Event, 32),
		done:   make(chan struct{}),
		m:      m,
		view:   m,
	}
}

func (c *Controller) Start()                   { c.post(StartEvent{}) }
func (c *Controller) SubmitAnswer(text string) { c.post(AnswerEvent{Text: text}) }
func (c *Controller) End()                     { c.post(EndEvent{}) }

// Snapshot returns a copy of the machine as of the last processed event.
func (c *Controller) Snapshot() Machine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.view
	m.Messages = append([]models.Message(nil), m.Messages...)
	return m
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run processes events until the session outcome has been presented or
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.ctx = ctx

	var results <-chan input.Result
	if c.d.Listener != nil {
		results = c.d.Listener.Results()
	}

	for {
		select {
		case <-ctx.Done():
			c.stopTimers()
			c.stopIO()
			return ctx.Err()
		case ev := <-c.events:
			if c.apply(ev) {
				return nil
			}
		case r := <-results:
			if c.apply(c.fromInput(r)) {
				return nil
			}
		}
	}
}

// post never blocks the caller; timer callbacks rely on that.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
	default:
		go func() {
			select {
			case c.events <- ev:
			case <-c.done:
			}
		}()
	}
}

func (c *Controller) fromInput(r input.Result) Event {
	switch r.Kind {
	case input.Final:
		return AnswerEvent{Text: r.Text}
	case input.Error:
		return InputErrorEvent{Kind: r.Err}
	default:
		if c.m.State == Listening && c.d.Presenter != nil {
			c.d.Presenter.Interim(r.Text)
		}
		return nil
	}
}

// apply runs one transition and its effects; it reports whether the
// session is over.
func (c *Controller) apply(ev Event) bool {
	if ev == nil {
		return false
	}
	prev := c.m
	next, effects := Step(prev, ev, c.d.Clock.Now())
	c.m = next

	c.mu.Lock()
	c.view = next
	c.mu.Unlock()

	if (next.State != prev.State || next.Mode != prev.Mode) && c.d.Presenter != nil {
		c.d.Presenter.State(next.State, next.Mode)
	}
	if next.State != prev.State {
		c.log.WithFields(logrus.Fields{
			"from":           prev.State.String(),
			"to":             next.State.String(),
			"question_count": next.QuestionCount,
		}).Debug("voice state")
	}

	for _, e := range effects {
		c.run(e)
	}
	return next.Outcome != nil
}

func (c *Controller) run(e Effect) {
	switch e := e.(type) {
	case RequestQuestion:
		c.requestQuestion(e)

	case ArmSafetyTimeout:
		c.safety = c.d.Clock.AfterFunc(c.cfg.SafetyTimeout, func() { c.post(SafetyTimeoutEvent{}) })

	case DisarmSafetyTimeout:
		if c.safety != nil {
			c.safety.Stop()
			c.safety = nil
		}
		// an opening request still in flight holds the shared gateway lane
		if c.cancelOpening != nil {
			c.cancelOpening()
			c.cancelOpening = nil
		}

	case Speak:
		if c.d.Presenter != nil {
			c.d.Presenter.Question(e.Text, e.Closing)
		}
		if c.d.Speaker == nil {
			c.post(SpeechDoneEvent{})
			return
		}
		c.d.Speaker.Speak(c.ctx, e.Text, func(p output.Path) {
			c.log.WithField("path", string(p)).Debug("speech done")
			c.post(SpeechDoneEvent{})
		})

	case StartListening:
		if c.d.Listener == nil {
			c.post(InputErrorEvent{Kind: input.ErrPermissionDenied})
			return
		}
		if err := c.d.Listener.Start(); err != nil {
			c.log.WithError(err).Warn("speech input unavailable")
			c.post(InputErrorEvent{Kind: input.ErrPermissionDenied})
		}

	case StopListening:
		if c.d.Listener != nil {
			c.d.Listener.Stop()
		}

	case StopIO:
		c.stopIO()

	case ScheduleEnd:
		c.endTimer = c.d.Clock.AfterFunc(c.cfg.ClosingDelay, func() { c.post(EndEvent{}) })

	case Finalize:
		s := e.Session
		ctx := context.WithoutCancel(c.ctx)
		go func() { c.post(FinalizedEvent{Outcome: c.finalize(ctx, s)}) }()

	case Notify:
		if c.d.Presenter != nil {
			c.d.Presenter.Notice(e.Code, e.Message)
		}

	case PresentOutcome:
		c.stopTimers()
		if c.d.Presenter != nil {
			c.d.Presenter.Outcome(e.Outcome)
		}
	}
}

func (c *Controller) requestQuestion(e RequestQuestion) {
	req := gateway.QuestionRequest{
		Messages:  e.Messages,
		Profile:   c.cfg.Profile,
		IsClosing: e.Closing,
	}
	var (
		ctx     context.Context
		release func()
	)
	if e.Opening {
		// cancelled on DisarmSafetyTimeout
		ctx, c.cancelOpening = context.WithCancel(c.ctx)
		release = func() {}
	} else {
		ctx, release = c.withTimeout(c.cfg.QuestionTimeout)
	}
	go func() {
		text, err := c.d.AI.RequestQuestion(ctx, req)
		release()
		if err != nil {
			c.log.WithError(err).WithField("closing", e.Closing).Warn("question request failed, using fallback")
		}
		c.post(QuestionReadyEvent{Text: text, Err: err, Opening: e.Opening, Closing: e.Closing})
	}()
}

// withTimeout derives a context from the run context that is cancelled
// after d on the controller clock.
func (c *Controller) withTimeout(d time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancel(c.ctx)
	t := c.d.Clock.AfterFunc(d, cancel)
	return ctx, func() {
		t.Stop()
		cancel()
	}
}

// finalize requests the report, then persists the session, and reconciles
// whichever of the two succeeded into one outcome.
func (c *Controller) finalize(ctx context.Context, s models.InterviewSession) Outcome {
	s.SessionID = c.cfg.SessionID
	s.UserID = c.cfg.UserID
	s.Metadata = c.cfg.Metadata
	log := c.log.WithField("messages", len(s.Messages))

	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReportTimeout)
	report, err := c.d.AI.RequestReport(rctx, gateway.ReportRequest{
		Messages: s.Messages,
		Duration: time.Duration(s.DurationSeconds) * time.Second,
	})
	cancel()
	if err != nil {
		log.WithError(err).Warn("report generation failed")
		report = nil
	}

	s.Report = report
	s.Status = models.SessionStatusCompleted
	if report == nil {
		s.Status = models.SessionStatusPartial
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	id, perr := c.d.Store.Save(pctx, &s)
	cancel()
	if perr != nil {
		log.WithError(perr).Error("session persistence failed")
	}

	switch {
	case perr == nil && report != nil:
		return Outcome{Kind: OutcomePermanent, SessionID: id, Path: PermanentPath(id), Report: report}

	case perr == nil:
		return Outcome{Kind: OutcomePermanent, SessionID: id, Path: PermanentPath(id), Warning: WarningNoReport}

	case report != nil:
		o := Outcome{Kind: OutcomeTemporary, SessionID: s.SessionID, Warning: WarningNotSaved, Report: report}
		if c.d.Stash != nil {
			key, err := c.d.Stash.StashReport(ctx, s.SessionID, report)
			if err == nil {
				o.Path = TemporaryPath(key)
				return o
			}
			log.WithError(err).Warn("ephemeral report store failed")
		}
		// the report travels inline; the device renders it without a fetch
		o.Messages = s.Messages
		return o

	default:
		return Outcome{Kind: OutcomeError, SessionID: s.SessionID, Message: ErrorMessageNothing, Messages: s.Messages}
	}
}

func (c *Controller) stopIO() {
	if c.d.Speaker != nil {
		c.d.Speaker.Stop()
	}
	if c.d.Listener != nil {
		c.d.Listener.Stop()
	}
}

func (c *Controller) stopTimers() {
	if c.safety != nil {
		c.safety.Stop()
		c.safety = nil
	}
	if c.endTimer != nil {
		c.endTimer.Stop()
		c.endTimer = nil
	}
}
