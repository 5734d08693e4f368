// Package interview runs the turn-taking loop of a voice interview.
//
// The loop is an explicit state machine: Step is a pure transition
// function from (Machine, Event) to (Machine, []Effect), and Controller
// executes the effects against speech, AI, and storage ports.
package interview

import (
	"strings"
	"time"

	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/speech/input"
)

type VoiceState int

const (
	Idle VoiceState = iota
	AwaitingQuestion
	Speaking
	Listening
	Submitting
	Closing
	Ended
)

var stateNames = [...]string{"idle", "awaiting_question", "speaking", "listening", "submitting", "closing", "ended"}

func (s VoiceState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

type InputMode int

const (
	VoiceMode InputMode = iota
	TextMode
)

func (m InputMode) String() string {
	if m == TextMode {
		return "text"
	}
	return "voice"
}

const (
	FallbackOpening  = "Tell me about yourself."
	FallbackFollowUp = "Thank you. Can you walk me through a challenge you faced recently and how you handled it?"
	FallbackClosing  = "Thank you for your time today. That concludes our interview, and your feedback report is being prepared."
)

// Events

type Event interface{ event() }

type StartEvent struct{}

// QuestionReadyEvent carries the answer to a RequestQuestion effect. Err
// set means the request failed and a canned line is used instead.
type QuestionReadyEvent struct {
	Text    string
	Err     error
	Opening bool
	Closing bool
}

type SafetyTimeoutEvent struct{}

type SpeechDoneEvent struct{}

type AnswerEvent struct{ Text string }

type InputErrorEvent struct{ Kind input.ErrorKind }

type EndEvent struct{}

type FinalizedEvent struct{ Outcome Outcome }

func (StartEvent) event()         {}
func (QuestionReadyEvent) event() {}
func (SafetyTimeoutEvent) event() {}
func (SpeechDoneEvent) event()    {}
func (AnswerEvent) event()        {}
func (InputErrorEvent) event()    {}
func (EndEvent) event()           {}
func (FinalizedEvent) event()     {}

// Effects

type Effect interface{ effect() }

type RequestQuestion struct {
	Messages []models.Message
	Opening  bool
	Closing  bool
}

type ArmSafetyTimeout struct{}

type DisarmSafetyTimeout struct{}

type Speak struct {
	Text    string
	Closing bool
}

type StartListening struct{}

type StopListening struct{}

// StopIO halts speech output and recognition.
type StopIO struct{}

// ScheduleEnd ends the session after the closing delay.
type ScheduleEnd struct{}

// Finalize requests the report and persists the session.
type Finalize struct{ Session models.InterviewSession }

type Notify struct{ Code, Message string }

type PresentOutcome struct{ Outcome Outcome }

func (RequestQuestion) effect()     {}
func (ArmSafetyTimeout) effect()    {}
func (DisarmSafetyTimeout) effect() {}
func (Speak) effect()               {}
func (StartListening) effect()      {}
func (StopListening) effect()       {}
func (StopIO) effect()              {}
func (ScheduleEnd) effect()         {}
func (Finalize) effect()            {}
func (Notify) effect()              {}
func (PresentOutcome) effect()      {}

// Machine is the complete state of one interview.
type Machine struct {
	State         VoiceState
	Mode          InputMode
	Messages      []models.Message
	QuestionCount int
	MaxQuestions  int
	IsClosing     bool

	Started        bool
	OpeningHandled bool
	EndScheduled   bool
	Ended          bool

	StartedAt time.Time
	EndedAt   time.Time
	Outcome   *Outcome
}

func NewMachine(maxQuestions int, mode InputMode) Machine {
	if maxQuestions <= 0 {
		maxQuestions = 5
	}
	return Machine{State: Idle, Mode: mode, MaxQuestions: maxQuestions}
}

// Snapshot is the persisted view of the machine.
func (m Machine) Snapshot() models.InterviewSession {
	s := models.InterviewSession{
		Messages:      append([]models.Message(nil), m.Messages...),
		QuestionCount: m.QuestionCount,
		IsClosing:     m.IsClosing,
		Ended:         m.Ended,
		Mode:          m.Mode.String(),
		StartedAt:     m.StartedAt,
	}
	if !m.EndedAt.IsZero() {
		at := m.EndedAt
		s.EndedAt = &at
		s.DurationSeconds = int64(m.EndedAt.Sub(m.StartedAt).Seconds())
	}
	return s
}

func (m Machine) acceptsAnswer() bool {
	if m.Ended {
		return false
	}
	return m.State == Listening || (m.State == Idle && m.Started)
}

// Step applies ev to m at time now.
func Step(m Machine, ev Event, now time.Time) (Machine, []Effect) {
	switch ev := ev.(type) {
	case StartEvent:
		if m.Started || m.Ended {
			return m, nil
		}
		m.Started = true
		m.StartedAt = now
		m.State = AwaitingQuestion
		return m, []Effect{RequestQuestion{Opening: true}, ArmSafetyTimeout{}}

	case SafetyTimeoutEvent:
		return m.openWith(FallbackOpening, now)

	case QuestionReadyEvent:
		if ev.Opening {
			text := strings.TrimSpace(ev.Text)
			if ev.Err != nil || text == "" {
				text = FallbackOpening
			}
			return m.openWith(text, now)
		}
		return m.onReply(ev, now)

	case SpeechDoneEvent:
		switch {
		case m.State == Speaking && m.Mode == VoiceMode:
			m.State = Listening
			return m, []Effect{StartListening{}}
		case m.State == Speaking:
			m.State = Idle
			return m, nil
		case m.State == Closing && !m.EndScheduled:
			m.EndScheduled = true
			return m, []Effect{ScheduleEnd{}}
		}
		return m, nil

	case AnswerEvent:
		text := strings.TrimSpace(ev.Text)
		if text == "" || !m.acceptsAnswer() {
			return m, nil
		}
		var effects []Effect
		if m.State == Listening {
			effects = append(effects, StopListening{})
		}
		m.Messages = appendMessage(m.Messages, models.MessageRoleUser, text, now)
		m.QuestionCount++
		if m.QuestionCount >= m.MaxQuestions {
			m.QuestionCount = m.MaxQuestions
			m.IsClosing = true
		}
		m.State = Submitting
		effects = append(effects, RequestQuestion{
			Messages: append([]models.Message(nil), m.Messages...),
			Closing:  m.IsClosing,
		})
		return m, effects

	case InputErrorEvent:
		if m.Ended {
			return m, nil
		}
		if !ev.Kind.Fatal() {
			return m, []Effect{Notify{Code: "recognition_error", Message: string(ev.Kind)}}
		}
		m.Mode = TextMode
		effects := []Effect{Notify{
			Code:    "microphone_unavailable",
			Message: "Microphone access was denied. You can keep going by typing your answers.",
		}}
		if m.State == Listening {
			m.State = Idle
			effects = append(effects, StopListening{})
		}
		return m, effects

	case EndEvent:
		if m.Ended {
			return m, nil
		}
		m.Ended = true
		m.EndedAt = now
		if m.StartedAt.IsZero() {
			m.StartedAt = now
		}
		m.State = Ended
		effects := []Effect{DisarmSafetyTimeout{}, StopIO{}}
		if len(m.Messages) == 0 {
			o := Outcome{Kind: OutcomeNone}
			m.Outcome = &o
			return m, append(effects, PresentOutcome{Outcome: o})
		}
		return m, append(effects, Finalize{Session: m.Snapshot()})

	case FinalizedEvent:
		if !m.Ended || m.Outcome != nil {
			return m, nil
		}
		o := ev.Outcome
		m.Outcome = &o
		if o.Kind == OutcomeError {
			// the transcript stays in memory; only the view resets
			m.State = Idle
		}
		return m, []Effect{PresentOutcome{Outcome: o}}
	}
	return m, nil
}

// openWith applies the opening question exactly once, whichever of the
// network reply and the safety timeout arrives first.
func (m Machine) openWith(text string, now time.Time) (Machine, []Effect) {
	if m.OpeningHandled || m.Ended || m.State != AwaitingQuestion {
		return m, nil
	}
	m.OpeningHandled = true
	m.Messages = appendMessage(m.Messages, models.MessageRoleAssistant, text, now)
	m.State = Speaking
	return m, []Effect{DisarmSafetyTimeout{}, Speak{Text: text}}
}

func (m Machine) onReply(ev QuestionReadyEvent, now time.Time) (Machine, []Effect) {
	if m.Ended || m.State != Submitting || ev.Closing != m.IsClosing {
		return m, nil
	}
	text := strings.TrimSpace(ev.Text)
	if ev.Closing {
		if ev.Err != nil || text == "" {
			text = FallbackClosing
		}
		m.Messages = appendMessage(m.Messages, models.MessageRoleAssistant, text, now)
		m.State = Closing
		return m, []Effect{Speak{Text: text, Closing: true}}
	}
	if ev.Err != nil || text == "" {
		text = FallbackFollowUp
	}
	m.Messages = appendMessage(m.Messages, models.MessageRoleAssistant, text, now)
	m.State = Speaking
	return m, []Effect{Speak{Text: text}}
}

// appendMessage never writes into a backing array shared with older
// Machine values.
func appendMessage(msgs []models.Message, role models.MessageRole, text string, at time.Time) []models.Message {
	return append(msgs[:len(msgs):len(msgs)], models.Message{Role: role, Content: text, Timestamp: at})
}
