package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/internal/interview"
	"github.com/yoockh/jobdance/internal/speech/output"
	"github.com/yoockh/jobdance/internal/storage"
)

// AudioStore keeps synthesized speech somewhere the device can fetch it.
type AudioStore interface {
	storage.Uploader
	storage.Signer
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// close sends a close frame and drops the connection, which unblocks the
// read loop.
func (w *wsConn) close(code int, text string) {
	w.mu.Lock()
	_ = w.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	w.mu.Unlock()
	_ = w.c.Close()
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

type serverMsg struct {
	Type string `json:"type"`

	ID          string `json:"id,omitempty"`
	State       string `json:"state,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Text        string `json:"text,omitempty"`
	Closing     bool   `json:"closing,omitempty"`
	URL         string `json:"url,omitempty"`
	Path        string `json:"path,omitempty"`
	Warning     string `json:"warning,omitempty"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`

	Outcome *interview.Outcome `json:"outcome,omitempty"`
}

// interviewClient is the browser tab as seen by one interview: it plays
// audio, runs the recognizer on request, and renders controller output.
type interviewClient struct {
	conn      *wsConn
	sessionID string
	audio     AudioStore // nil sends audio inline
	log       logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]chan error
}

func newInterviewClient(conn *wsConn, sessionID string, audio AudioStore, log logrus.FieldLogger) *interviewClient {
	return &interviewClient{
		conn:      conn,
		sessionID: sessionID,
		audio:     audio,
		log:       log,
		pending:   map[string]chan error{},
	}
}

func (c *interviewClient) send(m serverMsg) {
	if err := c.conn.writeJSON(m); err != nil {
		c.log.WithError(err).WithField("type", m.Type).Debug("ws write failed")
	}
}

// await sends m under a fresh id and blocks until the device acknowledges
// it or ctx ends.
func (c *interviewClient) await(ctx context.Context, m serverMsg) error {
	m.ID = uuid.NewString()
	ack := make(chan error, 1)

	c.mu.Lock()
	c.pending[m.ID] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, m.ID)
		c.mu.Unlock()
	}()

	if err := c.conn.writeJSON(m); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *interviewClient) resolve(id string, err error) {
	c.mu.Lock()
	ack, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ack <- err:
	default:
	}
}

// output.Player

func (c *interviewClient) PlayAudio(ctx context.Context, audio []byte) error {
	m := serverMsg{Type: "play_audio"}
	if c.audio != nil {
		obj := storage.AudioObject(c.sessionID, uuid.NewString())
		if _, err := c.audio.Upload(ctx, obj, "audio/mpeg", bytes.NewReader(audio)); err == nil {
			m.URL, err = c.audio.SignedGetURL(ctx, obj, 15*time.Minute)
			if err != nil {
				m.URL = ""
			}
		} else {
			c.log.WithError(err).Warn("audio upload failed, sending inline")
		}
	}
	if m.URL == "" {
		m.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
	}
	return c.await(ctx, m)
}

func (c *interviewClient) SpeakLocal(ctx context.Context, text string) error {
	return c.await(ctx, serverMsg{Type: "speak_local", Text: text})
}

// interview.Presenter

func (c *interviewClient) State(s interview.VoiceState, mode interview.InputMode) {
	c.send(serverMsg{Type: "state", State: s.String(), Mode: mode.String()})
}

func (c *interviewClient) Question(text string, closing bool) {
	c.send(serverMsg{Type: "question", Text: text, Closing: closing})
}

func (c *interviewClient) Interim(text string) {
	c.send(serverMsg{Type: "interim", Text: text})
}

func (c *interviewClient) Notice(code, message string) {
	c.send(serverMsg{Type: "notice", Code: code, Message: message})
}

func (c *interviewClient) Outcome(o interview.Outcome) {
	switch o.Kind {
	case interview.OutcomeError:
		c.send(serverMsg{Type: "error", Code: string(o.Kind), Message: o.Message, Outcome: &o})
	case interview.OutcomeNone:
		c.send(serverMsg{Type: "navigate", Outcome: &o})
	default:
		c.send(serverMsg{Type: "navigate", Path: o.Path, Warning: o.Warning, Outcome: &o})
	}
}

// deviceRecognizer drives the browser's speech recognizer.
type deviceRecognizer struct{ c *interviewClient }

func (r deviceRecognizer) Start() error {
	return r.c.conn.writeJSON(serverMsg{Type: "listen"})
}

func (r deviceRecognizer) Stop() { r.c.send(serverMsg{Type: "stop_listening"}) }

// ackError maps a device failure report to a Player error.
func ackError(msgType, detail string) error {
	switch msgType {
	case "playback_done", "local_done":
		return nil
	case "local_unavailable":
		return output.ErrLocalUnavailable
	default:
		if detail == "" {
			detail = msgType
		}
		return errors.New(detail)
	}
}
