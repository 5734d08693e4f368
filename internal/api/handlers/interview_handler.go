package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/config"
	"github.com/yoockh/jobdance/internal/cache"
	"github.com/yoockh/jobdance/internal/gateway"
	"github.com/yoockh/jobdance/internal/interview"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/services"
	"github.com/yoockh/jobdance/internal/speech/input"
	"github.com/yoockh/jobdance/internal/speech/output"
	"github.com/yoockh/jobdance/internal/workers"
	"k8s.io/utils/clock"
)

const (
	wsReadLimit  = 4 << 20
	wsReadWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

type InterviewDeps struct {
	Gateway  *gateway.Gateway
	Sessions services.SessionService
	Reports  services.ReportService
	Profiles services.ProfileService

	// server-side recognition; all nil when disabled
	Chunks services.ChunkService
	Redis  *redis.Client
	Bus    cache.Bus
	Stream string

	Audio  AudioStore // optional
	Config config.App
	Clock  clock.WithDelayedExecution
	Log    logrus.FieldLogger
}

type InterviewHandler struct {
	d        InterviewDeps
	upgrader websocket.Upgrader

	mu       sync.Mutex
	live     map[*wsConn]struct{}
	draining bool
	wg       sync.WaitGroup
}

func NewInterviewHandler(d InterviewDeps) *InterviewHandler {
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	allowed := map[string]struct{}{}
	for _, o := range d.Config.CORSOrigins {
		allowed[o] = struct{}{}
	}
	return &InterviewHandler{
		d:    d,
		live: map[*wsConn]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

type clientMsg struct {
	Type string `json:"type"`

	Mode     string                 `json:"mode"`
	Metadata models.SessionMetadata `json:"metadata"`

	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
	ID      string `json:"id"`

	ChunkIndex  int64  `json:"chunk_index"`
	AudioBase64 string `json:"audio_base64"`
	AudioURL    string `json:"audio_url"`
	Format      string `json:"format"`
	Language    string `json:"language"`
}

// session is the server half of one interview socket.
type session struct {
	id       string
	userID   string
	client   *interviewClient
	detector *input.Detector
	ctrl     *interview.Controller
	cancel   context.CancelFunc
	log      logrus.FieldLogger
}

// Interview upgrades to the interview WebSocket. One socket carries one
// interview; the first "start" message begins it.
func (h *InterviewHandler) Interview(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsReadLimit)

	conn := &wsConn{c: ws}
	if !h.track(conn) {
		conn.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.untrack(conn)

	sessionID := uuid.NewString()
	log := h.d.Log.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID})
	client := newInterviewClient(conn, sessionID, h.d.Audio, log)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go h.keepAlive(ctx, conn)

	var s *session
	defer func() {
		if s != nil {
			h.finish(s)
		}
	}()

	_ = ws.SetReadDeadline(time.Now().Add(wsReadWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadWait))

		var msg clientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			client.send(serverMsg{Type: "error", Code: "INVALID_ARGUMENT", Message: "invalid json"})
			continue
		}

		if msg.Type == "start" {
			if s == nil {
				s = h.begin(ctx, sessionID, userID, msg, client, log)
			}
			continue
		}
		if s == nil {
			client.send(serverMsg{Type: "error", Code: "FAILED_PRECONDITION", Message: "interview not started"})
			continue
		}
		h.dispatch(ctx, s, msg)
	}
}

func (h *InterviewHandler) begin(ctx context.Context, sessionID, userID string, msg clientMsg, client *interviewClient, log logrus.FieldLogger) *session {
	cfg := h.d.Config
	mode := interview.VoiceMode
	if strings.EqualFold(msg.Mode, "text") {
		mode = interview.TextMode
	}

	profile, err := h.d.Profiles.GetMe(ctx, userID)
	if err != nil {
		log.WithError(err).Info("interviewing without profile context")
	}

	s := &session{id: sessionID, userID: userID, client: client, log: log}
	s.detector = input.NewDetector(deviceRecognizer{c: client}, h.d.Clock, input.Config{
		SilenceWindow:  cfg.Interview.SilenceWindow,
		RestartSpacing: cfg.Interview.RestartSpacing,
	}, log)

	speaker := output.NewSpeaker(h.d.Gateway, client, output.Config{
		Voice:           cfg.TTSVoice,
		LoadTimeout:     cfg.Interview.TTSLoadTimeout,
		PlaybackTimeout: cfg.Interview.TTSPlaybackTimeout,
	}, log)

	deps := interview.Deps{
		AI:        h.d.Gateway,
		Speaker:   speaker,
		Store:     h.d.Sessions,
		Stash:     services.UserStash{Reports: h.d.Reports, UserID: userID},
		Presenter: client,
		Clock:     h.d.Clock,
		Log:       log,
	}
	if mode == interview.VoiceMode {
		deps.Listener = s.detector
	}

	s.ctrl = interview.New(interview.Config{
		SessionID:       sessionID,
		UserID:          userID,
		Profile:         profile,
		Metadata:        msg.Metadata,
		Mode:            mode,
		MaxQuestions:    cfg.Interview.MaxQuestions,
		SafetyTimeout:   cfg.Interview.SafetyTimeout,
		QuestionTimeout: cfg.Interview.QuestionTimeout,
		ClosingDelay:    cfg.Interview.ClosingDelay,
		ReportTimeout:   cfg.Interview.ReportTimeout,
		PersistTimeout:  cfg.Interview.PersistTimeout,
	}, deps)

	// the controller outlives the socket long enough to finalize
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go func() { _ = s.ctrl.Run(runCtx) }()

	if h.d.Bus != nil {
		go h.relayTranscripts(ctx, s)
	}

	log.WithField("mode", mode.String()).Info("interview started")
	s.ctrl.Start()
	return s
}

func (h *InterviewHandler) dispatch(ctx context.Context, s *session, msg clientMsg) {
	switch msg.Type {
	case "answer":
		s.ctrl.SubmitAnswer(msg.Text)

	case "transcript":
		s.detector.OnTranscript(input.TranscriptEvent{Text: msg.Text, IsInterim: !msg.IsFinal})

	case "recognition_end":
		s.detector.OnEnd()

	case "recognition_error":
		s.detector.OnError(input.ErrorKind(msg.Error))

	case "stop_answer":
		s.detector.Flush()

	case "audio_chunk":
		h.enqueueChunk(ctx, s, msg)

	case "playback_done", "playback_failed", "local_done", "local_unavailable":
		s.client.resolve(msg.ID, ackError(msg.Type, msg.Error))

	case "end":
		s.ctrl.End()

	default:
		s.client.send(serverMsg{Type: "error", Code: "INVALID_ARGUMENT", Message: "unknown message type"})
	}
}

func (h *InterviewHandler) enqueueChunk(ctx context.Context, s *session, msg clientMsg) {
	if h.d.Chunks == nil || h.d.Redis == nil {
		s.client.send(serverMsg{Type: "error", Code: "UNAVAILABLE", Message: "server speech recognition is disabled"})
		return
	}

	var b64, url *string
	if msg.AudioBase64 != "" {
		b64 = &msg.AudioBase64
	}
	if msg.AudioURL != "" {
		url = &msg.AudioURL
	}
	if _, err := h.d.Chunks.InsertAudioChunk(ctx, s.id, msg.ChunkIndex, msg.Language, url, b64); err != nil {
		s.client.send(serverMsg{Type: "error", Code: "INVALID_ARGUMENT", Message: err.Error()})
		return
	}

	job := workers.ChunkJob{
		SessionID:   s.id,
		ChunkIndex:  msg.ChunkIndex,
		Language:    msg.Language,
		Format:      msg.Format,
		AudioBase64: msg.AudioBase64,
		AudioURL:    msg.AudioURL,
		IsFinal:     msg.IsFinal,
	}
	if err := workers.Enqueue(ctx, h.d.Redis, h.d.Stream, job); err != nil {
		s.log.WithError(err).Warn("audio chunk enqueue failed")
		s.client.send(serverMsg{Type: "error", Code: "UNAVAILABLE", Message: "failed to enqueue audio"})
	}
}

// relayTranscripts feeds server-side recognition results into the detector.
func (h *InterviewHandler) relayTranscripts(ctx context.Context, s *session) {
	msgs, closeFn := h.d.Bus.Subscribe(ctx, cache.TranscriptChannel(s.id))
	defer closeFn()

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-msgs:
			if !ok {
				return
			}
			var m workers.TranscriptMessage
			if err := json.Unmarshal(b, &m); err != nil {
				continue
			}
			switch m.Type {
			case "stt_result":
				s.detector.OnTranscript(input.TranscriptEvent{Text: m.Text, IsInterim: !m.IsFinal})
			case "stt_error":
				s.detector.OnError(input.ErrNetwork)
			}
		}
	}
}

func (h *InterviewHandler) track(conn *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.live[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *InterviewHandler) untrack(conn *wsConn) {
	h.mu.Lock()
	delete(h.live, conn)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every open interview socket and waits until their
// sessions have finalized or ctx is done. http.Server.Shutdown does not
// wait for hijacked connections, so call this after it.
func (h *InterviewHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	conns := make([]*wsConn, 0, len(h.live))
	for conn := range h.live {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish ends the interview when the socket closes and waits for the
// outcome to be reconciled before releasing the controller.
func (h *InterviewHandler) finish(s *session) {
	s.detector.Stop()
	s.ctrl.End()

	cfg := h.d.Config.Interview
	grace := cfg.ReportTimeout + cfg.PersistTimeout + 5*time.Second
	select {
	case <-s.ctrl.Done():
	case <-time.After(grace):
		s.log.Warn("interview did not finalize before grace period")
	}
	s.cancel()
}

func (h *InterviewHandler) keepAlive(ctx context.Context, conn *wsConn) {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.ping(); err != nil {
				_ = conn.c.Close()
				return
			}
		}
	}
}
