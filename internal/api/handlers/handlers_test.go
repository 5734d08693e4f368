package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/jobdance/config"
	"github.com/yoockh/jobdance/internal/gateway"
	"github.com/yoockh/jobdance/internal/interview"
	"github.com/yoockh/jobdance/internal/logger"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/providers/llm"
	"github.com/yoockh/jobdance/internal/services"
	"github.com/yoockh/jobdance/internal/speech/output"
	"github.com/yoockh/jobdance/internal/utils"
	"k8s.io/utils/clock"
)

func init() { gin.SetMode(gin.TestMode) }

type scriptedLLM struct{}

func (scriptedLLM) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	if req.JSON {
		return `{"overall_score": 81, "summary": "Clear answers.", "recommendation": "hire", "scores": []}`, nil
	}
	return "What did you ship last quarter?", nil
}

func (scriptedLLM) Close() error { return nil }

type memSessions struct {
	mu    sync.Mutex
	saved map[string]models.InterviewSession
}

func (m *memSessions) Save(_ context.Context, s *models.InterviewSession) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]models.InterviewSession{}
	}
	m.saved[s.SessionID] = *s
	return s.SessionID, nil
}

func (m *memSessions) Get(_ context.Context, id string) (*models.InterviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.saved[id]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "memSessions.Get", "session not found", nil)
	}
	return &s, nil
}

func (m *memSessions) ListByUser(context.Context, string, int64) ([]models.InterviewSession, error) {
	return nil, nil
}

type memReports struct{ temp map[string]*services.TempReport }

func (m memReports) StashReport(_ context.Context, userID, sessionID string, r *models.Report) (string, error) {
	m.temp["k1"] = &services.TempReport{Key: "k1", UserID: userID, SessionID: sessionID, Report: r}
	return "k1", nil
}

func (m memReports) GetTemp(_ context.Context, key string) (*services.TempReport, error) {
	tr, ok := m.temp[key]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "memReports.GetTemp", "report expired or not found", nil)
	}
	return tr, nil
}

type noProfiles struct{}

func (noProfiles) GetMe(context.Context, string) (*models.Profile, error) {
	return nil, utils.E(utils.CodeNotFound, "noProfiles.GetMe", "profile not found", nil)
}

func (noProfiles) Upsert(context.Context, *models.Profile) error { return nil }

func withUser(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", id)
		c.Next()
	}
}

func TestInterviewSocketTextModeRunsToReport(t *testing.T) {
	sessions := &memSessions{}
	q := gateway.NewQueue(gateway.QueueConfig{MaxAttempts: 1}, clock.RealClock{}, logger.Discard())
	h := NewInterviewHandler(InterviewDeps{
		Gateway:  gateway.New(scriptedLLM{}, nil, q, 1, logger.Discard()),
		Sessions: sessions,
		Reports:  memReports{temp: map[string]*services.TempReport{}},
		Profiles: noProfiles{},
		Config: config.App{Interview: config.Interview{
			MaxQuestions:   1,
			SafetyTimeout:  5 * time.Second,
			ClosingDelay:   10 * time.Millisecond,
			ReportTimeout:  time.Second,
			PersistTimeout: time.Second,
		}},
		Log: logger.Discard(),
	})

	r := gin.New()
	r.GET("/ws/interview", withUser("u-1"), h.Interview)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/interview", nil)
	require.NoError(t, err)
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "mode": "text"}))

	var questions []string
	answered := false
	for {
		var m serverMsg
		require.NoError(t, ws.ReadJSON(&m))

		switch m.Type {
		case "question":
			questions = append(questions, m.Text)
		case "speak_local":
			// no built-in voice on this device
			require.NoError(t, ws.WriteJSON(map[string]any{"type": "local_unavailable", "id": m.ID}))
		case "state":
			if m.State == interview.Idle.String() && !answered {
				answered = true
				require.NoError(t, ws.WriteJSON(map[string]any{"type": "answer", "text": "I shipped the billing rewrite."}))
			}
		case "navigate":
			require.NotNil(t, m.Outcome)
			assert.Equal(t, interview.OutcomePermanent, m.Outcome.Kind)
			assert.True(t, strings.HasPrefix(m.Path, "/interview/report/"))
			assert.Empty(t, m.Warning)
			require.Len(t, questions, 2)

			sessions.mu.Lock()
			defer sessions.mu.Unlock()
			require.Len(t, sessions.saved, 1)
			for _, s := range sessions.saved {
				assert.Equal(t, "u-1", s.UserID)
				assert.Len(t, s.Messages, 3)
				assert.Equal(t, 81, s.Report.OverallScore)
				assert.Equal(t, "text", s.Mode)
			}
			return
		case "error":
			t.Fatalf("unexpected error message: %+v", m)
		}
	}
}

func TestShutdownFinalizesOpenInterviews(t *testing.T) {
	sessions := &memSessions{}
	q := gateway.NewQueue(gateway.QueueConfig{MaxAttempts: 1}, clock.RealClock{}, logger.Discard())
	h := NewInterviewHandler(InterviewDeps{
		Gateway:  gateway.New(scriptedLLM{}, nil, q, 5, logger.Discard()),
		Sessions: sessions,
		Reports:  memReports{temp: map[string]*services.TempReport{}},
		Profiles: noProfiles{},
		Config: config.App{Interview: config.Interview{
			MaxQuestions:   5,
			ReportTimeout:  time.Second,
			PersistTimeout: time.Second,
		}},
		Log: logger.Discard(),
	})

	r := gin.New()
	r.GET("/ws/interview", withUser("u-1"), h.Interview)
	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interview"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "mode": "text"}))

	for {
		var m serverMsg
		require.NoError(t, ws.ReadJSON(&m))
		if m.Type == "question" {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	sessions.mu.Lock()
	require.Len(t, sessions.saved, 1)
	for _, s := range sessions.saved {
		assert.Len(t, s.Messages, 1)
		assert.Equal(t, 81, s.Report.OverallScore)
	}
	sessions.mu.Unlock()

	for {
		var m serverMsg
		if err := ws.ReadJSON(&m); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			break
		}
	}

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	_ = late.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestInterviewSocketRejectsMessagesBeforeStart(t *testing.T) {
	h := NewInterviewHandler(InterviewDeps{Log: logger.Discard()})
	r := gin.New()
	r.GET("/ws/interview", withUser("u-1"), h.Interview)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/interview", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "answer", "text": "hi"}))
	var m serverMsg
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, "error", m.Type)
	assert.Equal(t, "FAILED_PRECONDITION", m.Code)
}

func TestTempReportIsOwnerOnly(t *testing.T) {
	reports := memReports{temp: map[string]*services.TempReport{
		"k1": {Key: "k1", UserID: "owner", SessionID: "s1", Report: &models.Report{OverallScore: 60}},
	}}
	h := NewSessionHandler(&memSessions{}, reports)

	for _, tc := range []struct {
		user, key string
		status    int
	}{
		{"owner", "k1", http.StatusOK},
		{"intruder", "k1", http.StatusForbidden},
		{"owner", "gone", http.StatusNotFound},
	} {
		r := gin.New()
		r.GET("/interview/reports/temp/:key", withUser(tc.user), h.TempReport)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/interview/reports/temp/"+tc.key, nil))

		assert.Equal(t, tc.status, w.Code, "%s/%s", tc.user, tc.key)
		if tc.status == http.StatusOK {
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "s1", body["session_id"])
		}
	}
}

func TestSessionGetForbidsOtherUsers(t *testing.T) {
	sessions := &memSessions{}
	_, _ = sessions.Save(context.Background(), &models.InterviewSession{SessionID: "s1", UserID: "owner"})
	h := NewSessionHandler(sessions, memReports{})

	r := gin.New()
	r.GET("/interview/sessions/:session_id", withUser("intruder"), h.Get)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/interview/sessions/s1", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAckError(t *testing.T) {
	assert.NoError(t, ackError("playback_done", ""))
	assert.NoError(t, ackError("local_done", ""))
	assert.ErrorIs(t, ackError("local_unavailable", ""), output.ErrLocalUnavailable)
	assert.EqualError(t, ackError("playback_failed", "NotAllowedError"), "NotAllowedError")
}

func TestCleanSkills(t *testing.T) {
	assert.Equal(t, []string{"Go", "SQL"}, cleanSkills([]string{" Go ", "", "go", "SQL"}))
}
