package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/jobdance/internal/logger"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/providers/llm"
	"github.com/yoockh/jobdance/internal/utils"
	"k8s.io/utils/clock"
)

type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	reqs    []llm.ChatRequest
}

func (f *fakeLLM) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeLLM) Close() error { return nil }

type fakeTTS struct {
	audio []byte
	err   error
	voice string
}

func (f *fakeTTS) Synthesize(_ context.Context, _ string, voice string) ([]byte, error) {
	f.voice = voice
	return f.audio, f.err
}

func (f *fakeTTS) Close() error { return nil }

func fastQueue() *Queue {
	return NewQueue(QueueConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, clock.RealClock{}, logger.Discard())
}

func transcript() []models.Message {
	return []models.Message{
		{Role: models.MessageRoleAssistant, Content: "Tell me about yourself."},
		{Role: models.MessageRoleUser, Content: "I am a backend engineer."},
	}
}

func TestRequestQuestionUsesProfileContext(t *testing.T) {
	p := &fakeLLM{replies: []string{"Interviewer: What drew you to distributed systems?"}}
	g := New(p, nil, fastQueue(), 5, logger.Discard())

	q, err := g.RequestQuestion(context.Background(), QuestionRequest{
		Messages: transcript(),
		Profile:  &models.Profile{FullName: "Sam", TargetRole: "Backend Engineer", Skills: []string{"Go", "Postgres"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "What drew you to distributed systems?", q)

	require.Len(t, p.reqs, 1)
	assert.Contains(t, p.reqs[0].System, "Name: Sam")
	assert.Contains(t, p.reqs[0].System, "Skills: Go, Postgres")
	assert.Len(t, p.reqs[0].Messages, 2)
}

func TestRequestQuestionWithoutProfileIsGeneric(t *testing.T) {
	p := &fakeLLM{replies: []string{"Tell me about yourself."}}
	g := New(p, nil, fastQueue(), 5, logger.Discard())

	_, err := g.RequestQuestion(context.Background(), QuestionRequest{})
	require.NoError(t, err)
	assert.Contains(t, p.reqs[0].System, "general behavioural interview")
}

func TestRequestQuestionClosingAddsInstruction(t *testing.T) {
	p := &fakeLLM{replies: []string{"Thank you, that concludes our interview."}}
	g := New(p, nil, fastQueue(), 5, logger.Discard())

	msgs := transcript()
	out, err := g.RequestQuestion(context.Background(), QuestionRequest{Messages: msgs, IsClosing: true})
	require.NoError(t, err)
	assert.Equal(t, "Thank you, that concludes our interview.", out)

	sent := p.reqs[0].Messages
	require.Len(t, sent, 3)
	assert.Equal(t, closingInstruction, sent[2].Content)
	assert.Len(t, msgs, 2, "caller transcript must not be modified")
}

func TestRequestQuestionRateLimitedSurfacesCode(t *testing.T) {
	p := &fakeLLM{err: ErrRateLimited}
	g := New(p, nil, fastQueue(), 5, logger.Discard())

	_, err := g.RequestQuestion(context.Background(), QuestionRequest{Messages: transcript()})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeRateLimited))
	assert.Len(t, p.reqs, 2)
}

func TestRequestReportParsesFencedJSON(t *testing.T) {
	raw := "```json\n{\"overall_score\": 75, \"scores\": [{\"category\": \"Communication\", \"score\": 82, \"comment\": \"clear\"}], " +
		"\"strengths\": [\"concise\"], \"recommendation\": \"Use STAR.\", \"summary\": \"Solid.\"}\n```"
	p := &fakeLLM{replies: []string{raw}}
	g := New(p, nil, fastQueue(), 5, logger.Discard())

	rep, err := g.RequestReport(context.Background(), ReportRequest{Messages: transcript(), Duration: 4 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 75, rep.OverallScore)
	require.Len(t, rep.Scores, 1)
	assert.Equal(t, 82, rep.Scores[0].Score)
	assert.Equal(t, []string{"concise"}, rep.Strengths)
	assert.Equal(t, []string{}, rep.Weaknesses)
	assert.Equal(t, "Use STAR.", rep.Recommendation)

	assert.True(t, p.reqs[0].JSON)
	assert.Contains(t, p.reqs[0].Messages[0].Content, "Interview duration: 4m0s")
	assert.Contains(t, p.reqs[0].Messages[0].Content, "Candidate: I am a backend engineer.")
}

func TestReportScaleIsDecidedPerReport(t *testing.T) {
	tenPoint, err := parseReport(`{"overall_score": 7.5, "scores": [{"category": "Confidence", "score": 8}], "summary": "ok"}`)
	require.NoError(t, err)
	assert.Equal(t, 75, tenPoint.OverallScore)
	assert.Equal(t, 80, tenPoint.Scores[0].Score)

	hundred, err := parseReport(`{"overall_score": 64, "scores": [{"category": "Confidence", "score": 8}, {"category": "Relevance", "score": 90}], "summary": "ok"}`)
	require.NoError(t, err)
	assert.Equal(t, 64, hundred.OverallScore)
	assert.Equal(t, 8, hundred.Scores[0].Score)
	assert.Equal(t, 90, hundred.Scores[1].Score)

	clamped, err := parseReport(`{"overall_score": 140, "scores": [{"category": "Confidence", "score": -3}], "summary": "ok"}`)
	require.NoError(t, err)
	assert.Equal(t, 100, clamped.OverallScore)
	assert.Equal(t, 0, clamped.Scores[0].Score)
}

func TestResumeIsTruncatedOnRuneBoundary(t *testing.T) {
	cv := strings.Repeat("a", maxCVChars-1) + "é and more"
	out := profileContext(&models.Profile{CVText: cv})

	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("a", maxCVChars-1)))

	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "h", truncate("héllo", 2))
	assert.Equal(t, "", truncate("é", 1))
}

func TestRequestReportRejectsGarbage(t *testing.T) {
	p := &fakeLLM{replies: []string{"I cannot evaluate this."}}
	g := New(p, nil, fastQueue(), 5, logger.Discard())

	_, err := g.RequestReport(context.Background(), ReportRequest{Messages: transcript()})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

func TestRequestReportEmptyTranscript(t *testing.T) {
	p := &fakeLLM{}
	g := New(p, nil, fastQueue(), 5, logger.Discard())

	_, err := g.RequestReport(context.Background(), ReportRequest{})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	assert.Empty(t, p.reqs)
}

func TestSynthesize(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		g := New(&fakeLLM{}, nil, fastQueue(), 5, logger.Discard())
		_, err := g.Synthesize(context.Background(), "hello", "en-US-Neural2-F")
		assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	})

	t.Run("passes voice through", func(t *testing.T) {
		s := &fakeTTS{audio: []byte{0xff, 0xfb}}
		g := New(&fakeLLM{}, s, fastQueue(), 5, logger.Discard())
		audio, err := g.Synthesize(context.Background(), "hello", "en-GB-Neural2-A")
		require.NoError(t, err)
		assert.Equal(t, []byte{0xff, 0xfb}, audio)
		assert.Equal(t, "en-GB-Neural2-A", s.voice)
	})
}
