package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/providers/llm"
	"github.com/yoockh/jobdance/internal/providers/tts"
	"github.com/yoockh/jobdance/internal/utils"
)

type QuestionRequest struct {
	Messages  []models.Message
	Profile   *models.Profile
	IsClosing bool
}

type ReportRequest struct {
	Messages []models.Message
	Duration time.Duration
}

// Gateway routes every chat-completion and speech-synthesis call through
// one Queue.
type Gateway struct {
	llm            llm.Provider
	tts            tts.Synthesizer
	queue          *Queue
	log            logrus.FieldLogger
	totalQuestions int
}

func New(p llm.Provider, s tts.Synthesizer, q *Queue, totalQuestions int, log logrus.FieldLogger) *Gateway {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if totalQuestions <= 0 {
		totalQuestions = 5
	}
	return &Gateway{llm: p, tts: s, queue: q, log: log, totalQuestions: totalQuestions}
}

func (g *Gateway) Queue() *Queue { return g.queue }

// RequestQuestion returns the next interviewer line for the transcript. With
// IsClosing set it returns a closing statement instead of a question.
func (g *Gateway) RequestQuestion(ctx context.Context, req QuestionRequest) (string, error) {
	const op = "Gateway.RequestQuestion"

	msgs := req.Messages
	temp := float32(0.8)
	if req.IsClosing {
		msgs = append(append([]models.Message(nil), req.Messages...), models.Message{
			Role:    models.MessageRoleUser,
			Content: closingInstruction,
		})
		temp = 0.6
	}

	out, err := Run(ctx, g.queue, func(ctx context.Context) (string, error) {
		return g.llm.Chat(ctx, llm.ChatRequest{
			System:      interviewerSystem(req.Profile, g.totalQuestions),
			Messages:    msgs,
			Temperature: temp,
		})
	})
	if err != nil {
		return "", wrap(op, "question request failed", err)
	}

	text := cleanLine(out)
	if text == "" {
		return "", utils.E(utils.CodeUnavailable, op, "empty question", nil)
	}
	return text, nil
}

// RequestReport evaluates the transcript into a structured report.
func (g *Gateway) RequestReport(ctx context.Context, req ReportRequest) (*models.Report, error) {
	const op = "Gateway.RequestReport"

	if len(req.Messages) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "transcript is empty", nil)
	}

	var b strings.Builder
	if req.Duration > 0 {
		b.WriteString("Interview duration: ")
		b.WriteString(req.Duration.Round(time.Second).String())
		b.WriteString("\n\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(models.Transcript(req.Messages))

	raw, err := Run(ctx, g.queue, func(ctx context.Context) (string, error) {
		return g.llm.Chat(ctx, llm.ChatRequest{
			System:      reportPrompt,
			Messages:    []models.Message{{Role: models.MessageRoleUser, Content: b.String()}},
			JSON:        true,
			Temperature: 0.2,
		})
	})
	if err != nil {
		return nil, wrap(op, "report request failed", err)
	}

	rep, err := parseReport(raw)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "malformed report", err)
	}
	return rep, nil
}

// Synthesize renders text to MP3 audio with the given voice.
func (g *Gateway) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	const op = "Gateway.Synthesize"

	if g.tts == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "speech synthesis is not configured", nil)
	}
	audio, err := Run(ctx, g.queue, func(ctx context.Context) ([]byte, error) {
		return g.tts.Synthesize(ctx, text, voice)
	})
	if err != nil {
		return nil, wrap(op, "synthesis failed", err)
	}
	return audio, nil
}

func wrap(op, msg string, err error) error {
	switch {
	case IsRateLimited(err):
		return utils.E(utils.CodeRateLimited, op, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return utils.E(utils.CodeTimeout, op, msg, err)
	default:
		return utils.E(utils.CodeUnavailable, op, msg, err)
	}
}

// cleanLine strips speaker labels and wrapping quotes models sometimes add.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range []string{"Interviewer:", "interviewer:", "**Interviewer:**"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, p))
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

type reportPayload struct {
	OverallScore float64 `json:"overall_score"`
	Scores       []struct {
		Category string  `json:"category"`
		Score    float64 `json:"score"`
		Comment  string  `json:"comment"`
	} `json:"scores"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	Recommendation string   `json:"recommendation"`
	Summary        string   `json:"summary"`
}

func parseReport(raw string) (*models.Report, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var p reportPayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, err
	}
	if p.Summary == "" && p.Recommendation == "" && len(p.Scores) == 0 {
		return nil, errors.New("report has no content")
	}

	scale := p.scale()
	rep := &models.Report{
		OverallScore:   clampScore(p.OverallScore * scale),
		Strengths:      nonNil(p.Strengths),
		Weaknesses:     nonNil(p.Weaknesses),
		Recommendation: p.Recommendation,
		Summary:        p.Summary,
		GeneratedAt:    time.Now().UTC(),
	}
	for _, sc := range p.Scores {
		rep.Scores = append(rep.Scores, models.CategoryScore{
			Category: sc.Category,
			Score:    clampScore(sc.Score * scale),
			Comment:  sc.Comment,
		})
	}
	return rep, nil
}

// scale is 10 when every score in the report sits on a 0-10 scale, which
// some models answer with despite the prompt.
func (p reportPayload) scale() float64 {
	top := p.OverallScore
	for _, sc := range p.Scores {
		if sc.Score > top {
			top = sc.Score
		}
	}
	if top > 0 && top <= 10 {
		return 10
	}
	return 1
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
