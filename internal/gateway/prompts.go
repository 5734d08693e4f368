package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yoockh/jobdance/internal/models"
)

const interviewerPrompt = `You are a professional job interviewer running a mock interview.
Ask exactly one question per turn and keep it to one or two sentences.
React briefly to the candidate's previous answer before asking the next question when it helps.
Do not number questions, do not use markdown, and never answer on the candidate's behalf.
The interview has %d questions in total.`

const closingInstruction = `The interview is now over. Do not ask another question.
Thank the candidate by name if you know it, give one sentence of encouragement, and say goodbye.
Keep it under three sentences.`

const reportPrompt = `You are an expert interview coach. Evaluate the mock interview transcript below.
Respond with a single JSON object and nothing else, using this shape:
{
  "overall_score": 0-100,
  "scores": [{"category": "Communication|Technical Depth|Problem Solving|Confidence|Relevance", "score": 0-100, "comment": "one sentence"}],
  "strengths": ["..."],
  "weaknesses": ["..."],
  "recommendation": "two or three sentences of concrete advice",
  "summary": "two sentences summarising the performance"
}`

const maxCVChars = 4000

func interviewerSystem(p *models.Profile, totalQuestions int) string {
	var b strings.Builder
	fmt.Fprintf(&b, interviewerPrompt, totalQuestions)

	ctx := profileContext(p)
	if ctx == "" {
		b.WriteString("\n\nNo candidate profile is available; run a general behavioural interview.")
		return b.String()
	}
	b.WriteString("\n\nCandidate profile:\n")
	b.WriteString(ctx)
	return b.String()
}

func profileContext(p *models.Profile) string {
	if p == nil {
		return ""
	}
	var lines []string
	if p.FullName != "" {
		lines = append(lines, "Name: "+p.FullName)
	}
	if p.TargetRole != "" {
		lines = append(lines, "Target role: "+p.TargetRole)
	}
	if len(p.Skills) > 0 {
		lines = append(lines, "Skills: "+strings.Join(p.Skills, ", "))
	}
	if exp := compactJSON(p.Experience); exp != "" {
		lines = append(lines, "Experience: "+exp)
	}
	if edu := compactJSON(p.Education); edu != "" {
		lines = append(lines, "Education: "+edu)
	}
	if cv := strings.TrimSpace(p.CVText); cv != "" {
		lines = append(lines, "Resume:\n"+truncate(cv, maxCVChars))
	}
	return strings.Join(lines, "\n")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func compactJSON(raw []byte) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	out, _ := json.Marshal(v)
	if s := string(out); s != "{}" && s != "[]" {
		return s
	}
	return ""
}
