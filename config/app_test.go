package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppDefaults(t *testing.T) {
	t.Setenv("MAX_QUESTIONS", "")
	t.Setenv("SILENCE_WINDOW", "")
	t.Setenv("QUESTION_TIMEOUT", "")

	app := LoadApp()
	assert.Equal(t, 5, app.Interview.MaxQuestions)
	assert.Equal(t, 35*time.Second, app.Interview.SafetyTimeout)
	assert.Equal(t, 30*time.Second, app.Interview.QuestionTimeout)
	assert.Equal(t, 5*time.Second, app.Interview.SilenceWindow)
	assert.Equal(t, 200*time.Millisecond, app.Interview.RestartSpacing)
	assert.Equal(t, time.Second, app.Queue.BaseSpacing)
	assert.Equal(t, "vertex", app.LLMProvider)
}

func TestLoadAppOverrides(t *testing.T) {
	t.Setenv("MAX_QUESTIONS", "3")
	t.Setenv("SILENCE_WINDOW", "2500ms")
	t.Setenv("SAFETY_TIMEOUT", "20")
	t.Setenv("QUESTION_TIMEOUT", "12s")
	t.Setenv("QUEUE_GROWTH", "2")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LLM_PROVIDER", "OpenAI")

	app := LoadApp()
	assert.Equal(t, 3, app.Interview.MaxQuestions)
	assert.Equal(t, 2500*time.Millisecond, app.Interview.SilenceWindow)
	assert.Equal(t, 20*time.Second, app.Interview.SafetyTimeout)
	assert.Equal(t, 12*time.Second, app.Interview.QuestionTimeout)
	assert.Equal(t, 2.0, app.Queue.Growth)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, app.CORSOrigins)
	assert.Equal(t, "openai", app.LLMProvider)
}

func TestEnvDurationRejectsGarbage(t *testing.T) {
	t.Setenv("X_DUR", "soon")
	assert.Equal(t, time.Minute, envDuration("X_DUR", time.Minute))
}
