package llm

import (
	"context"
	"strings"

	"github.com/yoockh/jobdance/internal/models"
)

// ChatRequest is a single chat-completion call.
type ChatRequest struct {
	System      string
	Messages    []models.Message
	JSON        bool // ask the model for a JSON object
	Temperature float32
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Close() error
}

// Embedder is implemented by providers that can embed text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const kickoffTurn = "Please begin the interview."

// Turn is a provider-neutral chat turn; Model is true for assistant turns.
type Turn struct {
	Model bool
	Text  string
}

// Turns converts a transcript into the user-first, strictly alternating
// sequence chat APIs require. Adjacent same-side messages are merged and a
// synthetic user turn is prepended when the transcript opens with the
// assistant. The result always ends with a user turn.
func Turns(msgs []models.Message) []Turn {
	out := make([]Turn, 0, len(msgs)+2)
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		isModel := m.Role == models.MessageRoleAssistant
		if len(out) == 0 && isModel {
			out = append(out, Turn{Text: kickoffTurn})
		}
		if n := len(out); n > 0 && out[n-1].Model == isModel {
			out[n-1].Text += "\n\n" + text
			continue
		}
		out = append(out, Turn{Model: isModel, Text: text})
	}
	switch {
	case len(out) == 0:
		out = append(out, Turn{Text: kickoffTurn})
	case out[len(out)-1].Model:
		out = append(out, Turn{Text: "Continue."})
	}
	return out
}
