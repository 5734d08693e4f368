package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain serves chat and embeddings through any langchaingo model
// (Gemini API key or OpenAI).
type LangChain struct {
	model llms.Model
	name  string
}

func NewGeminiAPI(ctx context.Context, apiKey, model, embeddingModel string) (*LangChain, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	opts := []googleai.Option{
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	}
	if embeddingModel != "" {
		opts = append(opts, googleai.WithDefaultEmbeddingModel(embeddingModel))
	}
	m, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &LangChain{model: m, name: "googleai"}, nil
}

func NewOpenAI(apiKey, model, embeddingModel string) (*LangChain, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if embeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(embeddingModel))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return &LangChain{model: m, name: "openai"}, nil
}

func (l *LangChain) Chat(ctx context.Context, req ChatRequest) (string, error) {
	msgs := make([]llms.MessageContent, 0, len(req.Messages)+2)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, t := range Turns(req.Messages) {
		role := llms.ChatMessageTypeHuman
		if t.Model {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, t.Text))
	}

	var opts []llms.CallOption
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(float64(req.Temperature)))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := l.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("%s: empty response", l.name)
	}
	return resp.Choices[0].Content, nil
}

type embeddingModel interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

func (l *LangChain) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em, ok := l.model.(embeddingModel)
	if !ok {
		return nil, fmt.Errorf("%s: embeddings not supported", l.name)
	}
	return em.CreateEmbedding(ctx, texts)
}

func (l *LangChain) Close() error {
	if c, ok := l.model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
