package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/lorekeeper/internal/prompt"
	"github.com/google/generative-ai-go/genai"
	genaiopt "google.golang.org/api/option"
)

// GoogleGenerator calls Gemini through a chat session seeded with history.
type GoogleGenerator struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// NewGoogleGenerator dials the Gemini API.
func NewGoogleGenerator(ctx context.Context, cfg Config) (*GoogleGenerator, error) {
	opts := []genaiopt.ClientOption{genaiopt.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, genaiopt.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleGenerator{
		client:      client,
		model:       cfg.Model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
	}, nil
}

// Close releases the underlying client.
func (g *GoogleGenerator) Close() error {
	return g.client.Close()
}

// Generate implements Generator.
func (g *GoogleGenerator) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	history, last, err := splitForChat(p.Messages)
	if err != nil {
		return "", err
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)
	if g.maxTokens > 0 {
		model.SetMaxOutputTokens(g.maxTokens)
	}
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}

	cs := model.StartChat()
	cs.History = history
	rsp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", fmt.Errorf("google generate: %w", err)
	}
	if len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// splitForChat separates the trailing user message from the history that
// seeds the session. Gemini names the assistant role "model".
func splitForChat(turns []prompt.Turn) ([]*genai.Content, string, error) {
	if len(turns) == 0 || turns[len(turns)-1].Role != prompt.RoleUser {
		return nil, "", errors.New("prompt must end with a user message")
	}
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, t := range turns[:len(turns)-1] {
		role := "user"
		if t.Role == prompt.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return history, turns[len(turns)-1].Content, nil
}
