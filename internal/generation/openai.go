package generation

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/lorekeeper/internal/prompt"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIGenerator calls an OpenAI-compatible chat endpoint through langchaingo.
type OpenAIGenerator struct {
	llm         llms.Model
	maxTokens   int
	temperature float64
}

// NewOpenAIGenerator builds the langchaingo client from cfg.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	token := cfg.APIKey
	if token == "" {
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return NewOpenAIGeneratorWithModel(llm, cfg), nil
}

// NewOpenAIGeneratorWithModel uses an existing langchaingo model.
func NewOpenAIGeneratorWithModel(llm llms.Model, cfg Config) *OpenAIGenerator {
	return &OpenAIGenerator{llm: llm, maxTokens: cfg.MaxTokens, temperature: cfg.Temperature}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(g.temperature)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	resp, err := g.llm.GenerateContent(ctx, toMessageContent(p), opts...)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func toMessageContent(p prompt.Prompt) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(p.Messages)+1)
	if p.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, p.System))
	}
	for _, m := range p.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == prompt.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	return msgs
}
