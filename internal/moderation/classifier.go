package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Provider names accepted by NewClassifier.
const (
	ProviderLLM              = "llm"
	ProviderOpenAIModeration = "openai-moderation"
)

// ClassifierConfig configures the OpenAI-backed classifiers.
type ClassifierConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string

	// RateLimit is requests per second; Burst the bucket size.
	RateLimit float64
	Burst     int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient openai.HTTPDoer
}

// NewClassifier builds the classifier named by cfg.Provider.
func NewClassifier(cfg ClassifierConfig) (Classifier, error) {
	client := newOpenAIClient(cfg)
	limiter := newLimiter(cfg)

	switch cfg.Provider {
	case "", ProviderLLM:
		model := cfg.Model
		if model == "" {
			model = openai.GPT4oMini
		}
		return &LLMClassifier{client: client, model: model, limiter: limiter}, nil
	case ProviderOpenAIModeration:
		model := cfg.Model
		if model == "" || !strings.Contains(model, "moderation") {
			model = openai.ModerationOmniLatest
		}
		return &OpenAIModerationClassifier{client: client, model: model, limiter: limiter}, nil
	default:
		return nil, fmt.Errorf("unknown moderation provider %q", cfg.Provider)
	}
}

func newOpenAIClient(cfg ClassifierConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(oc)
}

func newLimiter(cfg ClassifierConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

const classifierPrompt = `You are a content moderation classifier. Score the user's message for each category with a probability between 0 and 1.
Categories:
- toxicity: insults, hate, threats, violent or demeaning language
- harassment: targeted abuse, bullying or intimidation of a person
- sexual_content: sexually explicit or suggestive material
- spam: advertising, scams, repeated or meaningless promotional text
Respond with only a JSON object of the form {"toxicity": 0.0, "harassment": 0.0, "sexual_content": 0.0, "spam": 0.0}.`

// LLMClassifier scores text with a chat model in JSON mode.
type LLMClassifier struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Scores, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Scores{}, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return Scores{}, fmt.Errorf("classifier request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Scores{}, fmt.Errorf("%w: no choices", ErrUnparsableScores)
	}
	return parseScores(resp.Choices[0].Message.Content)
}

// parseScores requires all four categories to be present.
func parseScores(content string) (Scores, error) {
	var raw struct {
		Toxicity      *float64 `json:"toxicity"`
		Harassment    *float64 `json:"harassment"`
		SexualContent *float64 `json:"sexual_content"`
		Spam          *float64 `json:"spam"`
	}
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return Scores{}, fmt.Errorf("%w: %v", ErrUnparsableScores, err)
	}
	if raw.Toxicity == nil || raw.Harassment == nil || raw.SexualContent == nil || raw.Spam == nil {
		return Scores{}, fmt.Errorf("%w: missing category", ErrUnparsableScores)
	}
	s := Scores{
		Toxicity:      *raw.Toxicity,
		Harassment:    *raw.Harassment,
		SexualContent: *raw.SexualContent,
		Spam:          *raw.Spam,
	}
	return s, s.Validate()
}

// OpenAIModerationClassifier maps the OpenAI moderation endpoint onto the
// four categories. The endpoint has no spam category, so Spam is always 0.
type OpenAIModerationClassifier struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// Classify implements Classifier.
func (c *OpenAIModerationClassifier) Classify(ctx context.Context, text string) (Scores, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Scores{}, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{Input: text, Model: c.model})
	if err != nil {
		return Scores{}, fmt.Errorf("moderation request: %w", err)
	}
	if len(resp.Results) == 0 {
		return Scores{}, fmt.Errorf("%w: no results", ErrUnparsableScores)
	}

	cs := resp.Results[0].CategoryScores
	return Scores{
		Toxicity:      maxScore(cs.Hate, cs.HateThreatening, cs.Violence, cs.ViolenceGraphic),
		Harassment:    maxScore(cs.Harassment, cs.HarassmentThreatening),
		SexualContent: maxScore(cs.Sexual, cs.SexualMinors),
	}, nil
}

func maxScore(scores ...float32) float64 {
	var m float32
	for _, s := range scores {
		m = max(m, s)
	}
	return float64(m)
}
