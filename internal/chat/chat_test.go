package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/moderation"
	"github.com/fyrsmithlabs/lorekeeper/internal/prompt"
	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
	"github.com/fyrsmithlabs/lorekeeper/internal/telemetry"
	"github.com/fyrsmithlabs/lorekeeper/internal/tenant"
)

type fakeStore struct {
	configs     map[string]*tenant.Config
	settings    map[string]*moderation.Settings
	configErr   error
	settingsErr error
}

func (f *fakeStore) GetConfig(_ context.Context, id string) (*tenant.Config, error) {
	if f.configErr != nil {
		return nil, f.configErr
	}
	cfg, ok := f.configs[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeStore) GetModerationSettings(_ context.Context, id string) (*moderation.Settings, error) {
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	return f.settings[id], nil
}

type fakeModerator struct {
	mu       sync.Mutex
	verdict  moderation.Verdict
	settings []*moderation.Settings
}

func (f *fakeModerator) Moderate(_ context.Context, _ string, s *moderation.Settings) moderation.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, s)
	return f.verdict
}

type fakeKnowledge struct {
	mu         sync.Mutex
	byNS       map[string][]retrieval.KnowledgeMatch
	namespaces []string
	thresholds []float64
}

func (f *fakeKnowledge) Retrieve(_ context.Context, _, ns string, _ int, threshold float64) []retrieval.KnowledgeMatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.namespaces = append(f.namespaces, ns)
	f.thresholds = append(f.thresholds, threshold)
	return f.byNS[ns]
}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   func(p prompt.Prompt) string
	err     error
	prompts []prompt.Prompt
}

func (f *fakeGenerator) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	if f.reply == nil {
		return "The river lies east.", nil
	}
	return f.reply(p), nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type harness struct {
	store     *fakeStore
	moderator *fakeModerator
	knowledge *fakeKnowledge
	generator *fakeGenerator
	logger    *logging.TestLogger
	orch      *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store: &fakeStore{
			configs: map[string]*tenant.Config{
				"42": {ID: "42", Name: "Brim", Persona: "You are Brim, the ferryman."},
				"43": {ID: "43", Name: "Vell", Persona: "You are Vell, the archivist.", Namespace: "universe_7"},
			},
			settings: map[string]*moderation.Settings{
				"42": {Enabled: true, ToxicityThreshold: 0.7, HarassmentThreshold: 0.7, SexualContentThreshold: 0.7, SpamThreshold: 0.7},
			},
		},
		moderator: &fakeModerator{},
		knowledge: &fakeKnowledge{byNS: map[string][]retrieval.KnowledgeMatch{
			"bot_42_knowledge": {{SourceName: "Ashen River", Content: "Flows east of the keep.", RelevanceScore: 0.91}},
			"universe_7":       {{SourceName: "Archive", Content: "Holds every map.", RelevanceScore: 0.8}},
		}},
		generator: &fakeGenerator{},
		logger:    logging.NewTestLogger(),
	}
	orch, err := NewOrchestrator(h.store, h.moderator, h.knowledge, h.generator, cfg, h.logger.Logger)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	store, mod, gen := &fakeStore{}, &fakeModerator{}, &fakeGenerator{}

	_, err := NewOrchestrator(nil, mod, nil, gen, Config{}, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(store, nil, nil, gen, Config{}, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(store, mod, nil, nil, Config{}, nil)
	assert.Error(t, err)

	orch, err := NewOrchestrator(store, mod, nil, gen, Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, NoKnowledge{}, orch.knowledge)
	assert.Equal(t, DefaultConfig(), orch.config)
}

func TestHandleTurn_Success(t *testing.T) {
	tel := telemetry.NewTestTelemetry(t)
	h := newHarness(t, Config{})
	history := []prompt.Turn{
		{Role: prompt.RoleUser, Content: "hello"},
		{Role: prompt.RoleAssistant, Content: "well met"},
	}

	res, err := h.orch.HandleTurn(context.Background(), "42", "where is the river?", history)
	require.NoError(t, err)

	assert.Equal(t, "The river lies east.", res.Reply)
	assert.NotEmpty(t, res.TurnID)
	require.Len(t, res.Knowledge, 1)
	assert.Equal(t, "Ashen River", res.Knowledge[0].SourceName)
	assert.False(t, res.Verdict.Violation)

	assert.Contains(t, res.Prompt.System, "You are Brim, the ferryman.")
	assert.Contains(t, res.Prompt.System, "Flows east of the keep.")
	require.Len(t, res.Prompt.Messages, 3)
	assert.Equal(t, prompt.Turn{Role: prompt.RoleUser, Content: "where is the river?"}, res.Prompt.Messages[2])

	for _, stage := range []string{StageFetch, StageModeration, StageRetrieval, StageAssembly, StageGeneration, StageTotal} {
		assert.Contains(t, res.Timings, stage)
	}

	assert.Equal(t, []string{"bot_42_knowledge"}, h.knowledge.namespaces)
	require.Len(t, h.moderator.settings, 1)
	assert.True(t, h.moderator.settings[0].Enabled)

	tel.AssertSpanAttribute(t, "chat.HandleTurn", "chat.outcome", "ok")
	tel.AssertSpanAttribute(t, "chat.HandleTurn", "chat.turn_id", res.TurnID)
}

func TestHandleTurn_UsesConfiguredNamespace(t *testing.T) {
	h := newHarness(t, Config{})

	res, err := h.orch.HandleTurn(context.Background(), "43", "find me a map", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"universe_7"}, h.knowledge.namespaces)
	require.Len(t, res.Knowledge, 1)
	assert.Equal(t, "Archive", res.Knowledge[0].SourceName)
}

func TestHandleTurn_RetrievalThreshold(t *testing.T) {
	zero, half := 0.0, 0.5
	tests := []struct {
		name      string
		threshold *float64
		want      float64
	}{
		{name: "unset uses default", threshold: nil, want: retrieval.DefaultThreshold},
		{name: "explicit zero is kept", threshold: &zero, want: 0},
		{name: "explicit value", threshold: &half, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{RetrievalThreshold: tt.threshold})

			_, err := h.orch.HandleTurn(context.Background(), "42", "where is the river?", nil)
			require.NoError(t, err)
			require.Len(t, h.knowledge.thresholds, 1)
			assert.InDelta(t, tt.want, h.knowledge.thresholds[0], 1e-9)
		})
	}
}

func TestHandleTurn_AbsentSettingsPassNil(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.orch.HandleTurn(context.Background(), "43", "hi", nil)
	require.NoError(t, err)
	require.Len(t, h.moderator.settings, 1)
	assert.Nil(t, h.moderator.settings[0])
}

func TestHandleTurn_NoKnowledgeStillReplies(t *testing.T) {
	h := newHarness(t, Config{})
	h.knowledge.byNS = nil

	res, err := h.orch.HandleTurn(context.Background(), "42", "tell me a joke", nil)
	require.NoError(t, err)
	assert.Equal(t, "The river lies east.", res.Reply)
	assert.NotNil(t, res.Knowledge)
	assert.Empty(t, res.Knowledge)
	assert.NotContains(t, res.Prompt.System, "<knowledge>")
}

func TestHandleTurn_NotFound(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.orch.HandleTurn(context.Background(), "99", "hi", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, h.generator.calls())
	assert.Empty(t, h.moderator.settings)
}

func TestHandleTurn_Violation(t *testing.T) {
	tel := telemetry.NewTestTelemetry(t)
	h := newHarness(t, Config{})
	h.moderator.verdict = moderation.Verdict{
		Scores:    moderation.Scores{Toxicity: 0.85, Harassment: 0.1, SexualContent: 0.1, Spam: 0.1},
		Violation: true,
		Category:  moderation.CategoryToxicity,
		Message:   moderation.Message(moderation.CategoryToxicity),
	}

	_, err := h.orch.HandleTurn(context.Background(), "42", "you are worthless", nil)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, moderation.Message(moderation.CategoryToxicity), violation.Message)
	assert.Equal(t, moderation.CategoryToxicity, violation.Verdict.Category)
	assert.InDelta(t, 0.85, violation.Verdict.Scores.Toxicity, 1e-9)

	assert.Empty(t, h.knowledge.namespaces, "retrieval must not run")
	assert.Zero(t, h.generator.calls(), "generation must not run")
	tel.AssertSpanAttribute(t, "chat.HandleTurn", "chat.outcome", "violation")
}

type scoreClassifier struct{ scores moderation.Scores }

func (c scoreClassifier) Classify(context.Context, string) (moderation.Scores, error) {
	return c.scores, nil
}

func TestHandleTurn_ViolationThroughGate(t *testing.T) {
	h := newHarness(t, Config{})
	gate := moderation.NewGate(scoreClassifier{scores: moderation.Scores{Toxicity: 0.85, Harassment: 0.1, SexualContent: 0.1, Spam: 0.1}}, 0, nil)
	orch, err := NewOrchestrator(h.store, gate, h.knowledge, h.generator, Config{}, nil)
	require.NoError(t, err)

	_, err = orch.HandleTurn(context.Background(), "42", "you are worthless", nil)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, moderation.CategoryToxicity, violation.Verdict.Category)
	assert.Contains(t, violation.Message, "Toxicity")

	// Tenant 43 has no settings, so the gate is disabled.
	res, err := orch.HandleTurn(context.Background(), "43", "you are worthless", nil)
	require.NoError(t, err)
	assert.False(t, res.Verdict.Violation)
}

func TestHandleTurn_GenerationFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "model error", err: errors.New("upstream 503: secret detail")},
		{name: "empty reply", reply: "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.generator.err = tt.err
			h.generator.reply = func(prompt.Prompt) string { return tt.reply }

			_, err := h.orch.HandleTurn(context.Background(), "42", "hi", nil)
			require.ErrorIs(t, err, ErrGenerationFailure)
			assert.NotContains(t, err.Error(), "secret detail")
			h.logger.AssertLogged(t, zapcore.ErrorLevel, "generation failed")
		})
	}
}

func TestHandleTurn_FetchErrors(t *testing.T) {
	tests := []struct {
		name        string
		configErr   error
		settingsErr error
	}{
		{name: "config", configErr: errors.New("db down")},
		{name: "settings", settingsErr: errors.New("db down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.store.configErr = tt.configErr
			h.store.settingsErr = tt.settingsErr

			_, err := h.orch.HandleTurn(context.Background(), "42", "hi", nil)
			assert.ErrorIs(t, err, ErrFetch)
			assert.NotErrorIs(t, err, ErrNotFound)
			assert.Zero(t, h.generator.calls())
		})
	}
}

func TestHandleTurn_InvalidInput(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.orch.HandleTurn(context.Background(), "42", "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.orch.HandleTurn(context.Background(), "42", "hi", []prompt.Turn{{Role: "system", Content: "x"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	h.store.configErr = tenant.ErrInvalidTenantID
	_, err = h.orch.HandleTurn(context.Background(), "", "hi", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHandleTurn_BoundsHistory(t *testing.T) {
	h := newHarness(t, Config{HistoryWindow: 2})
	history := []prompt.Turn{
		{Role: prompt.RoleUser, Content: "one"},
		{Role: prompt.RoleAssistant, Content: "two"},
		{Role: prompt.RoleUser, Content: "three"},
		{Role: prompt.RoleAssistant, Content: "four"},
	}

	res, err := h.orch.HandleTurn(context.Background(), "42", "five", history)
	require.NoError(t, err)
	require.Len(t, res.Prompt.Messages, 3)
	assert.Equal(t, "three", res.Prompt.Messages[0].Content)
	assert.Equal(t, "four", res.Prompt.Messages[1].Content)
	assert.Equal(t, "five", res.Prompt.Messages[2].Content)
}

func TestHandleTurn_CallerCancellation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.HandleTurn(ctx, "42", "hi", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrGenerationFailure)
}

func TestHandleTurn_ConcurrentTenantsAreIndependent(t *testing.T) {
	h := newHarness(t, Config{})
	h.generator.reply = func(p prompt.Prompt) string {
		// Echo the persona so each reply can be traced to its prompt.
		return strings.SplitN(p.System, "\n", 2)[0]
	}

	const rounds = 20
	var wg sync.WaitGroup
	results := make([]*Result, 2*rounds)
	errs := make([]error, 2*rounds)
	for i := 0; i < rounds; i++ {
		for j, id := range []string{"42", "43"} {
			idx := 2*i + j
			wg.Add(1)
			go func(idx int, id string) {
				defer wg.Done()
				results[idx], errs[idx] = h.orch.HandleTurn(context.Background(), id, "who are you?", nil)
			}(idx, id)
		}
	}
	wg.Wait()

	for idx, res := range results {
		require.NoError(t, errs[idx])
		if idx%2 == 0 {
			assert.Equal(t, "You are Brim, the ferryman.", res.Reply)
			assert.Equal(t, "Ashen River", res.Knowledge[0].SourceName)
		} else {
			assert.Equal(t, "You are Vell, the archivist.", res.Reply)
			assert.Equal(t, "Archive", res.Knowledge[0].SourceName)
		}
	}

	a, b := results[0], results[1]
	assert.NotEqual(t, a.TurnID, b.TurnID)
	a.Timings[StageTotal] = -1
	assert.NotEqual(t, a.Timings[StageTotal], b.Timings[StageTotal], "timing maps must not be shared")
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&ViolationError{}, "violation"},
		{ErrNotFound, "not_found"},
		{ErrGenerationFailure, "generation_failure"},
		{ErrInvalidInput, "invalid"},
		{ErrFetch, "fetch_error"},
		{context.Canceled, "canceled"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.err))
	}
}
