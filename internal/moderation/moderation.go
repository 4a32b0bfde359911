// Package moderation classifies user messages against per-tenant thresholds.
//
// The gate fails open: when the classifier errors, times out or returns
// unusable scores the message passes with a zero verdict and the failure is
// logged. Only a successful classification above a threshold blocks a turn.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
)

const tracerName = "github.com/fyrsmithlabs/lorekeeper/internal/moderation"

var (
	// ErrModerationUnavailable marks a classifier failure. It is logged, never returned
	// to chat callers.
	ErrModerationUnavailable = errors.New("moderation unavailable")

	// ErrUnparsableScores is returned by classifiers whose output cannot be used.
	ErrUnparsableScores = errors.New("unparsable moderation scores")
)

// Category is a moderation category. The declaration order is the tie-break
// precedence when two categories share the highest score.
type Category string

const (
	CategoryToxicity      Category = "Toxicity"
	CategoryHarassment    Category = "Harassment"
	CategorySexualContent Category = "Sexual Content"
	CategorySpam          Category = "Spam"
)

// Categories lists every category in precedence order.
var Categories = []Category{CategoryToxicity, CategoryHarassment, CategorySexualContent, CategorySpam}

// Scores holds one probability in [0,1] per category.
type Scores struct {
	Toxicity      float64 `json:"toxicity"`
	Harassment    float64 `json:"harassment"`
	SexualContent float64 `json:"sexual_content"`
	Spam          float64 `json:"spam"`
}

// Get returns the score for c.
func (s Scores) Get(c Category) float64 {
	switch c {
	case CategoryToxicity:
		return s.Toxicity
	case CategoryHarassment:
		return s.Harassment
	case CategorySexualContent:
		return s.SexualContent
	case CategorySpam:
		return s.Spam
	default:
		return 0
	}
}

// Validate rejects scores outside [0,1] and NaN.
func (s Scores) Validate() error {
	for _, c := range Categories {
		v := s.Get(c)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s score %v outside [0,1]", ErrUnparsableScores, c, v)
		}
	}
	return nil
}

// Settings are a tenant's moderation preferences, read fresh per turn.
type Settings struct {
	Enabled                bool    `json:"enabled" koanf:"enabled"`
	ToxicityThreshold      float64 `json:"toxicity_threshold" koanf:"toxicity_threshold"`
	HarassmentThreshold    float64 `json:"harassment_threshold" koanf:"harassment_threshold"`
	SexualContentThreshold float64 `json:"sexual_content_threshold" koanf:"sexual_content_threshold"`
	SpamThreshold          float64 `json:"spam_threshold" koanf:"spam_threshold"`
}

// Threshold returns the threshold for c.
func (s Settings) Threshold(c Category) float64 {
	switch c {
	case CategoryToxicity:
		return s.ToxicityThreshold
	case CategoryHarassment:
		return s.HarassmentThreshold
	case CategorySexualContent:
		return s.SexualContentThreshold
	case CategorySpam:
		return s.SpamThreshold
	default:
		return 1
	}
}

// Validate checks every threshold lies in [0,1].
func (s Settings) Validate() error {
	for _, c := range Categories {
		if v := s.Threshold(c); math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s threshold %v outside [0,1]", c, v)
		}
	}
	return nil
}

// Verdict is the result of one moderation call. Never persisted.
type Verdict struct {
	Scores    Scores   `json:"scores"`
	Violation bool     `json:"violation"`
	Category  Category `json:"category,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Classifier scores text in the four categories.
type Classifier interface {
	Classify(ctx context.Context, text string) (Scores, error)
}

// Evaluate applies settings to scores. A category violates when its score is
// strictly greater than its threshold; the highest-scoring violating category
// is reported, ties resolved by precedence.
func Evaluate(scores Scores, settings Settings) Verdict {
	v := Verdict{Scores: scores}
	best := -1.0
	for _, c := range Categories {
		score := scores.Get(c)
		if score <= settings.Threshold(c) {
			continue
		}
		v.Violation = true
		if score > best {
			best = score
			v.Category = c
		}
	}
	if v.Violation {
		v.Message = Message(v.Category)
	}
	return v
}

// Message is the user-facing text for a violation in c.
func Message(c Category) string {
	return fmt.Sprintf("Your message was flagged for %s and was not sent. Please rephrase and try again.", c)
}

// Gate runs the classifier under a timeout and applies tenant settings.
type Gate struct {
	classifier Classifier
	timeout    time.Duration
	logger     *logging.Logger
}

// NewGate creates a Gate. A non-positive timeout leaves only the caller's deadline.
func NewGate(classifier Classifier, timeout time.Duration, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{classifier: classifier, timeout: timeout, logger: logger.Named("moderation")}
}

// Moderate classifies text. Nil or disabled settings pass without a
// classifier call. Classifier failures fail open.
func (g *Gate) Moderate(ctx context.Context, text string, settings *Settings) Verdict {
	if settings == nil || !settings.Enabled {
		Outcomes.WithLabelValues("disabled").Inc()
		return Verdict{}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "moderation.Moderate")
	defer span.End()

	scores, err := g.classify(ctx, text)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrModerationUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("moderation.outcome", "fail_open"))
		Outcomes.WithLabelValues("fail_open").Inc()
		g.logger.Warn(ctx, "moderation failed open", zap.Error(err))
		return Verdict{}
	}

	verdict := Evaluate(scores, *settings)
	if verdict.Violation {
		span.SetAttributes(
			attribute.String("moderation.outcome", "violation"),
			attribute.String("moderation.category", string(verdict.Category)),
		)
		Outcomes.WithLabelValues("violation").Inc()
		g.logger.Info(ctx, "message flagged",
			zap.String("category", string(verdict.Category)),
			zap.Float64("score", scores.Get(verdict.Category)),
		)
	} else {
		span.SetAttributes(attribute.String("moderation.outcome", "pass"))
		Outcomes.WithLabelValues("pass").Inc()
	}
	return verdict
}

func (g *Gate) classify(ctx context.Context, text string) (Scores, error) {
	if g.classifier == nil {
		return Scores{}, errors.New("no classifier configured")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	scores, err := g.classifier.Classify(ctx, text)
	if err != nil {
		return Scores{}, err
	}
	if err := scores.Validate(); err != nil {
		return Scores{}, err
	}
	return scores, nil
}
