// Package intent maps free-text customer messages to coarse intent labels.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joescharf/lendchat/internal/models"
)

// Classifier labels a customer message. Implementations return
// general_inquiry for empty or unrecognized input; an error means the
// classifier itself could not run.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Intent, error)
}

// Model is the remote labelling call behind the LLM classifier.
type Model interface {
	ClassifyIntent(ctx context.Context, text string) (models.Intent, error)
}

// LLM classifies with a language model.
type LLM struct {
	model Model
}

// NewLLM returns a Classifier backed by m.
func NewLLM(m Model) *LLM {
	return &LLM{model: m}
}

// Classify skips the model call for blank messages.
func (c *LLM) Classify(ctx context.Context, text string) (models.Intent, error) {
	if strings.TrimSpace(text) == "" {
		return models.IntentGeneralInquiry, nil
	}
	in, err := c.model.ClassifyIntent(ctx, text)
	if err != nil {
		return "", err
	}
	return models.ParseIntent(string(in)), nil
}

type fallback struct {
	primary   Classifier
	secondary Classifier
	logger    *slog.Logger
}

// Fallback tries primary and, when it errors, answers with secondary.
func Fallback(primary, secondary Classifier) Classifier {
	return &fallback{primary: primary, secondary: secondary, logger: slog.Default()}
}

func (f *fallback) Classify(ctx context.Context, text string) (models.Intent, error) {
	in, err := f.primary.Classify(ctx, text)
	if err == nil {
		return in, nil
	}
	f.logger.Warn("primary intent classifier failed, using fallback", "error", err)
	return f.secondary.Classify(ctx, text)
}
