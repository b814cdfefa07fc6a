package intent

import (
	"context"
	"strings"

	"github.com/teemow/inboxpilot/internal/actions"
)

// Intent is the classified request.
type Intent struct {
	// Action is empty when the request does not map to a supported action.
	Action   actions.Action `json:"action"`
	Entities map[string]any `json:"entities,omitempty"`
	// Reply is a conversational answer for requests without an action.
	Reply string `json:"reply,omitempty"`
}

// Actionable reports whether the intent names an action.
func (i Intent) Actionable() bool {
	return i.Action != ""
}

// Classifier classifies user text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Intent, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, text string) (Intent, error) {
	return f(ctx, text)
}

// normalizeAction maps model output onto the supported action set.
func normalizeAction(raw string) actions.Action {
	a := actions.Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case "", "none", "null", "chat":
		return ""
	}
	return a
}
