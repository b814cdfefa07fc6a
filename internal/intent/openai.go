package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/logging"
)

// DefaultModel is used when OpenAIConfig.Model is empty.
const DefaultModel = openai.GPT4oMini

// OpenAIConfig configures an OpenAIClassifier.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint (proxies, compatible servers, tests).
	BaseURL  string
	Model    string
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// OpenAIClassifier classifies requests with an OpenAI chat completion in
// JSON-object mode.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewOpenAIClassifier creates a classifier. An API key is required.
func NewOpenAIClassifier(cfg OpenAIConfig) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	c := &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		loc:    cfg.Location,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = logging.WithOperation(c.logger, "intent")
	return c, nil
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	if strings.TrimSpace(text) == "" {
		return Intent{}, errors.New("empty request text")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Intent{}, fmt.Errorf("intent classification failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Intent{}, errors.New("intent classification returned no choices")
	}

	intent, err := parseIntent(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("Unparseable classifier output",
			slog.String("body", logging.TruncateBody([]byte(resp.Choices[0].Message.Content))),
			logging.Err(err))
		return Intent{}, err
	}

	c.logger.Debug("Request classified",
		logging.Action(string(intent.Action)),
		slog.Int("entities", len(intent.Entities)))
	return intent, nil
}

type rawIntent struct {
	Action   string         `json:"action"`
	Entities map[string]any `json:"entities"`
	Reply    string         `json:"reply"`
}

func parseIntent(content string) (Intent, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw rawIntent
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Intent{}, fmt.Errorf("failed to decode classifier output: %w", err)
	}
	return Intent{
		Action:   normalizeAction(raw.Action),
		Entities: raw.Entities,
		Reply:    strings.TrimSpace(raw.Reply),
	}, nil
}

func (c *OpenAIClassifier) systemPrompt() string {
	now := c.now().In(c.loc)
	var b strings.Builder
	b.WriteString("You route requests for a personal assistant that can act on Gmail, Google Calendar and Google Drive.\n")
	fmt.Fprintf(&b, "Current time: %s (%s, %s).\n", now.Format(time.RFC3339), now.Weekday(), c.loc)
	b.WriteString("Answer with a single JSON object: {\"action\": string, \"entities\": object, \"reply\": string}.\n")
	b.WriteString("Use action \"none\" with a short reply when the request matches no action.\n")
	b.WriteString("Copy dates and times exactly as the user wrote them; do not convert them.\n")
	b.WriteString("Actions and their entities:\n")
	for _, a := range actions.Actions() {
		fmt.Fprintf(&b, "- %s: %s\n", a, entityHints[a])
	}
	return b.String()
}

var entityHints = map[actions.Action]string{
	actions.SendEmail:   "to (list of addresses), cc, bcc, subject, body, html (bool)",
	actions.CreateEvent: "summary, start (phrase), end (phrase) or duration (minutes), description, location, attendees, timeZone",
	actions.DriveGet:    "fileId",
	actions.DriveCreate: "name, content, mimeType, parentId",
	actions.DriveUpdate: "fileId, name, content",
	actions.DriveDelete: "fileId",
	actions.DriveSearch: "query, maxResults",
}
