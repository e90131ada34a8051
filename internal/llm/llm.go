package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/time/rate"

	"github.com/joescharf/lendchat/internal/models"
)

// Client wraps the Anthropic API for intent labelling and reply drafting.
type Client struct {
	api     *anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
}

// NewClient creates an LLM client with the given API key and model.
// perSecond caps outbound requests; zero or less disables pacing.
func NewClient(apiKey, model string, perSecond float64) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Client{
		api:     &client,
		model:   anthropic.Model(model),
		limiter: limiter,
	}
}

// complete sends one system+user exchange and returns the first text block.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}

// ClassifyIntent asks the model for a single intent label.
func (c *Client) ClassifyIntent(ctx context.Context, text string) (models.Intent, error) {
	system, user := buildIntentPrompt(text)
	out, err := c.complete(ctx, system, user, 32)
	if err != nil {
		return "", err
	}
	return parseIntent(out), nil
}

// GenerateReply asks the model to draft the agent's reply as JSON.
func (c *Client) GenerateReply(ctx context.Context, req ReplyRequest) (*models.Reply, error) {
	system, user := buildReplyPrompt(req)
	out, err := c.complete(ctx, system, user, 1024)
	if err != nil {
		return nil, err
	}
	reply, err := parseReply(out)
	if err != nil {
		return nil, err
	}
	reply.Intent = req.Intent
	return reply, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseIntent maps free model output to a known label.
func parseIntent(out string) models.Intent {
	label := strings.ToLower(stripFences(out))
	label = strings.Trim(label, " \t\r\n\"'`.")
	if i := strings.IndexAny(label, " \n"); i >= 0 {
		label = label[:i]
	}
	return models.ParseIntent(label)
}

type replyJSON struct {
	Response           string   `json:"response"`
	Sentiment          string   `json:"sentiment"`
	RequiresEscalation bool     `json:"requires_escalation"`
	EscalationReason   string   `json:"escalation_reason"`
	SuggestedActions   []string `json:"suggested_actions"`
}

// parseReply decodes the model's reply object, repairing malformed JSON once.
func parseReply(out string) (*models.Reply, error) {
	text := stripFences(out)

	var r replyJSON
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
		}
		if err := json.Unmarshal([]byte(repaired), &r); err != nil {
			return nil, fmt.Errorf("parse repaired LLM response: %w\nraw response: %s", err, text)
		}
	}

	if strings.TrimSpace(r.Response) == "" {
		return nil, fmt.Errorf("LLM reply has empty response text")
	}

	reply := &models.Reply{
		Text:               strings.TrimSpace(r.Response),
		Sentiment:          models.ParseSentiment(r.Sentiment),
		RequiresEscalation: r.RequiresEscalation,
		EscalationReason:   r.EscalationReason,
		SuggestedActions:   r.SuggestedActions,
	}
	if reply.RequiresEscalation && reply.EscalationReason == "" {
		reply.EscalationReason = "model requested human review"
	}
	if reply.SuggestedActions == nil {
		reply.SuggestedActions = []string{}
	}
	return reply, nil
}
