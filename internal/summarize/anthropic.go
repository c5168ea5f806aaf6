package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

const systemPrompt = "You are a technology intelligence analyst covering AI and Silicon Valley. " +
	"Analyze X posts from tech influencers and extract structured intelligence. " +
	"Respond with valid JSON only, without markdown or code fences."

const promptTemplate = `Analyze these X posts from tech and AI influencers collected in the last day.
Today's date: %s

=== POSTS ===
%s
=============

Return one JSON object with these fields:
  "title": "Daily Tech Intelligence Report, %s",
  "subtitle": one sentence naming the most important theme,
  "executive_summary": {"paragraph1": string, "paragraph2": string},
  "trending_topics": [{"tag": string, "change": string, "is_new": bool, "velocity": 0-100}] (7 items, velocity descending),
  "strategic_trends": [{"name": string, "velocity_label": string, "change": string, "direction": "up"|"steady"|"down", "description": string}] (3 items),
  "influencer_highlights": [{"username": string, "display_name": string, "role": string, "quote": string, "likes": int, "shares": int}] (4 items),
  "visual_insight": {"title": string, "description": string}

Base everything on the posts above and use the real like and share counts.`

// AnthropicConfig configures the Claude-backed summarizer.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Anthropic asks Claude for a JSON intelligence report.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
	now       func() time.Time
}

// NewAnthropic builds the summarizer.
func NewAnthropic(cfg AnthropicConfig, logger *zap.Logger) *Anthropic {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		logger:    logger,
		now:       time.Now,
	}
}

// Summarize implements Summarizer. The returned string is the model's JSON
// object.
func (a *Anthropic) Summarize(ctx context.Context, items map[string][]harvest.Item) (string, error) {
	if totalItems(items) == 0 {
		return "", ErrNoItems
	}
	posts, used := renderPosts(Rank(items), maxPosts, maxPromptBody)
	today := a.now().Format("January 02, 2006")
	prompt := fmt.Sprintf(promptTemplate, today, posts, today)

	a.logger.Info("requesting summary",
		zap.String("model", a.model),
		zap.Int("posts", used),
		zap.Int("prompt_chars", len(prompt)),
	)
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	raw := stripFences(text.String())
	if !json.Valid([]byte(raw)) {
		tail := raw
		if len(tail) > 200 {
			tail = tail[len(tail)-200:]
		}
		return "", fmt.Errorf("summary is not valid JSON (stop_reason=%s): ...%s", msg.StopReason, tail)
	}
	a.logger.Info("summary received", zap.String("stop_reason", string(msg.StopReason)))
	return raw, nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
