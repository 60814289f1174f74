// Package reply produces reply text for confirmed incoming messages. The
// generator never raises past its boundary: on any failure it returns the
// configured fallback template.
package reply

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	logpkg "github.com/TayyabAziz11/personal-ai-employee/internal/log"
	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
)

// TextService is the black-box text-generation boundary.
type TextService interface {
	Complete(ctx context.Context, systemPrompt string, history []registry.HistoryEntry) (string, error)
}

// AnthropicConfig holds text-service configuration.
type AnthropicConfig struct {
	Model          string
	MaxTokens      int
	MaxRetries     int
	RetryBaseDelay time.Duration

	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig() *AnthropicConfig {
	return &AnthropicConfig{
		Model:          "claude-3-haiku-20240307",
		MaxTokens:      400,
		MaxRetries:     2,
		RetryBaseDelay: time.Second,
	}
}

// AnthropicService wraps the Anthropic SDK as a TextService.
type AnthropicService struct {
	cfg    *AnthropicConfig
	client anthropic.Client
}

// NewAnthropicService creates a text service backed by the Anthropic API.
func NewAnthropicService(cfg *AnthropicConfig) (*AnthropicService, error) {
	if cfg == nil {
		cfg = DefaultAnthropicConfig()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("reply: no API key: set ANTHROPIC_API_KEY")
	}

	return &AnthropicService{
		cfg:    cfg,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Complete sends the conversation history and returns the model's reply.
// Includes retry with exponential backoff on retryable errors.
func (s *AnthropicService) Complete(ctx context.Context, systemPrompt string, history []registry.HistoryEntry) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.cfg.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := s.doRequest(ctx, systemPrompt, history)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("reply: max retries exceeded: %w", lastErr)
}

func (s *AnthropicService) doRequest(ctx context.Context, systemPrompt string, history []registry.HistoryEntry) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		block := anthropic.NewTextBlock(turn.Text)
		if turn.Role == registry.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	if len(messages) == 0 {
		return "", errors.New("reply: empty history")
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: int64(s.cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("reply request: %w", err)
	}

	var result strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			result.WriteString(block.Text)
		}
	}
	return result.String(), nil
}

// isRetryable checks if an error should be retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	if strings.Contains(errStr, "rate_limit") || strings.Contains(errStr, "429") {
		return true
	}
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") {
		return true
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return true
	}
	return false
}

// Generator bounds the text service with a timeout and a fallback
// template, and stamps replies with the automation signature.
type Generator struct {
	svc          TextService
	logger       *logpkg.EventLog
	timeout      time.Duration
	systemPrompt string
	fallback     string
	signature    string
}

// NewGenerator creates a generator. svc may be nil (missing credentials),
// in which case every reply is the fallback template.
func NewGenerator(svc TextService, logger *logpkg.EventLog, timeout time.Duration, systemPrompt, fallback, signature string) *Generator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Generator{
		svc:          svc,
		logger:       logger,
		timeout:      timeout,
		systemPrompt: systemPrompt,
		fallback:     fallback,
		signature:    signature,
	}
}

// Reply returns reply text for the contact's history. It always returns
// text within the configured timeout; failures degrade to the fallback.
func (g *Generator) Reply(ctx context.Context, contact string, history []registry.HistoryEntry) string {
	if g.svc == nil {
		g.logFallback(contact, "no text service configured")
		return g.sign(g.fallback)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.svc.Complete(ctx, g.systemPrompt, history)
	if err != nil {
		g.logFallback(contact, err.Error())
		return g.sign(g.fallback)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		g.logFallback(contact, "empty response")
		return g.sign(g.fallback)
	}
	return g.sign(text)
}

// sign appends the automation signature so the observer and arbitrator
// can recognize self-authored previews.
func (g *Generator) sign(text string) string {
	if g.signature == "" || strings.Contains(text, g.signature) {
		return text
	}
	return text + "\n\n" + g.signature
}

func (g *Generator) logFallback(contact, reason string) {
	if g.logger == nil {
		return
	}
	_ = g.logger.Log(logpkg.NewEvent(logpkg.EventTypeGenerationFallback, contact).WithError(reason))
}
