package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
	defaultRateLimit   = 2 // requests per second
	defaultBurst       = 5
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

var (
	// ErrInvalidConfig indicates missing or inconsistent client settings.
	ErrInvalidConfig = errors.New("invalid generation config")

	// ErrEmptyPrompt indicates there was nothing to send to the model.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrGenerationFailed indicates the model did not produce a usable
	// completion after retries.
	ErrGenerationFailed = errors.New("generation failed")
)

// Config controls answer generation behavior.
type Config struct {
	MaxTokens         int
	Temperature       float64
	RequestsPerSecond float64
	MaxRetries        int
	BaseBackoff       time.Duration
}

// ApplyDefaults fills zero-valued fields with sane defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRateLimit
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// Client generates answers through an llms.Model.
type Client struct {
	model   llms.Model
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient wraps model with rate limiting and retry behavior.
func NewClient(model llms.Model, config Config, logger *zap.Logger) (*Client, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &Client{
		model:   model,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), defaultBurst),
		logger:  logger,
	}, nil
}

// Answer produces a grounded answer to question using the supplied
// context passages. Passages are numbered so the model can cite them.
func (c *Client) Answer(ctx context.Context, question string, passages []string) (string, error) {
	prompt := buildPrompt(question, passages)
	return c.Complete(ctx, prompt)
}

// Complete sends prompt to the model, retrying transient failures with
// exponential backoff.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.BaseBackoff * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying generation",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		completion, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
			llms.WithMaxTokens(c.config.MaxTokens),
			llms.WithTemperature(c.config.Temperature),
		)
		if err == nil {
			completion = strings.TrimSpace(completion)
			if completion == "" {
				return "", fmt.Errorf("%w: model returned empty completion", ErrGenerationFailed)
			}
			return completion, nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: max retries exceeded: %v", ErrGenerationFailed, lastErr)
}

// buildPrompt assembles the grounded-answer prompt. The model is told
// to answer only from the supplied passages.
func buildPrompt(question string, passages []string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context passages below. ")
	b.WriteString("If the passages do not contain the answer, say so.\n\n")
	for i, passage := range passages {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(passage))
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAnswer:")
	return b.String()
}
