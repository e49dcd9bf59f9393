// Package interpreter turns free-form commands into structured kernel actions
// by asking an external language-interpretation service.
//
// A Client is stateless and safe for concurrent use; one instance is shared by
// every session of the process. Interpret never fails: transport problems and
// unparseable answers degrade to "error" and "message" actions.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"

	"github.com/wayneos/wayned/internal/distribution"
)

// Config selects the language model behind the interpreter.
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultConfig returns the defaults for the Anthropic provider.
func DefaultConfig() Config {
	return Config{
		Provider:  "anthropic",
		Model:     "claude-3-opus-20240229",
		MaxTokens: 1000,
		Timeout:   30 * time.Second,
	}
}

// Completer sends one system prompt and one user prompt to a language model
// and returns the text of its answer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// errEmptyResponse is returned when the service answers without any text.
var errEmptyResponse = errors.New("empty response from interpretation service")

// Option configures a Client.
type Option func(*Client)

// WithCompleter replaces the gollm backend.
func WithCompleter(c Completer) Option {
	return func(cl *Client) { cl.completer = c }
}

// Client talks to the interpretation service.
type Client struct {
	cfg       Config
	completer Completer
	logger    *zap.Logger
}

// New creates a Client. Zero fields of cfg fall back to DefaultConfig. When
// the backend cannot be built, for example without an API key, the Client
// still works and answers every command with the error action.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.Named("interpreter"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.completer == nil {
		llm, err := newLLMCompleter(cfg)
		if err != nil {
			c.logger.Warn("interpretation backend unavailable",
				zap.String("provider", cfg.Provider),
				zap.Error(err))
			c.completer = unavailable{err: err}
		} else {
			c.completer = llm
		}
	}

	return c
}

// Interpret converts text into an Action using the vocabulary of dist.
func (c *Client) Interpret(ctx context.Context, text string, dist distribution.Distribution) Action {
	start := time.Now()

	content, err := c.complete(ctx, dist.SystemPrompt(), text)
	if err != nil {
		c.logger.Warn("interpretation failed",
			zap.String("distribution", dist.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return errorAction()
	}

	action := Parse(content)
	c.logger.Debug("command interpreted",
		zap.String("distribution", dist.String()),
		zap.String("action", action.Action),
		zap.Duration("elapsed", time.Since(start)))

	return action
}

func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	// The backend may not honour ctx; the timeout still bounds the caller.
	done := make(chan result, 1)
	go func() {
		text, err := c.completer.Complete(ctx, system, prompt)
		done <- result{text, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return "", fmt.Errorf("interpretation timed out: %w", ctx.Err())
	}

	if res.err != nil {
		return "", fmt.Errorf("completion failed: %w", res.err)
	}
	if strings.TrimSpace(res.text) == "" {
		return "", errEmptyResponse
	}
	return res.text, nil
}

// llmCompleter sends prompts through gollm.
type llmCompleter struct {
	llm gollm.LLM
}

func newLLMCompleter(cfg Config) (*llmCompleter, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(cfg.Model),
		gollm.SetMaxTokens(cfg.MaxTokens),
		gollm.SetMaxRetries(0), // a failed command is answered, not retried
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider, err)
	}
	return &llmCompleter{llm: llm}, nil
}

func (l *llmCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	p := gollm.NewPrompt(prompt, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	return l.llm.Generate(ctx, p)
}

type unavailable struct {
	err error
}

func (u unavailable) Complete(context.Context, string, string) (string, error) {
	return "", u.err
}
