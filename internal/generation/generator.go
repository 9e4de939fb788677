package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/option"

	"copyforge/internal/config"
	"copyforge/internal/types"
)

// Generator turns a validated request into content. Failures are returned as
// generation_failed.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// New picks the backend named in cfg.
func New(ctx context.Context, cfg config.GenerationConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Backend {
	case "echo":
		return EchoGenerator{}, nil
	case "gemini", "":
		return NewGeminiGenerator(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}

// completeFunc sends one prompt to a model and returns its text.
type completeFunc func(ctx context.Context, p Prompt) (string, error)

// GeminiGenerator calls the Gemini API behind a circuit breaker. The breaker
// opens after consecutive upstream failures so a model outage fails requests
// fast instead of holding each one for the full timeout.
type GeminiGenerator struct {
	complete completeFunc
	breaker  *gobreaker.CircuitBreaker[string]
	timeout  time.Duration
	logger   *slog.Logger
	close    func() error
}

func NewGeminiGenerator(ctx context.Context, cfg config.GenerationConfig, logger *slog.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey.Unmask()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	complete := func(ctx context.Context, p Prompt) (string, error) {
		model := client.GenerativeModel(cfg.GeminiModel)
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
		model.SetTemperature(0.7)
		if cfg.MaxOutputTokens > 0 {
			model.SetMaxOutputTokens(cfg.MaxOutputTokens)
		}

		resp, err := model.GenerateContent(ctx, genai.Text(p.User))
		if err != nil {
			return "", err
		}
		return responseText(resp)
	}

	g := newGeminiGenerator(complete, cfg.Timeout, logger)
	g.close = client.Close
	return g, nil
}

func newGeminiGenerator(complete completeFunc, timeout time.Duration, logger *slog.Logger) *GeminiGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up says nothing about the model's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &GeminiGenerator{
		complete: complete,
		breaker:  cb,
		timeout:  timeout,
		logger:   logger,
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	p := BuildPrompt(req)
	start := time.Now()
	text, err := g.breaker.Execute(func() (string, error) {
		return g.complete(ctx, p)
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "generation failed",
			"content_type", req.ContentType,
			"duration", time.Since(start),
			"breaker_state", g.breaker.State().String(),
			"error", err,
		)
		return "", types.NewAppError(types.ErrCodeGenerationFailed, "content generation failed", err)
	}

	return finish(text, req)
}

// Close releases the underlying API client.
func (g *GeminiGenerator) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

// EchoGenerator renders a deterministic draft from the prompt without calling
// a model. It backs local development and handler tests.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.NewAppError(types.ErrCodeGenerationFailed, "content generation failed", err)
	}
	p := BuildPrompt(req)
	return finish("DRAFT\n"+p.User, req)
}

func finish(text string, req Request) (string, error) {
	if !req.EmojiPolicy.Allows() {
		text = StripEmoji(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", types.NewAppError(types.ErrCodeGenerationFailed, "model returned no content", nil)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return "", fmt.Errorf("empty candidate, finish reason %s", c.FinishReason)
	}

	var b strings.Builder
	for _, part := range c.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text in response, finish reason %s", c.FinishReason)
	}
	return b.String(), nil
}
