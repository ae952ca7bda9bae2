package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/fitbot/internal/config"
	"github.com/ashureev/fitbot/internal/domain"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// preferredModels are tried in order when the configured model is not
// published by the provider. The configured model is always tried first.
var preferredModels = []string{
	"llama-3.2-3b-preview",
	"llama-3.1-8b-instant",
	"llama-3.1-70b-versatile",
	"mixtral-8x7b-32768",
	"gemma2-9b-it",
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	api openai.Client
	cfg config.LMConfig

	mu            sync.Mutex
	resolvedModel string
	lastCheck     time.Time
	lastCheckOK   bool
}

// New creates a provider client from configuration. A missing API key is not
// an error here; Stream and Available report it per call so the chat keeps
// running with fallback replies.
func New(cfg config.LMConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/") + "/"
	return &Client{
		api: openai.NewClient(
			option.WithBaseURL(base),
			option.WithAPIKey(cfg.APIKey),
			option.WithRequestTimeout(cfg.Timeout),
		),
		cfg: cfg,
	}
}

// Stream requests a streaming completion and yields text deltas.
func (c *Client) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if c.cfg.APIKey == "" {
			yield("", fmt.Errorf("%w: API key is not configured", ErrProvider))
			return
		}

		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		model, err := c.resolveModel(ctx)
		if err != nil {
			yield("", fmt.Errorf("%w: %v", ErrProvider, err))
			return
		}

		params := openai.ChatCompletionNewParams{
			Model:       openai.ChatModel(model),
			Messages:    toParams(messages),
			Temperature: openai.Float(c.cfg.Temperature),
			MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
		}

		stream := c.api.Chat.Completions.NewStreaming(ctx, params)
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Debug("failed to close completion stream", "error", err)
			}
		}()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("%w: %v", ErrProvider, err))
		}
	}
}

// Available reports whether the provider published a usable model recently.
// The probe result is cached for cfg.CheckTTL.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.lastCheck) <= c.cfg.CheckTTL {
		ok := c.lastCheckOK
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	ok := c.probe(ctx)

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastCheckOK = ok
	c.mu.Unlock()
	return ok
}

func (c *Client) probe(ctx context.Context) bool {
	if c.cfg.APIKey == "" {
		slog.Debug("AI API key not configured; provider disabled")
		return false
	}
	if _, err := c.resolveModel(ctx); err != nil {
		slog.Debug("provider availability probe failed", "error", err)
		return false
	}
	return true
}

// resolveModel picks the first preferred model the provider publishes and
// memoizes the result for the lifetime of the client.
func (c *Client) resolveModel(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.resolvedModel != "" {
		model := c.resolvedModel
		c.mu.Unlock()
		return model, nil
	}
	c.mu.Unlock()

	page, err := c.api.Models.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}

	available := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		available = append(available, m.ID)
	}

	model, err := pickModel(c.cfg.Model, available)
	if err != nil {
		return "", err
	}
	if model != c.cfg.Model {
		slog.Warn("configured model unavailable, using fallback",
			"configured", c.cfg.Model, "selected", model)
	}

	c.mu.Lock()
	c.resolvedModel = model
	c.mu.Unlock()
	return model, nil
}

// pickModel selects the configured model if published, then walks the
// preferred list, then settles for any published model.
func pickModel(configured string, available []string) (string, error) {
	if len(available) == 0 {
		return "", fmt.Errorf("provider published no models for this API key")
	}

	published := make(map[string]bool, len(available))
	for _, id := range available {
		published[id] = true
	}

	seen := make(map[string]bool)
	for _, candidate := range append([]string{configured}, preferredModels...) {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		if published[candidate] {
			return candidate, nil
		}
	}

	sorted := append([]string(nil), available...)
	sort.Strings(sorted)
	return sorted[0], nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case domain.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		default:
			out = append(out, openai.SystemMessage(m.Content))
		}
	}
	return out
}
