// Package llm generates auditor-facing answers and query suggestions
// from retrieval results using an Ollama-served chat model.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/search"
)

// DefaultModel is the default chat model.
const DefaultModel = "llama3.1:8b"

// DefaultTemperature keeps verdicts consistent across reruns.
const DefaultTemperature = 0.2

const (
	suggestionTemperature = 0.7
	suggestionMaxTokens   = 200
	maxSuggestions        = 5
	minPartialQueryLen    = 5
)

var errEmptyResponse = errors.New("model returned no choices")

// Generator produces verdict answers and suggestions.
type Generator struct {
	model       llms.Model
	temperature float64
	logger      *slog.Logger
}

// Config configures the generator.
type Config struct {
	Host        string
	Model       string
	Temperature float64
}

// New creates a generator backed by an Ollama chat model.
func New(cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.Host != "" {
		opts = append(opts, ollama.WithServerURL(cfg.Host))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, apperr.Config("llm.new", "initialize ollama chat client: "+err.Error())
	}
	return &Generator{model: model, temperature: cfg.Temperature, logger: logger}, nil
}

// NewWithModel creates a generator over an existing model, used by
// tests and alternative backends.
func NewWithModel(model llms.Model, temperature float64, logger *slog.Logger) *Generator {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{model: model, temperature: temperature, logger: logger}
}

// Answer generates a verdict answer from retrieval results. Empty
// results short-circuit to a fixed "nothing found" answer without a
// model call.
func (g *Generator) Answer(ctx context.Context, query string, results []search.Result, mode Mode) (string, error) {
	contextText := BuildContext(results)
	if contextText == "" {
		return NoResultsAnswer, nil
	}

	prompt := BuildVerdictPrompt(query, contextText, mode)
	resp, err := g.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(mode.TokenLimit()),
	)
	if err != nil {
		return "", apperr.Unavailable("llm.answer", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Unavailable("llm.answer", errEmptyResponse)
	}
	return resp.Choices[0].Content, nil
}

// AnswerStream generates a verdict answer, invoking onChunk for each
// streamed fragment. The full answer is also returned.
func (g *Generator) AnswerStream(
	ctx context.Context,
	query string,
	results []search.Result,
	mode Mode,
	onChunk func(chunk string) error,
) (string, error) {
	contextText := BuildContext(results)
	if contextText == "" {
		if err := onChunk(NoResultsAnswer); err != nil {
			return "", err
		}
		return NoResultsAnswer, nil
	}

	var full strings.Builder
	prompt := BuildVerdictPrompt(query, contextText, mode)
	_, err := g.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(mode.TokenLimit()),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			full.Write(chunk)
			return onChunk(string(chunk))
		}),
	)
	if err != nil {
		return "", apperr.Unavailable("llm.answer_stream", err)
	}
	return full.String(), nil
}

// Suggest generates related auditor questions for a partial query.
// Short inputs and model failures both yield an empty list; the
// typeahead path never errors to callers.
func (g *Generator) Suggest(ctx context.Context, partialQuery, topic string, max int) []string {
	partialQuery = strings.TrimSpace(partialQuery)
	if len(partialQuery) < minPartialQueryLen {
		return []string{}
	}
	if topic == "" {
		topic = "auditing guidelines"
	}
	if max <= 0 || max > maxSuggestions {
		max = maxSuggestions
	}

	prompt := BuildSuggestionPrompt(partialQuery, topic, max)
	resp, err := g.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(suggestionTemperature),
		llms.WithMaxTokens(suggestionMaxTokens),
	)
	if err != nil || len(resp.Choices) == 0 {
		g.logger.Error("suggestion generation failed", "error", err)
		return []string{}
	}

	suggestions := FilterSuggestions(resp.Choices[0].Content, max)
	g.logger.Debug("generated suggestions", "count", len(suggestions), "partial_query", partialQuery)
	return suggestions
}

// FilterSuggestions parses model output into clean question lines.
// Numbering and bullets are stripped; lines that are too short, too
// long, or not questions are dropped.
func FilterSuggestions(raw string, max int) []string {
	suggestions := []string{}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line[0] >= '0' && line[0] <= '9' {
			line = strings.TrimLeft(line, "0123456789.-) ")
		}
		for _, prefix := range []string{"-", "*", "•"} {
			if strings.HasPrefix(line, prefix) {
				line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
				break
			}
		}
		if len(line) > 5 && len(line) < 80 && strings.Contains(line, "?") {
			suggestions = append(suggestions, line)
		}
		if len(suggestions) == max {
			break
		}
	}
	return suggestions
}
