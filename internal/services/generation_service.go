package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
)

// ModelProvider hands out a generative model by name. *genai.Client
// satisfies it.
type ModelProvider interface {
	GenerativeModel(name string) *genai.GenerativeModel
}

type GenerationObserver interface {
	ObserveGeneration(modelID string, d time.Duration, err error)
}

type GeminiGenerator struct {
	provider    ModelProvider
	temperature float32
	timeout     time.Duration
	observer    GenerationObserver
}

func NewGeminiGenerator(provider ModelProvider, timeout time.Duration, observer GenerationObserver) *GeminiGenerator {
	return &GeminiGenerator{
		provider:    provider,
		temperature: 0.2,
		timeout:     timeout,
		observer:    observer,
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt, modelID string) (*GenerationResult, error) {
	log := zerolog.Ctx(ctx)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	model := g.provider.GenerativeModel(modelID)
	model.SetTemperature(g.temperature)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(analysisSystemInstruction)},
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	elapsed := time.Since(start)
	if g.observer != nil {
		g.observer.ObserveGeneration(modelID, elapsed, err)
	}
	if err != nil {
		log.Error().Err(err).Str("model", modelID).Dur("elapsed", elapsed).Msg("generation failed")
		return nil, fmt.Errorf("generate content: %w", err)
	}

	result, err := resultFromResponse(resp)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("model", modelID).
		Dur("elapsed", elapsed).
		Int("input_tokens", result.InputTokens).
		Int("output_tokens", result.OutputTokens).
		Msg("generation finished")
	return result, nil
}

var errEmptyGeneration = errors.New("model returned no text")

func resultFromResponse(resp *genai.GenerateContentResponse) (*GenerationResult, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errEmptyGeneration
	}

	var text strings.Builder
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, errEmptyGeneration
	}

	result := &GenerationResult{Text: text.String()}
	if usage := resp.UsageMetadata; usage != nil {
		result.InputTokens = int(usage.PromptTokenCount)
		result.OutputTokens = int(usage.CandidatesTokenCount)
		// Thinking tokens are billed but not reported separately; they are
		// whatever the total holds beyond prompt and candidates.
		if extra := usage.TotalTokenCount - usage.PromptTokenCount - usage.CandidatesTokenCount; extra > 0 {
			result.ThinkingTokens = int(extra)
		}
	}
	return result, nil
}
