package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultFromResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Answer: "), genai.Text("B")}},
		}},
		UsageMetadata: &genai.UsageMetadata{
			PromptTokenCount:     120,
			CandidatesTokenCount: 80,
			TotalTokenCount:      260,
		},
	}

	result, err := resultFromResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "Answer: B", result.Text)
	assert.Equal(t, 120, result.InputTokens)
	assert.Equal(t, 80, result.OutputTokens)
	assert.Equal(t, 60, result.ThinkingTokens)
}

func TestResultFromResponse_NoUsage(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("text")}},
		}},
	}

	result, err := resultFromResponse(resp)
	require.NoError(t, err)
	assert.Zero(t, result.InputTokens)
	assert.Zero(t, result.ThinkingTokens)
}

func TestResultFromResponse_Empty(t *testing.T) {
	_, err := resultFromResponse(nil)
	assert.ErrorIs(t, err, errEmptyGeneration)

	_, err = resultFromResponse(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, errEmptyGeneration)

	_, err = resultFromResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text("  ")}}}},
	})
	assert.ErrorIs(t, err, errEmptyGeneration)
}

func TestGenerationLockKey(t *testing.T) {
	assert.Equal(t, "qbank:analysis-gen:q1:gemini-2.5-flash", generationLockKey("q1", "gemini-2.5-flash"))
}

func TestNoopLocker(t *testing.T) {
	token, ok, err := NoopLocker{}.TryLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, NoopLocker{}.Release(context.Background(), "k", token))
}

func TestRedisLocker_RejectsBadArguments(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	locker := NewRedisLocker(client)

	_, _, err := locker.TryLock(context.Background(), "", time.Second)
	assert.Error(t, err)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.Error(t, err)
	assert.NoError(t, locker.Release(context.Background(), "", ""))
}
