package services

import (
	"context"
	"time"

	"questionbank_go_backend/internal/models"

	"github.com/google/uuid"
)

type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

type EntitlementResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID, questionID, modelID string) (Entitlement, error)
	HasPaidBefore(ctx context.Context, userID uuid.UUID, questionID, modelID string) (bool, error)
}

type Ledger interface {
	Settle(ctx context.Context, req SettlementRequest) (*Settlement, error)
	CreditTopUp(ctx context.Context, userID uuid.UUID, amount float64, stripeSessionID string) (bool, error)
}

// Generator produces a new analysis from the external language model.
type Generator interface {
	Generate(ctx context.Context, prompt, modelID string) (*GenerationResult, error)
}

// GenerationLocker serialises generation of the same (question, model) across
// instances. TryLock returns ok=false when someone else holds the key.
type GenerationLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type GenerationResult struct {
	Text           string
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
}
