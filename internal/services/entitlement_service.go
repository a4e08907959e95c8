package services

import (
	"context"
	"fmt"
	"time"

	"questionbank_go_backend/internal/models"

	"github.com/google/uuid"
)

// Entitlement says whether a user has already unlocked the analysis of a
// question by a model, either by paying or through the trial.
type Entitlement struct {
	UserID     uuid.UUID
	QuestionID string
	ModelID    string
	Granted    bool
	Source     models.ResultSource
	GrantedAt  time.Time
}

type EntitlementService struct {
	usage UsageLogDB
}

func NewEntitlementService(usage UsageLogDB) *EntitlementService {
	return &EntitlementService{usage: usage}
}

func (s *EntitlementService) Resolve(ctx context.Context, userID uuid.UUID, questionID, modelID string) (Entitlement, error) {
	ent := Entitlement{UserID: userID, QuestionID: questionID, ModelID: modelID}
	row, err := s.usage.FindUsage(ctx, userID, questionID, modelID)
	if err != nil {
		return ent, fmt.Errorf("failed to resolve entitlement: %w", err)
	}
	if row != nil {
		ent.Granted = true
		ent.Source = row.ResultSource
		ent.GrantedAt = row.CreatedAt
	}
	return ent, nil
}

func (s *EntitlementService) HasPaidBefore(ctx context.Context, userID uuid.UUID, questionID, modelID string) (bool, error) {
	ent, err := s.Resolve(ctx, userID, questionID, modelID)
	return ent.Granted, err
}
