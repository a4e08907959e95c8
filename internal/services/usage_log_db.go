package services

import (
	"context"
	"errors"

	"questionbank_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageLogDB reads the append-only usage log. Rows are written by the ledger
// only, inside its settlement transaction.
type UsageLogDB interface {
	CountUsage(ctx context.Context, userID uuid.UUID) (int64, error)
	FindUsage(ctx context.Context, userID uuid.UUID, questionID, modelID string) (*models.UsageLog, error)
	ListUsage(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsageLog, error)
}

type DefaultUsageLogDB struct {
	db *gorm.DB
}

func NewUsageLogDB(db *gorm.DB) UsageLogDB {
	return &DefaultUsageLogDB{db: db}
}

func (s *DefaultUsageLogDB) CountUsage(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UsageLog{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// FindUsage returns nil, nil when the user has no row for the triple.
func (s *DefaultUsageLogDB) FindUsage(ctx context.Context, userID uuid.UUID, questionID, modelID string) (*models.UsageLog, error) {
	var entry models.UsageLog
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND question_id = ? AND model_id = ?", userID, questionID, modelID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListUsage returns the newest rows first. limit <= 0 means no limit.
func (s *DefaultUsageLogDB) ListUsage(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsageLog, error) {
	var logs []models.UsageLog
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
