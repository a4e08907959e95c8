package services

import (
	"context"
	"errors"

	"questionbank_go_backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnalysisCacheDB is the shared, question+model keyed analysis cache.
type AnalysisCacheDB interface {
	GetCacheEntry(ctx context.Context, questionID, modelID string) (*models.AnalysisCache, error)
	UpsertCacheEntry(ctx context.Context, entry *models.AnalysisCache) error
	BackfillTokens(ctx context.Context, id uint, inputTokens, outputTokens int) error
}

type DefaultAnalysisCacheDB struct {
	db *gorm.DB
}

func NewAnalysisCacheDB(db *gorm.DB) AnalysisCacheDB {
	return &DefaultAnalysisCacheDB{db: db}
}

// GetCacheEntry returns nil, nil on a miss.
func (s *DefaultAnalysisCacheDB) GetCacheEntry(ctx context.Context, questionID, modelID string) (*models.AnalysisCache, error) {
	var entry models.AnalysisCache
	err := s.db.WithContext(ctx).
		Where("question_id = ? AND model_id = ?", questionID, modelID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpsertCacheEntry writes entry keyed on (question_id, model_id). Concurrent
// writers race and the last one wins.
func (s *DefaultAnalysisCacheDB) UpsertCacheEntry(ctx context.Context, entry *models.AnalysisCache) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "question_id"}, {Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"analysis_text",
			"input_tokens",
			"output_tokens",
			"thinking_tokens",
			"tokens_estimated",
			"updated_at",
		}),
	}).Create(entry).Error
}

// BackfillTokens fills in estimated counts on a row that has none. Rows that
// already carry counts are left alone.
func (s *DefaultAnalysisCacheDB) BackfillTokens(ctx context.Context, id uint, inputTokens, outputTokens int) error {
	return s.db.WithContext(ctx).Model(&models.AnalysisCache{}).
		Where("id = ? AND input_tokens = 0 AND output_tokens = 0", id).
		Updates(map[string]interface{}{
			"input_tokens":     inputTokens,
			"output_tokens":    outputTokens,
			"tokens_estimated": true,
		}).Error
}
