package models

import "time"

// AnalysisCache is the global memoization table of generated analyses, one row
// per (question, model). Rows are upserted, never soft deleted.
type AnalysisCache struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	QuestionID      string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_analysis_cache_question_model,priority:1" json:"question_id"`
	ModelID         string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_analysis_cache_question_model,priority:2" json:"model_id"`
	AnalysisText    string    `gorm:"type:text;not null" json:"analysis_text"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	ThinkingTokens  int       `json:"thinking_tokens"`
	TokensEstimated bool      `gorm:"not null;default:false" json:"tokens_estimated"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (AnalysisCache) TableName() string { return "analysis_cache" }

// HasTokenCounts reports whether the row carries usable token counts. Rows
// written before token metering was added have none.
func (c AnalysisCache) HasTokenCounts() bool {
	return c.InputTokens > 0 || c.OutputTokens > 0
}
