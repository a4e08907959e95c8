package models

import (
	"time"

	"github.com/google/uuid"
)

// ResultSource records where an analysis came from and who paid for it.
type ResultSource string

const (
	SourceAPI                  ResultSource = "api"
	SourceCache                ResultSource = "cache"
	SourceGlobalCacheBilled    ResultSource = "global_cache_billed"
	SourceTrialFree            ResultSource = "trial_free"
	SourcePurchasedCache       ResultSource = "purchased_cache"
	SourcePurchasedRegenerated ResultSource = "purchased_regenerated"
)

// UsageLog is append-only. A row for (user, question, model) is the
// entitlement to that analysis, so the triple is unique.
type UsageLog struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	UserID          uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:ux_usage_logs_entitlement,priority:1;index" json:"user_id"`
	QuestionID      string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_usage_logs_entitlement,priority:2" json:"question_id"`
	ModelID         string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_usage_logs_entitlement,priority:3" json:"model_id"`
	ResultSource    ResultSource `gorm:"type:varchar(32);not null" json:"result_source"`
	InputTokens     int          `json:"input_tokens"`
	OutputTokens    int          `json:"output_tokens"`
	ThinkingTokens  int          `json:"thinking_tokens"`
	TokensEstimated bool         `gorm:"not null;default:false" json:"tokens_estimated"`
	RealCost        float64      `gorm:"type:decimal(20,10);not null;default:0" json:"real_cost"`
	Deduction       float64      `gorm:"type:decimal(20,6);not null;default:0" json:"deduction"`
	CreatedAt       time.Time    `gorm:"index" json:"created_at"`
}

// WalletTopUp marks a completed Stripe checkout as credited.
type WalletTopUp struct {
	ID              uint      `gorm:"primaryKey"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index"`
	StripeSessionID string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	Amount          float64   `gorm:"type:decimal(20,6);not null"`
	CreatedAt       time.Time
}
