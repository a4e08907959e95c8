package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the billing tier of an account.
type Tier string

const (
	TierStandard Tier = "standard"
	TierLegacy   Tier = "legacy"
)

// SubscriptionStatus tells whether a standard account is still on its trial.
type SubscriptionStatus string

const (
	StatusTrial  SubscriptionStatus = "trial"
	StatusActive SubscriptionStatus = "active"
)

// Profile carries the billing-relevant fields of an account. CreditBalance is
// only ever changed by the ledger.
type Profile struct {
	UserID             uuid.UUID          `gorm:"type:uuid;primaryKey" json:"user_id"`
	SubscriptionTier   Tier               `gorm:"type:varchar(16);not null;default:standard" json:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(16);not null;default:trial" json:"subscription_status"`
	CreditBalance      float64            `gorm:"type:decimal(20,6);not null;default:0" json:"credit_balance"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (p Profile) IsStandard() bool { return p.SubscriptionTier != TierLegacy }

func (p Profile) OnTrial() bool { return p.SubscriptionStatus == StatusTrial }
