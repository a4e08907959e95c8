package services

import (
	"context"
	"errors"
	"fmt"

	"questionbank_go_backend/internal/database"
	apperrors "questionbank_go_backend/internal/errors"
	"questionbank_go_backend/internal/metrics"
	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/utils/broker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementRequest is everything the ledger records for one billed analysis.
type SettlementRequest struct {
	UserID          uuid.UUID
	Tier            models.Tier
	QuestionID      string
	ModelID         string
	Source          models.ResultSource
	InputTokens     int
	OutputTokens    int
	ThinkingTokens  int
	TokensEstimated bool
	RealCost        float64
	Deduction       float64
}

// Settlement is the outcome of Settle. When AlreadyEntitled is set a
// concurrent request won the race and nothing was written or charged.
type Settlement struct {
	Entry           *models.UsageLog
	Charged         float64
	Balance         float64
	AlreadyEntitled bool
}

type LedgerService struct {
	db      *gorm.DB
	broker  *broker.Broker[broker.BalanceUpdate]
	metrics *metrics.Metrics
}

func NewLedgerService(db *gorm.DB, b *broker.Broker[broker.BalanceUpdate], m *metrics.Metrics) *LedgerService {
	return &LedgerService{db: db, broker: b, metrics: m}
}

// Settle writes the usage row and the deduction in one transaction. Standard
// tier wallets are never taken below zero; legacy wallets may be.
func (s *LedgerService) Settle(ctx context.Context, req SettlementRequest) (*Settlement, error) {
	log := zerolog.Ctx(ctx)

	entry := &models.UsageLog{
		UserID:          req.UserID,
		QuestionID:      req.QuestionID,
		ModelID:         req.ModelID,
		ResultSource:    req.Source,
		InputTokens:     req.InputTokens,
		OutputTokens:    req.OutputTokens,
		ThinkingTokens:  req.ThinkingTokens,
		TokensEstimated: req.TokensEstimated,
		RealCost:        req.RealCost,
		Deduction:       req.Deduction,
	}
	result := &Settlement{Entry: entry}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "question_id"}, {Name: "model_id"}},
			DoNothing: true,
		}).Create(entry)
		if ins.Error != nil {
			if database.IsDuplicateKeyErr(ins.Error) {
				result.AlreadyEntitled = true
				return nil
			}
			return fmt.Errorf("failed to insert usage log: %w", ins.Error)
		}
		if ins.RowsAffected == 0 {
			result.AlreadyEntitled = true
			return nil
		}

		if req.Deduction > 0 {
			upd := tx.Model(&models.Profile{}).Where("user_id = ?", req.UserID)
			if req.Tier != models.TierLegacy {
				upd = upd.Where("credit_balance >= ?", req.Deduction)
			}
			upd = upd.Update("credit_balance", gorm.Expr("credit_balance - ?", req.Deduction))
			if upd.Error != nil {
				return fmt.Errorf("failed to deduct balance: %w", upd.Error)
			}
			if upd.RowsAffected == 0 {
				available, err := balanceOf(tx, req.UserID)
				if err != nil {
					return err
				}
				return apperrors.NewInsufficientFunds(req.Deduction, available)
			}
			result.Charged = req.Deduction
		}

		balance, err := balanceOf(tx, req.UserID)
		if err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyEntitled {
		result.Entry = nil
		s.metrics.RecordSettlementConflict()
		log.Info().
			Str("question_id", req.QuestionID).
			Str("model_id", req.ModelID).
			Msg("entitlement already recorded by a concurrent request")
		return result, nil
	}

	s.metrics.RecordDeduction(string(req.Tier), result.Charged)
	if result.Charged > 0 {
		s.broker.Publish(broker.BalanceTopic(req.UserID.String()), broker.BalanceUpdate{
			Balance: result.Balance,
			Delta:   -result.Charged,
			Reason:  "analysis",
		})
	}
	return result, nil
}

// CreditTopUp adds amount to the wallet once per Stripe session. A replayed
// session returns credited=false.
func (s *LedgerService) CreditTopUp(ctx context.Context, userID uuid.UUID, amount float64, stripeSessionID string) (bool, error) {
	if amount <= 0 {
		return false, apperrors.New400Error("top-up amount must be positive")
	}
	if stripeSessionID == "" {
		return false, apperrors.New400Error("missing checkout session id")
	}

	credited := false
	var balance float64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_session_id"}},
			DoNothing: true,
		}).Create(&models.WalletTopUp{
			UserID:          userID,
			StripeSessionID: stripeSessionID,
			Amount:          amount,
		})
		if ins.Error != nil {
			if database.IsDuplicateKeyErr(ins.Error) {
				return nil
			}
			return fmt.Errorf("failed to record top-up: %w", ins.Error)
		}
		if ins.RowsAffected == 0 {
			return nil
		}

		upd := tx.Model(&models.Profile{}).
			Where("user_id = ?", userID).
			Update("credit_balance", gorm.Expr("credit_balance + ?", amount))
		if upd.Error != nil {
			return fmt.Errorf("failed to credit balance: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return apperrors.NewProfileNotFound()
		}

		var err error
		balance, err = balanceOf(tx, userID)
		if err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if credited {
		s.metrics.RecordTopUp(amount)
		s.broker.Publish(broker.BalanceTopic(userID.String()), broker.BalanceUpdate{
			Balance: balance,
			Delta:   amount,
			Reason:  "top_up",
		})
	}
	return credited, nil
}

func balanceOf(tx *gorm.DB, userID uuid.UUID) (float64, error) {
	var profile models.Profile
	if err := tx.Select("credit_balance").Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperrors.NewProfileNotFound()
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return profile.CreditBalance, nil
}
