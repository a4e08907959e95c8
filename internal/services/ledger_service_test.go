package services

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "questionbank_go_backend/internal/errors"
	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/utils/broker"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settlement(userID uuid.UUID, tier models.Tier, deduction float64) SettlementRequest {
	return SettlementRequest{
		UserID:       userID,
		Tier:         tier,
		QuestionID:   "q1",
		ModelID:      "gemini-2.5-flash",
		Source:       models.SourceAPI,
		InputTokens:  1000,
		OutputTokens: 2000,
		RealCost:     deduction / 20,
		Deduction:    deduction,
	}
}

func TestSettle_DeductsAndLogs(t *testing.T) {
	db := setupTestDB(t)
	b := broker.NewBroker[broker.BalanceUpdate]()
	ledger := NewLedgerService(db, b, nil)
	userID := createTestUser(t, db, models.TierStandard, models.StatusActive, 1)

	updates := b.Subscribe(broker.BalanceTopic(userID.String()))

	res, err := ledger.Settle(context.Background(), settlement(userID, models.TierStandard, 0.25))
	require.NoError(t, err)
	assert.False(t, res.AlreadyEntitled)
	assert.Equal(t, 0.25, res.Charged)
	assert.InDelta(t, 0.75, res.Balance, 1e-9)
	require.NotNil(t, res.Entry)
	assert.NotZero(t, res.Entry.ID)

	select {
	case upd := <-updates:
		assert.InDelta(t, 0.75, upd.Balance, 1e-9)
		assert.Equal(t, -0.25, upd.Delta)
		assert.Equal(t, "analysis", upd.Reason)
	case <-time.After(time.Second):
		t.Fatal("no balance update published")
	}
}

func TestSettle_ZeroDeductionStillRecordsEntitlement(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedgerService(db, nil, nil)
	userID := createTestUser(t, db, models.TierStandard, models.StatusTrial, 0)

	req := settlement(userID, models.TierStandard, 0)
	req.Source = models.SourceTrialFree
	res, err := ledger.Settle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Charged)

	rows := usageRows(t, db, userID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SourceTrialFree, rows[0].ResultSource)
}

func TestSettle_StandardTierNeverGoesNegative(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedgerService(db, nil, nil)
	userID := createTestUser(t, db, models.TierStandard, models.StatusActive, 0.1)

	_, err := ledger.Settle(context.Background(), settlement(userID, models.TierStandard, 0.2))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeInsufficientFunds))
	assert.InDelta(t, 0.1, balanceFor(t, db, userID), 1e-9)
	assert.Empty(t, usageRows(t, db, userID))
}

func TestSettle_ExactBalanceIsEnough(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedgerService(db, nil, nil)
	userID := createTestUser(t, db, models.TierStandard, models.StatusActive, 0.5)

	res, err := ledger.Settle(context.Background(), settlement(userID, models.TierStandard, 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Balance, 1e-9)
}

func TestSettle_LegacyTierMayGoNegative(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedgerService(db, nil, nil)
	userID := createTestUser(t, db, models.TierLegacy, models.StatusActive, 0)

	res, err := ledger.Settle(context.Background(), settlement(userID, models.TierLegacy, 0.3))
	require.NoError(t, err)
	assert.InDelta(t, -0.3, res.Balance, 1e-9)
}

func TestSettle_ConcurrentSameTripleChargesOnce(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedgerService(db, nil, nil)
	userID := createTestUser(t, db, models.TierStandard, models.StatusActive, 10)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
		skipped int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Settle(context.Background(), settlement(userID, models.TierStandard, 1))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.AlreadyEntitled {
				skipped++
			} else {
				charged++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, charged)
	assert.Equal(t, workers-1, skipped)
	assert.InDelta(t, 9, balanceFor(t, db, userID), 1e-9)
	assert.Len(t, usageRows(t, db, userID), 1)
}

func TestCreditTopUp_IsIdempotentPerSession(t *testing.T) {
	db := setupTestDB(t)
	b := broker.NewBroker[broker.BalanceUpdate]()
	ledger := NewLedgerService(db, b, nil)
	userID := createTestUser(t, db, models.TierStandard, models.StatusTrial, 0)
	updates := b.Subscribe(broker.BalanceTopic(userID.String()))

	credited, err := ledger.CreditTopUp(context.Background(), userID, 20, "cs_test_1")
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = ledger.CreditTopUp(context.Background(), userID, 20, "cs_test_1")
	require.NoError(t, err)
	assert.False(t, credited)

	assert.Equal(t, 20.0, balanceFor(t, db, userID))
	assert.Len(t, updates, 1)
}

func TestCreditTopUp_Validation(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedgerService(db, nil, nil)
	userID := createTestUser(t, db, models.TierStandard, models.StatusTrial, 0)

	_, err := ledger.CreditTopUp(context.Background(), userID, 0, "cs_1")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeBadRequest))

	_, err = ledger.CreditTopUp(context.Background(), userID, 5, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeBadRequest))

	_, err = ledger.CreditTopUp(context.Background(), uuid.New(), 5, "cs_2")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeProfileNotFound))
}
