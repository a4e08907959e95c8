package services

import (
	"context"
	"testing"
	"time"

	"questionbank_go_backend/internal/database"
	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/pricing"
	"questionbank_go_backend/internal/utils/broker"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt, modelID string) (*GenerationResult, error) {
	args := m.Called(ctx, prompt, modelID)
	if r := args.Get(0); r != nil {
		return r.(*GenerationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, tier models.Tier, status models.SubscriptionStatus, balance float64) uuid.UUID {
	t.Helper()
	user := models.User{AuthSubject: "auth0|" + uuid.NewString()}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.Profile{
		UserID:             user.ID,
		SubscriptionTier:   tier,
		SubscriptionStatus: status,
		CreditBalance:      balance,
	}).Error)
	return user.ID
}

func balanceFor(t *testing.T, db *gorm.DB, userID uuid.UUID) float64 {
	t.Helper()
	var p models.Profile
	require.NoError(t, db.Where("user_id = ?", userID).First(&p).Error)
	return p.CreditBalance
}

func usageRows(t *testing.T, db *gorm.DB, userID uuid.UUID) []models.UsageLog {
	t.Helper()
	var rows []models.UsageLog
	require.NoError(t, db.Where("user_id = ?", userID).Order("id").Find(&rows).Error)
	return rows
}

type testEnv struct {
	db        *gorm.DB
	service   *AnalysisService
	generator *MockGenerator
	cache     AnalysisCacheDB
	broker    *broker.Broker[broker.BalanceUpdate]
}

func newTestEnv(t *testing.T, locker GenerationLocker) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	gen := new(MockGenerator)
	b := broker.NewBroker[broker.BalanceUpdate]()
	usage := NewUsageLogDB(db)
	cache := NewAnalysisCacheDB(db)

	svc := NewAnalysisService(AnalysisDeps{
		Profiles:     NewUserService(db),
		Entitlements: NewEntitlementService(usage),
		Usage:        usage,
		Cache:        cache,
		Generator:    gen,
		Locker:       locker,
		Ledger:       NewLedgerService(db, b, nil),
		Calculator:   pricing.NewCalculator(pricing.NewStaticSource(pricing.DefaultConfig())),
		LockTTL:      time.Minute,
		LockWait:     2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	return &testEnv{db: db, service: svc, generator: gen, cache: cache, broker: b}
}

func mcqRequest(questionID string) AnalysisRequest {
	return AnalysisRequest{
		QuestionID:     questionID,
		QuestionText:   "Which organ produces insulin?",
		Options:        []string{"Liver", "Pancreas", "Kidney", "Spleen"},
		OfficialAnswer: "B",
		QuestionType:   QuestionTypeMCQ,
		ModelID:        "gemini-2.5-flash",
	}
}

// flashResult costs 0.0053 on gemini-2.5-flash: 1000 in at 0.30, 2000 out at 2.50.
func flashResult() *GenerationResult {
	return &GenerationResult{
		Text:           "Answer: B. The pancreas produces insulin.",
		InputTokens:    1000,
		OutputTokens:   2000,
		ThinkingTokens: 150,
	}
}

const (
	flashRealCost     = 0.0053
	flashPaidDeduct   = 0.106
	flashLegacyDeduct = 0.0053
)
