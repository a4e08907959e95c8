package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"questionbank_go_backend/internal/auth"
	apperrors "questionbank_go_backend/internal/errors"
	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/pricing"
	"questionbank_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

const testSecret = "route-secret"

type fakeUsers struct {
	user    *models.User
	profile *models.Profile
}

func (f *fakeUsers) CreateOrUpdateUser(ctx context.Context, authSubject, email, name, nickname string) (*models.User, error) {
	return f.user, nil
}

func (f *fakeUsers) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	if f.profile == nil {
		return nil, apperrors.NewProfileNotFound()
	}
	return f.profile, nil
}

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, userID uuid.UUID, req services.AnalysisRequest) (*services.AnalysisResult, error) {
	args := m.Called(ctx, userID, req)
	if r := args.Get(0); r != nil {
		return r.(*services.AnalysisResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeUsage struct {
	logs []models.UsageLog
}

func (f *fakeUsage) CountUsage(ctx context.Context, userID uuid.UUID) (int64, error) {
	return int64(len(f.logs)), nil
}

func (f *fakeUsage) FindUsage(ctx context.Context, userID uuid.UUID, questionID, modelID string) (*models.UsageLog, error) {
	return nil, nil
}

func (f *fakeUsage) ListUsage(ctx context.Context, userID uuid.UUID, limit int) ([]models.UsageLog, error) {
	if limit > 0 && limit < len(f.logs) {
		return f.logs[:limit], nil
	}
	return f.logs, nil
}

type fakeStatements struct {
	err error
}

func (f fakeStatements) WriteStatement(ctx context.Context, userID uuid.UUID, now time.Time, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("%PDF-1.3 fake"))
	return err
}

type fakePayments struct {
	webhookErr error
}

func (f fakePayments) CreateTopUpSession(ctx context.Context, userID uuid.UUID, amount float64) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout"}, nil
}

func (f fakePayments) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	return f.webhookErr
}

type routeEnv struct {
	router   *gin.Engine
	analyzer *MockAnalyzer
	users    *fakeUsers
	token    string
}

func newRouteEnv(t *testing.T) *routeEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	user := &models.User{ID: uuid.New(), AuthSubject: "auth0|route"}
	users := &fakeUsers{
		user: user,
		profile: &models.Profile{
			UserID:             user.ID,
			SubscriptionTier:   models.TierStandard,
			SubscriptionStatus: models.StatusTrial,
			CreditBalance:      1.5,
		},
	}
	analyzer := new(MockAnalyzer)

	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()))
	SetupRoutes(r, Deps{
		Users:      users,
		Verifier:   auth.NewSecretVerifier(testSecret),
		Analysis:   analyzer,
		Usage:      &fakeUsage{logs: []models.UsageLog{{QuestionID: "q1"}, {QuestionID: "q2"}}},
		Calculator: pricing.NewCalculator(pricing.NewStaticSource(pricing.DefaultConfig())),
		Statements: fakeStatements{},
		Payments:   fakePayments{},
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "auth0|route",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	return &routeEnv{router: r, analyzer: analyzer, users: users, token: token}
}

func (e *routeEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func analysisBody() map[string]any {
	return map[string]any{
		"questionId":   "q1",
		"question":     "Which organ produces insulin?",
		"options":      []string{"Liver", "Pancreas"},
		"questionType": "MCQ",
		"modelId":      "gemini-2.5-flash",
	}
}

func TestAnalysisHandler_Success(t *testing.T) {
	env := newRouteEnv(t)
	env.analyzer.On("Analyze", mock.Anything, env.users.user.ID, mock.MatchedBy(func(r services.AnalysisRequest) bool {
		return r.QuestionID == "q1" && len(r.Options) == 2
	})).Return(&services.AnalysisResult{
		Analysis: "B",
		Source:   models.SourceAPI,
		Cost:     0.106,
		Tokens:   services.TokenUsage{Input: 1000, Output: 2000, Thinking: 10},
	}, nil).Once()

	w := env.do(http.MethodPost, "/api/ai-analysis", analysisBody())
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "B", body["analysis"])
	assert.Equal(t, "api", body["source"])
	assert.Equal(t, 0.106, body["cost"])
	assert.Equal(t, 1000.0, body["tokens"].(map[string]any)["input"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	env.analyzer.AssertExpectations(t)
}

func TestAnalysisHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"insufficient funds", apperrors.NewInsufficientFunds(0.2, 0.1), http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{"trial limit", apperrors.NewTrialLimitReached(2), http.StatusPaymentRequired, "TRIAL_LIMIT_REACHED"},
		{"profile", apperrors.NewProfileNotFound(), http.StatusNotFound, "PROFILE_NOT_FOUND"},
		{"generation", apperrors.NewGenerationError(assert.AnError), http.StatusBadGateway, "GENERATION_FAILED"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newRouteEnv(t)
			env.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			w := env.do(http.MethodPost, "/api/ai-analysis", analysisBody())
			assert.Equal(t, tt.status, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.typ, body["type"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAnalysisHandler_InsufficientFundsDetails(t *testing.T) {
	env := newRouteEnv(t)
	env.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.NewInsufficientFunds(0.2, 0.1)).Once()

	w := env.do(http.MethodPost, "/api/ai-analysis", analysisBody())
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0.2, body["required"])
	assert.Equal(t, 0.1, body["available"])
}

func TestAnalysisHandler_BadBody(t *testing.T) {
	env := newRouteEnv(t)
	w := env.do(http.MethodPost, "/api/ai-analysis", map[string]any{"questionId": "q1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalysisHandler_RequiresAuth(t *testing.T) {
	env := newRouteEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/ai-analysis", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWalletHandler(t *testing.T) {
	env := newRouteEnv(t)
	w := env.do(http.MethodGet, "/api/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "standard", body["tier"])
	assert.Equal(t, "trial", body["status"])
	assert.Equal(t, 1.5, body["balance"])
	assert.Equal(t, 0.0, body["trialRemaining"])
}

func TestWalletHandler_ProfileMissing(t *testing.T) {
	env := newRouteEnv(t)
	env.users.profile = nil
	w := env.do(http.MethodGet, "/api/wallet", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsageHandler(t *testing.T) {
	env := newRouteEnv(t)

	w := env.do(http.MethodGet, "/api/usage?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Usage []models.UsageLog `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Usage, 1)

	w = env.do(http.MethodGet, "/api/usage?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatementHandler(t *testing.T) {
	env := newRouteEnv(t)
	w := env.do(http.MethodGet, "/api/usage/statement", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "usage-statement-")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestPricingHandler(t *testing.T) {
	env := newRouteEnv(t)
	w := env.do(http.MethodGet, "/api/pricing", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg pricing.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 20.0, cfg.PaidTierMultiplier)
	assert.Equal(t, 2, cfg.TrialAllowance)
}

func TestTopUpHandler(t *testing.T) {
	env := newRouteEnv(t)
	w := env.do(http.MethodPost, "/api/wallet/top-up", map[string]any{"amount": 10})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cs_1")
}

func TestStripeWebhookHandler_NoAuthRequired(t *testing.T) {
	env := newRouteEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=x")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
