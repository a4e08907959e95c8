package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"questionbank_go_backend/internal/auth"
	apperrors "questionbank_go_backend/internal/errors"
	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/pricing"
	"questionbank_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
	maxWebhookBytes   = int64(65536)
)

type Analyzer interface {
	Analyze(ctx context.Context, userID uuid.UUID, req services.AnalysisRequest) (*services.AnalysisResult, error)
}

type StatementWriter interface {
	WriteStatement(ctx context.Context, userID uuid.UUID, now time.Time, w io.Writer) error
}

type Payments interface {
	CreateTopUpSession(ctx context.Context, userID uuid.UUID, amount float64) (*stripe.CheckoutSession, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, user *models.User)
}

type UserService interface {
	auth.UserUpserter
	services.ProfileStore
}

// Deps is everything the HTTP layer needs.
type Deps struct {
	Users      UserService
	Verifier   auth.TokenVerifier
	Analysis   Analyzer
	Usage      services.UsageLogDB
	Calculator *pricing.Calculator
	Statements StatementWriter
	Payments   Payments
	WebSocket  WebSocketHandler
}

func SetupRoutes(r *gin.Engine, d Deps) {
	authed := auth.AuthMiddleware(d.Users, d.Verifier)

	api := r.Group("/api")
	{
		api.POST("/ai-analysis", authed, analysisHandler(d.Analysis))
		api.GET("/wallet", authed, walletHandler(d.Users, d.Usage, d.Calculator))
		api.GET("/usage", authed, usageHandler(d.Usage))
		api.GET("/usage/statement", authed, statementHandler(d.Statements))
		api.GET("/pricing", authed, pricingHandler(d.Calculator))
		if d.Payments != nil {
			api.POST("/wallet/top-up", authed, topUpHandler(d.Payments))
			api.POST("/stripe/webhook", stripeWebhookHandler(d.Payments))
		}
	}

	if d.WebSocket != nil {
		r.GET("/ws/wallet", authed, func(c *gin.Context) {
			user, _ := auth.CurrentUser(c)
			d.WebSocket.HandleWebSocket(c.Writer, c.Request, user)
		})
	}
}

func currentUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		apperrors.HandleError(c, apperrors.New401Error("User not found in context"))
		return nil, false
	}
	return user, true
}

func analysisHandler(analysis Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var request services.AnalysisRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		result, err := analysis.Analyze(c.Request.Context(), user.ID, request)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func walletHandler(profiles services.ProfileStore, usage services.UsageLogDB, calc *pricing.Calculator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		profile, err := profiles.GetProfile(c.Request.Context(), user.ID)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}
		count, err := usage.CountUsage(c.Request.Context(), user.ID)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tier":           profile.SubscriptionTier,
			"status":         profile.SubscriptionStatus,
			"balance":        profile.CreditBalance,
			"trialRemaining": calc.TrialRemaining(*profile, count),
			"usageCount":     count,
		})
	}
}

func usageHandler(usage services.UsageLogDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		limit := defaultUsageLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				apperrors.HandleError(c, apperrors.New400Error("limit must be a positive integer"))
				return
			}
			limit = min(n, maxUsageLimit)
		}

		logs, err := usage.ListUsage(c.Request.Context(), user.ID, limit)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"usage": logs})
	}
}

func statementHandler(statements StatementWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		now := time.Now()
		// Rendered into a buffer so a failure can still produce a JSON error.
		var buf bytes.Buffer
		if err := statements.WriteStatement(c.Request.Context(), user.ID, now, &buf); err != nil {
			apperrors.HandleError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=usage-statement-"+now.UTC().Format("20060102")+".pdf")
		c.Data(http.StatusOK, "application/pdf", buf.Bytes())
	}
}

func pricingHandler(calc *pricing.Calculator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, calc.Config())
	}
}

func topUpHandler(payments Payments) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var request struct {
			Amount float64 `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		session, err := payments.CreateTopUpSession(c.Request.Context(), user.ID, request.Amount)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "url": session.URL})
	}
}

func stripeWebhookHandler(payments Payments) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Error reading request body"))
			return
		}

		if err := payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
