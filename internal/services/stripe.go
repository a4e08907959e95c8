package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	apperrors "questionbank_go_backend/internal/errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	minTopUpAmount = 1.0
	maxTopUpAmount = 500.0
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type StripeService struct {
	cfg    StripeConfig
	ledger Ledger
	// newSession is session.New outside tests.
	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeService(cfg StripeConfig, ledger Ledger) *StripeService {
	stripe.Key = cfg.SecretKey
	return &StripeService{
		cfg:        cfg,
		ledger:     ledger,
		newSession: session.New,
	}
}

// CreateTopUpSession opens a Stripe checkout for amount dollars of credit.
func (s *StripeService) CreateTopUpSession(ctx context.Context, userID uuid.UUID, amount float64) (*stripe.CheckoutSession, error) {
	if amount < minTopUpAmount || amount > maxTopUpAmount {
		return nil, apperrors.New400Error(fmt.Sprintf("top-up amount must be between %.2f and %.2f", minTopUpAmount, maxTopUpAmount))
	}
	cents := int64(math.Round(amount * 100))

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("usd"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%.2f analysis credits", amount)),
					},
					UnitAmount: stripe.Int64(cents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(userID.String()),
		Metadata: map[string]string{
			"user_id": userID.String(),
			"credits": fmt.Sprintf("%.2f", amount),
		},
	}
	params.Context = ctx

	sess, err := s.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess, nil
}

// HandleWebhook verifies a Stripe event and credits the wallet for completed
// checkouts. Replayed events credit nothing.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	log := zerolog.Ctx(ctx)

	event, err := webhook.ConstructEvent(payload, signatureHeader, s.cfg.WebhookSecret)
	if err != nil {
		return apperrors.New400Error("invalid webhook signature")
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		log.Debug().Str("event_type", string(event.Type)).Msg("ignoring stripe event")
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return apperrors.New400Error("malformed checkout session")
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.Info().Str("session_id", sess.ID).Msg("checkout completed without payment")
		return nil
	}

	userID, err := uuid.Parse(sess.ClientReferenceID)
	if err != nil {
		return apperrors.New400Error("checkout session has no valid client reference")
	}
	amount := float64(sess.AmountTotal) / 100

	credited, err := s.ledger.CreditTopUp(ctx, userID, amount, sess.ID)
	if err != nil {
		return err
	}
	log.Info().
		Str("session_id", sess.ID).
		Str("user_id", userID.String()).
		Float64("amount", amount).
		Bool("credited", credited).
		Msg("processed checkout session")
	return nil
}
