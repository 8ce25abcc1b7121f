package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

const maxWebhookBody = 65536

// Checkout and charge metadata keys set by the web app when it creates the session.
const (
	MetadataUserID = "user_id"
	MetadataPlan   = "plan"
)

// Wallet is the part of the ledger billing writes to.
type Wallet interface {
	Grant(ctx context.Context, userID string, amount int64, reference string) error
	Deduct(ctx context.Context, userID string, amount int64, reference string) error
}

// WebhookHandler receives Stripe events at POST /api/stripe/webhook.
type WebhookHandler struct {
	secret string
	wallet Wallet
	log    infra.Logger
}

func NewWebhookHandler(secret string, wallet Wallet, log infra.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, wallet: wallet, log: log}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		http.Error(w, "webhooks not configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.log.Warn().Err(err).Msg("billing: reject stripe webhook")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.handleEvent(r.Context(), event); err != nil {
		// Grants and deductions are keyed by a Stripe reference, so a retried event is safe.
		h.log.Error().Err(err).Str("event_id", event.ID).Str("type", string(event.Type)).Msg("billing: handle stripe event")
		http.Error(w, "event not processed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "charge.refunded":
		return h.handleChargeRefunded(ctx, event)
	default:
		h.log.Debug().Str("type", string(event.Type)).Msg("billing: ignore stripe event")
		return nil
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.log.Info().Str("session_id", session.ID).Str("payment_status", string(session.PaymentStatus)).Msg("billing: checkout not paid yet")
		return nil
	}
	userID := session.Metadata[MetadataUserID]
	if userID == "" {
		userID = session.ClientReferenceID
	}
	plan := session.Metadata[MetadataPlan]
	credits, ok := CreditsForPlan(plan)
	if userID == "" || !ok {
		h.log.Warn().Str("session_id", session.ID).Str("plan", plan).Msg("billing: checkout without user or known plan")
		return nil
	}

	if err := h.wallet.Grant(ctx, userID, credits, "stripe:checkout:"+session.ID); err != nil {
		return fmt.Errorf("grant plan credits: %w", err)
	}
	h.log.Info().Str("user_id", userID).Str("plan", plan).Int64("credits", credits).Msg("billing: credits granted")
	return nil
}

func (h *WebhookHandler) handleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("decode charge: %w", err)
	}
	userID := charge.Metadata[MetadataUserID]
	plan := charge.Metadata[MetadataPlan]
	credits, ok := CreditsForPlan(plan)
	if userID == "" || !ok {
		h.log.Warn().Str("charge_id", charge.ID).Msg("billing: refund without user or known plan")
		return nil
	}
	amount := refundCredits(credits, charge.Amount, charge.AmountRefunded)
	if amount == 0 {
		return nil
	}

	err := h.wallet.Deduct(ctx, userID, amount, "stripe:refund:"+charge.ID)
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		// Credits were already spent; the refund stands and support reconciles by hand.
		h.log.Warn().Str("user_id", userID).Str("charge_id", charge.ID).Int64("credits", amount).Msg("billing: refund exceeds balance")
		return nil
	case err != nil:
		return fmt.Errorf("deduct refunded credits: %w", err)
	}
	h.log.Info().Str("user_id", userID).Str("charge_id", charge.ID).Int64("credits", amount).Msg("billing: credits deducted")
	return nil
}
