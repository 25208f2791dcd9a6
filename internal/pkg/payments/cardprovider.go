package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/jkubiena/Weddinko/app/models"
	"github.com/jkubiena/Weddinko/internal/pkg/env"
)

// CardProvider normalizes push webhooks from the card-processor provider.
// The provider signs the raw body with a shared secret; the signature header
// is the only authentication the endpoint has.
type CardProvider struct {
	WebhookSecret string
}

func NewCardProviderFromEnv() *CardProvider {
	return &CardProvider{
		WebhookSecret: strings.TrimSpace(env.GetEnv("CARD_WEBHOOK_SECRET", "")),
	}
}

type cardWebhookPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payment struct {
		ID           string            `json:"id"`
		ParentID     string            `json:"parent_id"`
		Amount       int64             `json:"amount"`
		Currency     string            `json:"currency"`
		Customer     string            `json:"customer"`
		Subscription string            `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
	} `json:"payment"`
}

// VerifySignature recomputes the HMAC-SHA256 digest of payload and compares
// it against the hex signature header in constant time.
func (p *CardProvider) VerifySignature(payload []byte, signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(p.WebhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// Normalize verifies the payload and turns it into a canonical PaymentEvent.
// Unrecognized event types become a NoOp event so the provider is not trained
// to retry deliveries we intentionally ignore.
func (p *CardProvider) Normalize(payload []byte, signatureHeader string) (*PaymentEvent, error) {
	if !p.VerifySignature(payload, signatureHeader) {
		return nil, newSignatureError("card provider signature mismatch")
	}

	var raw cardWebhookPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, newSignatureError("card provider payload is not valid JSON")
	}

	ev := &PaymentEvent{
		Provider:        models.PaymentProviderCard,
		ProviderEventID: strings.TrimSpace(raw.ID),
		EventType:       strings.TrimSpace(raw.Type),
		RawPayloadJSON:  string(payload),
	}

	status, kind := mapCardEventType(raw.Type)
	if kind == EventKindNoOp {
		ev.Kind = EventKindNoOp
		return ev, nil
	}

	ev.Kind = kind
	ev.Status = status
	ev.ProviderPaymentRef = strings.TrimSpace(raw.Payment.ID)
	ev.ParentProviderPaymentRef = strings.TrimSpace(raw.Payment.ParentID)
	ev.ProviderCustomerRef = strings.TrimSpace(raw.Payment.Customer)
	ev.ProviderSubscriptionRef = strings.TrimSpace(raw.Payment.Subscription)
	ev.Amount = raw.Payment.Amount
	ev.Currency = strings.ToUpper(strings.TrimSpace(raw.Payment.Currency))
	ev.RawProviderState = strings.TrimSpace(raw.Type)

	// The account identifier was embedded by us at checkout time. The payload
	// is authenticated at this point, so reading it back is safe.
	ev.AccountID = strings.TrimSpace(raw.Payment.Metadata["account_id"])
	ev.Plan = strings.TrimSpace(raw.Payment.Metadata["plan"])

	if kind == EventKindPayment {
		if ev.ProviderPaymentRef == "" {
			return nil, newSignatureError("card provider payload missing payment id")
		}
		if ev.AccountID == "" {
			return nil, newUnresolvableAccountError("card provider payload missing account metadata", nil)
		}
		if ev.ProviderEventID == "" {
			ev.ProviderEventID = "pay:" + ev.ProviderPaymentRef
		}
	}
	if kind == EventKindCancelIntent && ev.AccountID == "" {
		return nil, newUnresolvableAccountError("card provider cancellation missing account metadata", nil)
	}

	return ev, nil
}

func mapCardEventType(eventType string) (status, kind string) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "payment.succeeded", "charge.succeeded":
		return models.PaymentStatusSucceeded, EventKindPayment
	case "payment.failed", "charge.failed":
		return models.PaymentStatusFailed, EventKindPayment
	case "payment.refunded", "charge.refunded":
		return models.PaymentStatusRefunded, EventKindPayment
	case "payment.pending":
		return models.PaymentStatusPending, EventKindPayment
	case "subscription.cancelled", "subscription.canceled":
		return "", EventKindCancelIntent
	default:
		return "", EventKindNoOp
	}
}
