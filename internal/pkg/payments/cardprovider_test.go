package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/jkubiena/Weddinko/app/models"
)

func signCardPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCardProviderVerifySignature(t *testing.T) {
	p := &CardProvider{WebhookSecret: "top-secret"}
	payload := []byte(`{"foo":"bar"}`)

	if !p.VerifySignature(payload, signCardPayload(payload, "top-secret")) {
		t.Fatalf("expected valid signature to verify")
	}
	if p.VerifySignature(payload, signCardPayload(payload, "wrong-secret")) {
		t.Fatalf("expected signature with wrong secret to fail")
	}
	if p.VerifySignature(payload, "not-hex") {
		t.Fatalf("expected non-hex signature to fail")
	}
	if p.VerifySignature(payload, "") {
		t.Fatalf("expected empty signature to fail")
	}

	empty := &CardProvider{WebhookSecret: ""}
	if empty.VerifySignature(payload, signCardPayload(payload, "")) {
		t.Fatalf("expected missing secret to reject everything")
	}
}

func TestMapCardEventType(t *testing.T) {
	tests := []struct {
		in         string
		wantStatus string
		wantKind   string
	}{
		{in: "payment.succeeded", wantStatus: models.PaymentStatusSucceeded, wantKind: EventKindPayment},
		{in: "charge.succeeded", wantStatus: models.PaymentStatusSucceeded, wantKind: EventKindPayment},
		{in: "payment.failed", wantStatus: models.PaymentStatusFailed, wantKind: EventKindPayment},
		{in: "payment.refunded", wantStatus: models.PaymentStatusRefunded, wantKind: EventKindPayment},
		{in: "payment.pending", wantStatus: models.PaymentStatusPending, wantKind: EventKindPayment},
		{in: "subscription.cancelled", wantStatus: "", wantKind: EventKindCancelIntent},
		{in: "subscription.canceled", wantStatus: "", wantKind: EventKindCancelIntent},
		{in: "customer.updated", wantStatus: "", wantKind: EventKindNoOp},
		{in: "", wantStatus: "", wantKind: EventKindNoOp},
	}

	for _, tt := range tests {
		status, kind := mapCardEventType(tt.in)
		if status != tt.wantStatus || kind != tt.wantKind {
			t.Fatalf("mapCardEventType(%q) = (%q, %q), want (%q, %q)", tt.in, status, kind, tt.wantStatus, tt.wantKind)
		}
	}
}

func TestCardProviderNormalize(t *testing.T) {
	p := &CardProvider{WebhookSecret: "top-secret"}
	payload := []byte(`{
		"id": "evt_1",
		"type": "payment.succeeded",
		"payment": {
			"id": "pay_1",
			"amount": 29900,
			"currency": "czk",
			"customer": "cus_9",
			"subscription": "sub_9",
			"metadata": { "account_id": "acc_42", "plan": "monthly" }
		}
	}`)

	ev, err := p.Normalize(payload, signCardPayload(payload, "top-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventKindPayment || ev.Status != models.PaymentStatusSucceeded {
		t.Fatalf("unexpected kind/status: %q/%q", ev.Kind, ev.Status)
	}
	if ev.Provider != models.PaymentProviderCard || ev.ProviderEventID != "evt_1" {
		t.Fatalf("unexpected provider identifiers: %q/%q", ev.Provider, ev.ProviderEventID)
	}
	if ev.ProviderPaymentRef != "pay_1" || ev.AccountID != "acc_42" || ev.Plan != "monthly" {
		t.Fatalf("unexpected payment fields: ref=%q account=%q plan=%q", ev.ProviderPaymentRef, ev.AccountID, ev.Plan)
	}
	if ev.Amount != 29900 || ev.Currency != "CZK" {
		t.Fatalf("unexpected amount/currency: %d %q", ev.Amount, ev.Currency)
	}
	if ev.ProviderCustomerRef != "cus_9" || ev.ProviderSubscriptionRef != "sub_9" {
		t.Fatalf("unexpected provider refs: %q/%q", ev.ProviderCustomerRef, ev.ProviderSubscriptionRef)
	}
}

func TestCardProviderNormalizeBadSignature(t *testing.T) {
	p := &CardProvider{WebhookSecret: "top-secret"}
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)

	_, err := p.Normalize(payload, "deadbeef")
	ve, ok := AsVerificationError(err)
	if !ok || ve.Code != VerificationCodeInvalidSignature {
		t.Fatalf("expected invalid_signature error, got %v", err)
	}
}

func TestCardProviderNormalizeUnknownTypeIsNoOp(t *testing.T) {
	p := &CardProvider{WebhookSecret: "top-secret"}
	payload := []byte(`{"id":"evt_2","type":"customer.updated"}`)

	ev, err := p.Normalize(payload, signCardPayload(payload, "top-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventKindNoOp {
		t.Fatalf("expected noop event, got %q", ev.Kind)
	}
}

func TestCardProviderNormalizeMissingAccount(t *testing.T) {
	p := &CardProvider{WebhookSecret: "top-secret"}
	payload := []byte(`{"id":"evt_3","type":"payment.succeeded","payment":{"id":"pay_3","amount":100}}`)

	_, err := p.Normalize(payload, signCardPayload(payload, "top-secret"))
	ve, ok := AsVerificationError(err)
	if !ok || ve.Code != VerificationCodeUnresolvableAccount {
		t.Fatalf("expected unresolvable_account error, got %v", err)
	}
}

func TestCardProviderNormalizeEventIDFallback(t *testing.T) {
	p := &CardProvider{WebhookSecret: "top-secret"}
	payload := []byte(`{"type":"payment.succeeded","payment":{"id":"pay_7","amount":100,"metadata":{"account_id":"acc_1"}}}`)

	ev, err := p.Normalize(payload, signCardPayload(payload, "top-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ProviderEventID != "pay:pay_7" {
		t.Fatalf("expected derived event id, got %q", ev.ProviderEventID)
	}
}
