package controllers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/jkubiena/Weddinko/internal/pkg/affiliate"
	"github.com/jkubiena/Weddinko/internal/pkg/database"
	"github.com/jkubiena/Weddinko/internal/pkg/invoicing"
	"github.com/jkubiena/Weddinko/internal/pkg/payments"
)

const webhookTimeout = 15 * time.Second

// Applier is the slice of the payments engine the webhook endpoints use.
type Applier interface {
	Apply(ctx context.Context, event *payments.PaymentEvent) (*payments.Outcome, error)
}

// CardEventNormalizer verifies and normalizes card-provider push payloads.
type CardEventNormalizer interface {
	Normalize(payload []byte, signatureHeader string) (*payments.PaymentEvent, error)
}

// RedirectEventNormalizer resolves redirect-provider notifications via the
// provider's status API.
type RedirectEventNormalizer interface {
	Normalize(ctx context.Context, paymentID, parentPaymentID string) (*payments.PaymentEvent, error)
}

var (
	paymentStackMu     sync.Mutex
	paymentsApplier    Applier
	cardNormalizer     CardEventNormalizer
	redirectNormalizer RedirectEventNormalizer
)

// SetupPaymentStack wires the webhook handlers. Called once from main; tests
// install fakes through it.
func SetupPaymentStack(a Applier, card CardEventNormalizer, redirect RedirectEventNormalizer) {
	paymentStackMu.Lock()
	defer paymentStackMu.Unlock()
	paymentsApplier = a
	cardNormalizer = card
	redirectNormalizer = redirect
}

func getPaymentStack() (Applier, CardEventNormalizer, RedirectEventNormalizer) {
	paymentStackMu.Lock()
	defer paymentStackMu.Unlock()
	if paymentsApplier == nil {
		db := database.GetDB()
		repo := payments.NewRepository(db)
		engine := payments.NewEngine(repo, invoicing.NewSequencerFromDB(db), affiliate.NewServiceFromDB(db), nil)
		paymentsApplier = engine
		cardNormalizer = payments.NewCardProviderFromEnv()
		redirectNormalizer = payments.NewRedirectNormalizer(payments.NewRedirectProviderClientFromEnv(), repo)
	}
	return paymentsApplier, cardNormalizer, redirectNormalizer
}

// HandleCardProviderWebhook receives the card provider's signed push
// notifications. 200 acknowledges processed-or-ignored events, 400 rejects a
// bad signature for good, and any internal failure answers 5xx so the
// provider retries; its retry is the only at-least-once guarantee we have.
func HandleCardProviderWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))

	applier, card, _ := getPaymentStack()

	event, err := card.Normalize(rawBody, signature)
	if err != nil {
		return respondWebhookError(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	outcome, err := applier.Apply(ctx, event)
	if err != nil {
		return respondWebhookError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"duplicate": outcome.Duplicate,
		"ignored":   outcome.Ignored,
	})
}

// HandleRedirectProviderWebhook receives the redirect provider's pull-style
// notification: just a payment id (plus parent id for recurring charges) that
// must be resolved against the provider's status API before anything can
// happen.
func HandleRedirectProviderWebhook(c *fiber.Ctx) error {
	paymentID := strings.TrimSpace(c.Query("id"))
	parentID := strings.TrimSpace(c.Query("parent_id"))
	if paymentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_payment_id"})
	}

	applier, _, redirect := getPaymentStack()

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	event, err := redirect.Normalize(ctx, paymentID, parentID)
	if err != nil {
		return respondWebhookError(c, err)
	}

	outcome, err := applier.Apply(ctx, event)
	if err != nil {
		return respondWebhookError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"accepted":  true,
		"duplicate": outcome.Duplicate,
		"ignored":   outcome.Ignored,
	})
}

func respondWebhookError(c *fiber.Ctx, err error) error {
	if ve, ok := payments.AsVerificationError(err); ok {
		switch ve.Code {
		case payments.VerificationCodeInvalidSignature:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		case payments.VerificationCodeUnresolvableAccount:
			log.Errorf("[Webhook] unresolvable account: %v", err)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account_not_resolved"})
		}
	}
	if errors.Is(err, payments.ErrProviderUnavailable) {
		log.Warnf("[Webhook] provider lookup unavailable: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
	}
	log.Errorf("[Webhook] processing failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
}
