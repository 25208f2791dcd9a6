package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/jkubiena/Weddinko/app/models"
	"gorm.io/gorm"
)

const defaultCurrency = "CZK"

// InvoiceIssuer issues the fiscal document for one succeeded payment. It must
// be idempotent per payment record id.
type InvoiceIssuer interface {
	Issue(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Invoice, error)
}

// CommissionAttributor maps a confirmed payment back to a referral and writes
// the commission line. Returns (nil, nil) when no affiliate is involved.
type CommissionAttributor interface {
	Attribute(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Commission, error)
}

// BackfillEnqueuer schedules retries for the non-fatal side effects. Both
// targets are idempotent, so at-least-once delivery is enough.
type BackfillEnqueuer interface {
	EnqueueInvoiceBackfill(paymentRecordID uint, accountID string, amount int64, currency string) error
	EnqueueCommissionBackfill(paymentRecordID uint, accountID string, amount int64, currency string) error
}

// Engine is the subscription state machine. Given a canonical event plus the
// current subscription and ledger state it decides the new subscription
// state, the ledger rows to write and the side effects to request. All work
// for one account runs under a per-account lock; accounts never contend with
// each other.
type Engine struct {
	repo       Repository
	invoices   InvoiceIssuer
	affiliates CommissionAttributor
	backfill   BackfillEnqueuer

	locks *accountLocks
	now   func() time.Time
}

// NewEngine wires the state machine. backfill may be nil; side-effect
// failures are then only logged.
func NewEngine(repo Repository, invoices InvoiceIssuer, affiliates CommissionAttributor, backfill BackfillEnqueuer) *Engine {
	return &Engine{
		repo:       repo,
		invoices:   invoices,
		affiliates: affiliates,
		backfill:   backfill,
		locks:      newAccountLocks(),
		now:        time.Now,
	}
}

// Apply evolves the subscription lifecycle for one canonical event.
//
// Retried deliveries are safe: the webhook event row keyed by
// (provider, provider_event_id) stores the outcome of the first fully
// processed run and duplicates replay it without recomputation. A delivery
// that previously failed mid-way resumes instead; every step below is
// individually idempotent.
func (e *Engine) Apply(ctx context.Context, event *PaymentEvent) (*Outcome, error) {
	if event == nil {
		return nil, errors.New("event is required")
	}
	if event.Kind == EventKindNoOp {
		return &Outcome{Ignored: true}, nil
	}
	if event.AccountID == "" {
		return nil, newUnresolvableAccountError("event has no resolved account", nil)
	}

	unlock := e.locks.Lock(event.AccountID)
	defer unlock()

	created, evRow, err := e.repo.RecordWebhookEvent(&models.WebhookEvent{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		PayloadJSON:     event.RawPayloadJSON,
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}
	if !created && evRow.OutcomeJSON != "" {
		var replay Outcome
		if err := json.Unmarshal([]byte(evRow.OutcomeJSON), &replay); err == nil {
			replay.Duplicate = true
			return &replay, nil
		}
		// Corrupt outcome record: fall through and recompute, the steps are idempotent.
		log.Warnf("[Payments] unreadable outcome for webhook event %d, reprocessing", evRow.ID)
	}

	var outcome *Outcome
	switch event.Kind {
	case EventKindCancelIntent:
		outcome, err = e.handleCancelIntent(event)
	case EventKindPayment:
		switch event.Status {
		case models.PaymentStatusSucceeded:
			outcome, err = e.handleSucceeded(ctx, event)
		case models.PaymentStatusFailed:
			outcome, err = e.handleFailed(event)
		case models.PaymentStatusRefunded:
			outcome, err = e.handleRefunded(event)
		case models.PaymentStatusPending:
			outcome, err = e.handlePending(event)
		default:
			outcome = &Outcome{Ignored: true}
		}
	default:
		outcome = &Outcome{Ignored: true}
	}

	if err != nil {
		if markErr := e.repo.MarkWebhookProcessed(evRow.ID, "", err.Error()); markErr != nil {
			log.Errorf("[Payments] failed to mark webhook event %d: %v", evRow.ID, markErr)
		}
		return nil, err
	}

	outcomeJSON, _ := json.Marshal(outcome)
	if markErr := e.repo.MarkWebhookProcessed(evRow.ID, string(outcomeJSON), ""); markErr != nil {
		log.Errorf("[Payments] failed to record outcome for webhook event %d: %v", evRow.ID, markErr)
	}
	return outcome, nil
}

func (e *Engine) handleSucceeded(ctx context.Context, event *PaymentEvent) (*Outcome, error) {
	now := e.now()

	created, rec, err := e.createLedgerRow(event, models.PaymentStatusSucceeded, &now)
	if err != nil {
		return nil, err
	}
	if !created && rec.Status == models.PaymentStatusPending {
		// First and only amendment of a pending attempt.
		if err := e.repo.AmendPaymentStatus(rec.ID, models.PaymentStatusSucceeded, &now); err != nil {
			return nil, err
		}
		rec.Status = models.PaymentStatusSucceeded
		rec.PaidAt = &now
	}

	sub, err := e.loadOrInitSubscription(event.AccountID)
	if err != nil {
		return nil, err
	}

	plan := event.Plan
	if !models.IsValidPlan(plan) {
		plan = rec.Plan
	}
	if !models.IsValidPlan(plan) {
		plan = sub.Plan
	}
	if !models.IsValidPlan(plan) {
		plan = models.PlanMonthly
	}

	// Extend the period from the later of now and the previous period end so
	// a delayed webhook cannot truncate time the user already paid for.
	// Ledger ids are monotonic per account under the account lock, so the id
	// comparison makes the extension idempotent per payment: a re-notified
	// payment under a fresh event id can never buy a second extension, while
	// a resumed delivery that crashed before the subscription write still
	// extends.
	if rec.ID > sub.LastPaymentRecordID {
		start := now
		if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			start = *sub.CurrentPeriodEnd
		}
		end := models.PlanPeriodEnd(plan, start)
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		sub.LastPaymentRecordID = rec.ID
	}

	sub.Plan = plan
	sub.Status = models.SubscriptionStatusActive
	sub.CancelAtPeriodEnd = false
	if event.ProviderCustomerRef != "" {
		sub.ProviderCustomerRef = event.ProviderCustomerRef
	}
	if event.ProviderSubscriptionRef != "" {
		sub.ProviderSubscriptionRef = event.ProviderSubscriptionRef
	}
	if event.ParentProviderPaymentRef != "" {
		sub.ProviderParentPaymentRef = event.ParentProviderPaymentRef
	} else if event.Provider == models.PaymentProviderRedirect {
		// The initial redirect payment becomes the mandate all future
		// recurring charges reference.
		sub.ProviderParentPaymentRef = rec.ProviderPaymentRef
	}

	// A subscription that silently failed to extend after real money moved is
	// not acceptable; this write is the critical path and any error aborts.
	if err := e.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		PaymentRecordID:    rec.ID,
		PaymentPublicID:    rec.PublicID,
		SubscriptionStatus: sub.Status,
	}

	// Invoice and commission are individually recoverable by backfill, so
	// their failures never roll back the subscription extension.
	if inv, invErr := e.invoices.Issue(ctx, rec.ID, rec.AccountID, rec.Amount, rec.Currency); invErr != nil {
		log.Errorf("[Payments] invoice issuance failed for payment %d: %v", rec.ID, invErr)
		e.enqueueInvoiceBackfill(rec)
	} else if inv != nil {
		outcome.InvoiceNumber = inv.InvoiceNumber
	}

	if com, comErr := e.affiliates.Attribute(ctx, rec.ID, rec.AccountID, rec.Amount, rec.Currency); comErr != nil {
		log.Errorf("[Payments] commission attribution failed for payment %d: %v", rec.ID, comErr)
		e.enqueueCommissionBackfill(rec)
	} else if com != nil {
		outcome.CommissionID = com.ID
	}

	return outcome, nil
}

func (e *Engine) handleFailed(event *PaymentEvent) (*Outcome, error) {
	now := e.now()

	created, rec, err := e.createLedgerRow(event, models.PaymentStatusFailed, nil)
	if err != nil {
		return nil, err
	}
	if !created && rec.Status == models.PaymentStatusPending {
		if err := e.repo.AmendPaymentStatus(rec.ID, models.PaymentStatusFailed, nil); err != nil {
			return nil, err
		}
		rec.Status = models.PaymentStatusFailed
	}

	outcome := &Outcome{PaymentRecordID: rec.ID, PaymentPublicID: rec.PublicID}

	sub, err := e.repo.GetSubscriptionByAccount(event.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outcome, nil
		}
		return nil, err
	}

	downgrade := sub.Status == models.SubscriptionStatusTrialing || sub.Status == models.SubscriptionStatusActive
	if downgrade && sub.Status == models.SubscriptionStatusActive &&
		sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
		// Monotonicity guard: a late failure for an older payment must not
		// pull an account back to past_due after a newer payment already
		// advanced the period.
		newer, lookErr := e.repo.HasSucceededPaymentOtherThan(event.AccountID, rec.ID)
		if lookErr != nil {
			return nil, lookErr
		}
		if newer {
			downgrade = false
		}
	}

	if downgrade {
		sub.Status = models.SubscriptionStatusPastDue
		if err := e.repo.UpsertSubscription(sub); err != nil {
			return nil, err
		}
	}
	outcome.SubscriptionStatus = sub.Status
	return outcome, nil
}

func (e *Engine) handleRefunded(event *PaymentEvent) (*Outcome, error) {
	now := e.now()

	created, rec, err := e.createLedgerRow(event, models.PaymentStatusRefunded, nil)
	if err != nil {
		return nil, err
	}
	if !created && rec.Status != models.PaymentStatusRefunded {
		// Unlike the pending->final amendment, a refund may follow a
		// succeeded row.
		if err := e.repo.MarkPaymentRefunded(rec.ID); err != nil {
			return nil, err
		}
		rec.Status = models.PaymentStatusRefunded
	}

	outcome := &Outcome{PaymentRecordID: rec.ID, PaymentPublicID: rec.PublicID}

	sub, err := e.repo.GetSubscriptionByAccount(event.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outcome, nil
		}
		return nil, err
	}

	sub.Status = models.SubscriptionStatusCanceled
	sub.CurrentPeriodEnd = &now
	if err := e.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	outcome.SubscriptionStatus = sub.Status
	return outcome, nil
}

func (e *Engine) handlePending(event *PaymentEvent) (*Outcome, error) {
	_, rec, err := e.createLedgerRow(event, models.PaymentStatusPending, nil)
	if err != nil {
		return nil, err
	}
	return &Outcome{PaymentRecordID: rec.ID, PaymentPublicID: rec.PublicID}, nil
}

// handleCancelIntent only flips the cancellation flag. Cancellation-intent
// notifications never touch the payment ledger, invoices or commissions.
func (e *Engine) handleCancelIntent(event *PaymentEvent) (*Outcome, error) {
	sub, err := e.repo.GetSubscriptionByAccount(event.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Outcome{Ignored: true}, nil
		}
		return nil, err
	}

	sub.CancelAtPeriodEnd = true
	if err := e.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	return &Outcome{SubscriptionStatus: sub.Status}, nil
}

func (e *Engine) createLedgerRow(event *PaymentEvent, status string, paidAt *time.Time) (bool, *models.PaymentRecord, error) {
	currency := event.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return e.repo.CreatePaymentIfNotExists(&models.PaymentRecord{
		PublicID:                 uuid.NewString(),
		AccountID:                event.AccountID,
		Provider:                 event.Provider,
		ProviderPaymentRef:       event.ProviderPaymentRef,
		ParentProviderPaymentRef: event.ParentProviderPaymentRef,
		Amount:                   event.Amount,
		Currency:                 currency,
		Plan:                     event.Plan,
		Status:                   status,
		PaidAt:                   paidAt,
	})
}

func (e *Engine) loadOrInitSubscription(accountID string) (*models.Subscription, error) {
	sub, err := e.repo.GetSubscriptionByAccount(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Subscription{AccountID: accountID, Status: models.SubscriptionStatusNone}, nil
		}
		return nil, err
	}
	return sub, nil
}

func (e *Engine) enqueueInvoiceBackfill(rec *models.PaymentRecord) {
	if e.backfill == nil {
		return
	}
	if err := e.backfill.EnqueueInvoiceBackfill(rec.ID, rec.AccountID, rec.Amount, rec.Currency); err != nil {
		log.Errorf("[Payments] failed to enqueue invoice backfill for payment %d: %v", rec.ID, err)
	}
}

func (e *Engine) enqueueCommissionBackfill(rec *models.PaymentRecord) {
	if e.backfill == nil {
		return
	}
	if err := e.backfill.EnqueueCommissionBackfill(rec.ID, rec.AccountID, rec.Amount, rec.Currency); err != nil {
		log.Errorf("[Payments] failed to enqueue commission backfill for payment %d: %v", rec.ID, err)
	}
}
