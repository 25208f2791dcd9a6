package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jkubiena/Weddinko/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRepo struct {
	mu       sync.Mutex
	subs     map[string]*models.Subscription
	payments []*models.PaymentRecord
	events   []*models.WebhookEvent
	nextID   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[string]*models.Subscription)}
}

func (r *fakeRepo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *fakeRepo) GetSubscriptionByAccount(accountID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[accountID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.subs[sub.AccountID]; ok {
		sub.ID = existing.ID
	} else if sub.ID == 0 {
		sub.ID = r.id()
	}
	cp := *sub
	r.subs[sub.AccountID] = &cp
	return nil
}

func (r *fakeRepo) FindPaymentByProviderRef(provider, ref string) (*models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.payments {
		if rec.Provider == provider && rec.ProviderPaymentRef == ref {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreatePaymentIfNotExists(rec *models.PaymentRecord) (bool, *models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.Provider == rec.Provider && existing.ProviderPaymentRef == rec.ProviderPaymentRef {
			cp := *existing
			return false, &cp, nil
		}
	}
	rec.ID = r.id()
	cp := *rec
	r.payments = append(r.payments, &cp)
	out := *rec
	return true, &out, nil
}

func (r *fakeRepo) AmendPaymentStatus(id uint, status string, paidAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.payments {
		if rec.ID == id && rec.Status == models.PaymentStatusPending {
			rec.Status = status
			rec.PaidAt = paidAt
		}
	}
	return nil
}

func (r *fakeRepo) MarkPaymentRefunded(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.payments {
		if rec.ID == id && rec.Status != models.PaymentStatusRefunded {
			rec.Status = models.PaymentStatusRefunded
		}
	}
	return nil
}

func (r *fakeRepo) HasSucceededPaymentOtherThan(accountID string, excludeID uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.payments {
		if rec.AccountID == accountID && rec.Status == models.PaymentStatusSucceeded && rec.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) RecordWebhookEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.events {
		if existing.Provider == event.Provider && existing.ProviderEventID == event.ProviderEventID {
			cp := *existing
			return false, &cp, nil
		}
	}
	event.ID = r.id()
	cp := *event
	r.events = append(r.events, &cp)
	out := *event
	return true, &out, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, outcomeJSON string, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, ev := range r.events {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			if outcomeJSON != "" {
				ev.OutcomeJSON = outcomeJSON
			}
		}
	}
	return nil
}

func (r *fakeRepo) paymentByRef(provider, ref string) *models.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.payments {
		if rec.Provider == provider && rec.ProviderPaymentRef == ref {
			return rec
		}
	}
	return nil
}

type fakeIssuer struct {
	mu     sync.Mutex
	fail   bool
	issued map[uint]*models.Invoice
	seq    int
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{issued: make(map[uint]*models.Invoice)}
}

func (f *fakeIssuer) Issue(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("invoicing down")
	}
	if inv, ok := f.issued[paymentRecordID]; ok {
		return inv, nil
	}
	f.seq++
	inv := &models.Invoice{
		InvoiceNumber:   fmt.Sprintf("2026%04d", f.seq),
		PaymentRecordID: paymentRecordID,
		AccountID:       accountID,
		AmountTotal:     amount,
		Currency:        currency,
	}
	f.issued[paymentRecordID] = inv
	return inv, nil
}

type fakeAttributor struct {
	commission *models.Commission
	err        error
}

func (f *fakeAttributor) Attribute(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Commission, error) {
	return f.commission, f.err
}

type fakeBackfill struct {
	mu          sync.Mutex
	invoices    []uint
	commissions []uint
}

func (f *fakeBackfill) EnqueueInvoiceBackfill(paymentRecordID uint, accountID string, amount int64, currency string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, paymentRecordID)
	return nil
}

func (f *fakeBackfill) EnqueueCommissionBackfill(paymentRecordID uint, accountID string, amount int64, currency string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commissions = append(f.commissions, paymentRecordID)
	return nil
}

func newTestEngine(repo *fakeRepo, issuer *fakeIssuer, attributor *fakeAttributor, backfill *fakeBackfill, now time.Time) *Engine {
	var inv InvoiceIssuer = issuer
	var att CommissionAttributor = attributor
	var bf BackfillEnqueuer
	if backfill != nil {
		bf = backfill
	}
	e := NewEngine(repo, inv, att, bf)
	e.now = func() time.Time { return now }
	return e
}

func succeededEvent(eventID, paymentRef string) *PaymentEvent {
	return &PaymentEvent{
		Kind:               EventKindPayment,
		Provider:           models.PaymentProviderCard,
		ProviderEventID:    eventID,
		EventType:          "payment.succeeded",
		ProviderPaymentRef: paymentRef,
		AccountID:          "acc_1",
		Plan:               models.PlanMonthly,
		Amount:             29900,
		Currency:           "CZK",
		Status:             models.PaymentStatusSucceeded,
		RawPayloadJSON:     "{}",
	}
}

func TestApplySucceededActivatesSubscription(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	outcome, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.SubscriptionStatusActive, outcome.SubscriptionStatus)
	assert.Equal(t, "20260001", outcome.InvoiceNumber)

	sub := repo.subs["acc_1"]
	require.NotNil(t, sub)
	assert.Equal(t, models.PlanMonthly, sub.Plan)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, now.AddDate(0, 1, 0), *sub.CurrentPeriodEnd)
	assert.Equal(t, outcome.PaymentRecordID, sub.LastPaymentRecordID)
}

func TestApplyDuplicateReplaysOutcome(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	first, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)

	second, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.PaymentRecordID, second.PaymentRecordID)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
	assert.Len(t, repo.payments, 1)

	// The replay must not extend the period a second time.
	sub := repo.subs["acc_1"]
	assert.Equal(t, now.AddDate(0, 1, 0), *sub.CurrentPeriodEnd)
}

func TestApplyEarlyRenewalExtendsFromPeriodEnd(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	_, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)

	// Renewal lands while the current period still runs; the paid-for time
	// must stack instead of truncating.
	_, err = e.Apply(context.Background(), succeededEvent("evt_2", "pay_2"))
	require.NoError(t, err)

	sub := repo.subs["acc_1"]
	assert.Equal(t, now.AddDate(0, 2, 0), *sub.CurrentPeriodEnd)
	assert.Equal(t, now.AddDate(0, 1, 0), *sub.CurrentPeriodStart)
}

func TestApplyReplayedPaymentRefExtendsOnlyOnce(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	_, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), succeededEvent("evt_2", "pay_2"))
	require.NoError(t, err)

	// The provider re-notifies pay_1 under a fresh event id after pay_2
	// already advanced the period. One payment must never buy two
	// extensions.
	outcome, err := e.Apply(context.Background(), succeededEvent("evt_3", "pay_1"))
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Len(t, repo.payments, 2)

	sub := repo.subs["acc_1"]
	assert.Equal(t, now.AddDate(0, 2, 0), *sub.CurrentPeriodEnd)

	// Nor may the stale replay open the door for a later re-notification of
	// the newer payment to extend again.
	_, err = e.Apply(context.Background(), succeededEvent("evt_4", "pay_2"))
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 2, 0), *repo.subs["acc_1"].CurrentPeriodEnd)
}

func TestApplyFailedDowngradesToPastDue(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, 3)
	repo.subs["acc_1"] = &models.Subscription{
		ID: 1, AccountID: "acc_1", Plan: models.PlanMonthly,
		Status: models.SubscriptionStatusTrialing, CurrentPeriodEnd: &end,
	}
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	ev := succeededEvent("evt_f1", "pay_f1")
	ev.Status = models.PaymentStatusFailed

	outcome, err := e.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, outcome.SubscriptionStatus)
	assert.Equal(t, models.SubscriptionStatusPastDue, repo.subs["acc_1"].Status)
}

func TestApplyFailedKeepsActiveAfterNewerSuccess(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	_, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)

	// A late failure notification for a different, older attempt arrives after
	// the account already paid successfully.
	ev := succeededEvent("evt_old", "pay_old")
	ev.Status = models.PaymentStatusFailed

	outcome, err := e.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, outcome.SubscriptionStatus)
	assert.Equal(t, models.SubscriptionStatusActive, repo.subs["acc_1"].Status)
}

func TestApplyRefundCancelsSubscription(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	_, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)

	ev := succeededEvent("evt_r1", "pay_1")
	ev.Status = models.PaymentStatusRefunded

	outcome, err := e.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, outcome.SubscriptionStatus)

	sub := repo.subs["acc_1"]
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, now, *sub.CurrentPeriodEnd)

	rec := repo.paymentByRef(models.PaymentProviderCard, "pay_1")
	require.NotNil(t, rec)
	assert.Equal(t, models.PaymentStatusRefunded, rec.Status)
}

func TestApplyPendingThenSucceededAmendsSameRow(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	pending := succeededEvent("evt_p", "pay_1")
	pending.Status = models.PaymentStatusPending
	pendingOutcome, err := e.Apply(context.Background(), pending)
	require.NoError(t, err)

	outcome, err := e.Apply(context.Background(), succeededEvent("evt_s", "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, pendingOutcome.PaymentRecordID, outcome.PaymentRecordID)
	assert.Len(t, repo.payments, 1)

	rec := repo.paymentByRef(models.PaymentProviderCard, "pay_1")
	assert.Equal(t, models.PaymentStatusSucceeded, rec.Status)
	require.NotNil(t, rec.PaidAt)
}

func TestApplyCancelIntentFlagsSubscription(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, now)

	_, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)

	ev := &PaymentEvent{
		Kind:            EventKindCancelIntent,
		Provider:        models.PaymentProviderCard,
		ProviderEventID: "evt_c1",
		EventType:       "subscription.cancelled",
		AccountID:       "acc_1",
		RawPayloadJSON:  "{}",
	}
	outcome, err := e.Apply(context.Background(), ev)
	require.NoError(t, err)

	sub := repo.subs["acc_1"]
	assert.True(t, sub.CancelAtPeriodEnd)
	// The subscription stays active until the paid period runs out.
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, models.SubscriptionStatusActive, outcome.SubscriptionStatus)
}

func TestApplyNoOpIsIgnored(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, time.Now())

	outcome, err := e.Apply(context.Background(), &PaymentEvent{Kind: EventKindNoOp})
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)
	assert.Empty(t, repo.events)
	assert.Empty(t, repo.payments)
}

func TestApplyInvoiceFailureEnqueuesBackfill(t *testing.T) {
	repo := newFakeRepo()
	issuer := newFakeIssuer()
	issuer.fail = true
	backfill := &fakeBackfill{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(repo, issuer, &fakeAttributor{}, backfill, now)

	outcome, err := e.Apply(context.Background(), succeededEvent("evt_1", "pay_1"))
	require.NoError(t, err)

	// The subscription extension must survive an invoicing outage.
	assert.Equal(t, models.SubscriptionStatusActive, outcome.SubscriptionStatus)
	assert.Empty(t, outcome.InvoiceNumber)
	require.Len(t, backfill.invoices, 1)
	assert.Equal(t, outcome.PaymentRecordID, backfill.invoices[0])
}

func TestApplyRequiresResolvedAccount(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, newFakeIssuer(), &fakeAttributor{}, nil, time.Now())

	ev := succeededEvent("evt_1", "pay_1")
	ev.AccountID = ""
	_, err := e.Apply(context.Background(), ev)
	ve, ok := AsVerificationError(err)
	require.True(t, ok)
	assert.Equal(t, VerificationCodeUnresolvableAccount, ve.Code)
}
