package jobqueue

import (
	"context"
	"fmt"

	"github.com/jkubiena/Weddinko/app/models"
	"github.com/jkubiena/Weddinko/internal/pkg/metrics/counter"
)

// InvoiceIssuer matches the invoicing sequencer's Issue method.
type InvoiceIssuer interface {
	Issue(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Invoice, error)
}

// CommissionAttributor matches the affiliate service's Attribute method.
type CommissionAttributor interface {
	Attribute(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Commission, error)
}

// RegisterDefaultProcessors wires the backfill handlers. Both targets are
// idempotent, so a retried job is harmless.
func (q *Queue) RegisterDefaultProcessors(invoices InvoiceIssuer, affiliates CommissionAttributor) {
	q.RegisterProcessor(JobTypeInvoiceBackfill, func(ctx context.Context, job *Job) error {
		p, err := InvoiceBackfillPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid invoice backfill payload: %w", err)
		}
		_, err = invoices.Issue(ctx, p.PaymentRecordID, p.AccountID, p.Amount, p.Currency)
		return err
	})

	q.RegisterProcessor(JobTypeCommissionBackfill, func(ctx context.Context, job *Job) error {
		p, err := CommissionBackfillPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid commission backfill payload: %w", err)
		}
		_, err = affiliates.Attribute(ctx, p.PaymentRecordID, p.AccountID, p.Amount, p.Currency)
		return err
	})

	q.RegisterProcessor(JobTypeCounterFlush, func(ctx context.Context, job *Job) error {
		return counter.FlushAll()
	})
}

// EnqueueInvoiceBackfill schedules a retry for a failed invoice issuance.
func (q *Queue) EnqueueInvoiceBackfill(paymentRecordID uint, accountID string, amount int64, currency string) error {
	_, err := q.Enqueue(JobTypeInvoiceBackfill, InvoiceBackfillPayload{
		PaymentRecordID: paymentRecordID,
		AccountID:       accountID,
		Amount:          amount,
		Currency:        currency,
	}.ToMap())
	return err
}

// EnqueueCommissionBackfill schedules a retry for a failed commission attribution.
func (q *Queue) EnqueueCommissionBackfill(paymentRecordID uint, accountID string, amount int64, currency string) error {
	_, err := q.Enqueue(JobTypeCommissionBackfill, CommissionBackfillPayload{
		PaymentRecordID: paymentRecordID,
		AccountID:       accountID,
		Amount:          amount,
		Currency:        currency,
	}.ToMap())
	return err
}
