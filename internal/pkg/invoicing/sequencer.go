package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jkubiena/Weddinko/app/models"
	"gorm.io/gorm"
)

// Sequencer issues unique, strictly increasing invoice numbers and the
// invoices carrying them. One instance is shared by the webhook path and the
// backfill worker; both rely on Issue being idempotent per payment record.
type Sequencer struct {
	repo Repository
	now  func() time.Time
}

// NewSequencer creates an invoice sequencer from an injected repository.
func NewSequencer(repo Repository) *Sequencer {
	return &Sequencer{repo: repo, now: time.Now}
}

// NewSequencerFromDB creates an invoice sequencer from a GORM DB handle.
func NewSequencerFromDB(db *gorm.DB) *Sequencer {
	return NewSequencer(NewRepository(db))
}

// Issue creates the invoice for one succeeded payment. If an invoice already
// exists for the payment record it is returned unchanged, which makes
// replayed payment outcomes safe.
func (s *Sequencer) Issue(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Invoice, error) {
	_ = ctx
	if paymentRecordID == 0 {
		return nil, errors.New("payment_record_id is required")
	}
	if accountID == "" {
		return nil, errors.New("account_id is required")
	}

	existing, err := s.repo.FindInvoiceByPaymentRecord(paymentRecordID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	issueDate := s.now()
	periodKey := PeriodKey(issueDate)
	seq, err := s.repo.NextCounterValue(periodKey)
	if err != nil {
		return nil, err
	}

	number := FormatInvoiceNumber(periodKey, seq)
	inv := &models.Invoice{
		InvoiceNumber:   number,
		VariableSymbol:  VariableSymbol(number),
		PaymentRecordID: paymentRecordID,
		AccountID:       accountID,
		AmountTotal:     amount,
		Currency:        currency,
		IssueDate:       issueDate,
		Status:          models.InvoiceStatusIssued,
	}
	if err := s.repo.CreateInvoice(inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkPaid moves an issued invoice to paid.
func (s *Sequencer) MarkPaid(ctx context.Context, number string) error {
	_ = ctx
	return s.repo.UpdateInvoiceStatus(number, models.InvoiceStatusPaid)
}

// Cancel marks an invoice cancelled. The number is never reused.
func (s *Sequencer) Cancel(ctx context.Context, number string) error {
	_ = ctx
	return s.repo.UpdateInvoiceStatus(number, models.InvoiceStatusCancelled)
}

// PeriodKey returns the counter period for an issue date (calendar year).
func PeriodKey(t time.Time) string {
	return fmt.Sprintf("%04d", t.Year())
}

// FormatInvoiceNumber composes the number from period key and sequence value,
// e.g. ("2025", 1) -> "20250001".
func FormatInvoiceNumber(periodKey string, seq int64) string {
	return fmt.Sprintf("%s%04d", periodKey, seq)
}

// VariableSymbol derives the bank payment-reference code from an invoice
// number. Pure and deterministic so it can always be recomputed without
// storage: keep the digits, drop everything else.
func VariableSymbol(invoiceNumber string) string {
	var b strings.Builder
	for _, r := range invoiceNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
