package models

import "time"

// Payment providers that deliver webhook notifications.
const (
	PaymentProviderCard     = "card"
	PaymentProviderRedirect = "redirect"
)

// Canonical payment statuses. A record is created once; only pending may be
// amended (to succeeded or failed) and rows are never deleted.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// PaymentRecord is the append-only ledger of payment attempts. The composite
// (provider, provider_payment_ref) unique index is the natural idempotency
// key: a duplicate provider notification must not produce a second row.
type PaymentRecord struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	PublicID                 string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_payment_records_public_id" json:"public_id"`
	AccountID                string     `gorm:"type:varchar(64);not null;index" json:"account_id"`
	Provider                 string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_records_provider_ref,priority:1" json:"provider"`
	ProviderPaymentRef       string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_records_provider_ref,priority:2" json:"provider_payment_ref"`
	ParentProviderPaymentRef string     `gorm:"type:varchar(191);default:'';index" json:"parent_provider_payment_ref"`
	Amount                   int64      `gorm:"not null;default:0" json:"amount"`
	Currency                 string     `gorm:"type:varchar(3);not null;default:'CZK'" json:"currency"`
	Plan                     string     `gorm:"type:varchar(16);not null;default:''" json:"plan"`
	Status                   string     `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt                time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	PaidAt                   *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRenewal reports whether the record was caused by a standing mandate.
func (p *PaymentRecord) IsRenewal() bool {
	return p.ParentProviderPaymentRef != ""
}
