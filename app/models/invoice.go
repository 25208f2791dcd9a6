package models

import "time"

// Invoice statuses.
const (
	InvoiceStatusIssued    = "issued"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

// Invoice is the fiscal document issued for one succeeded payment. Numbers
// are unique and strictly increasing within a period; the variable symbol is
// derived deterministically from the number for bank reconciliation.
type Invoice struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	InvoiceNumber   string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_invoices_number" json:"invoice_number"`
	VariableSymbol  string    `gorm:"type:varchar(16);not null;index" json:"variable_symbol"`
	PaymentRecordID uint      `gorm:"not null;uniqueIndex:ux_invoices_payment_record" json:"payment_record_id"`
	AccountID       string    `gorm:"type:varchar(64);not null;index" json:"account_id"`
	AmountTotal     int64     `gorm:"not null" json:"amount_total"`
	Currency        string    `gorm:"type:varchar(3);not null;default:'CZK'" json:"currency"`
	IssueDate       time.Time `gorm:"type:timestamp;not null" json:"issue_date"`
	Status          string    `gorm:"type:varchar(16);not null;default:'issued';index" json:"status"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceCounter backs the invoice sequencer with one row per period (year).
// NextValue is only ever touched through an atomic increment-and-read inside
// a transaction; two concurrent issuances must never observe the same value.
type InvoiceCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PeriodKey string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_invoice_counters_period" json:"period_key"`
	NextValue int64     `gorm:"not null;default:0" json:"next_value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
