package models

import "time"

// Commission statuses.
const (
	CommissionStatusConfirmed = "confirmed"
)

// Affiliate is a referral partner. The click/registration/conversion/revenue
// counters are best-effort rollups flushed from Redis; the Commission rows
// are the ledger of record and the counters must stay reconcilable by
// summing them.
type Affiliate struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Code            string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_affiliates_code" json:"code"`
	Name            string    `gorm:"type:varchar(100);not null;default:''" json:"name"`
	Email           string    `gorm:"type:varchar(200);not null;default:''" json:"email"`
	Rate            float64   `gorm:"not null;default:0.2" json:"rate"`
	Clicks          int64     `gorm:"not null;default:0" json:"clicks"`
	Registrations   int64     `gorm:"not null;default:0" json:"registrations"`
	Conversions     int64     `gorm:"not null;default:0" json:"conversions"`
	RevenueTotal    int64     `gorm:"not null;default:0" json:"revenue_total"`
	CommissionTotal int64     `gorm:"not null;default:0" json:"commission_total"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AffiliateClick records a landing through a referral link. AccountID stays
// empty until the visitor signs up.
type AffiliateClick struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AffiliateID uint      `gorm:"not null;index" json:"affiliate_id"`
	AccountID   string    `gorm:"type:varchar(64);default:'';index" json:"account_id"`
	LandingPage string    `gorm:"type:varchar(500);default:''" json:"landing_page"`
	ClickedAt   time.Time `gorm:"autoCreateTime" json:"clicked_at"`
}

// AffiliateRegistration links a signed-up account to the affiliate that
// referred it. Converted flips true exactly once, on the first confirmed
// payment.
type AffiliateRegistration struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AffiliateID uint      `gorm:"not null;index" json:"affiliate_id"`
	AccountID   string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_affiliate_registrations_account" json:"account_id"`
	ClickID     uint      `gorm:"default:0" json:"click_id"`
	Converted   bool      `gorm:"default:false;index" json:"converted"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Commission is one revenue-share line for one confirmed payment. The unique
// index on payment_record_id guarantees a replayed payment outcome cannot pay
// a commission twice.
type Commission struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AffiliateID     uint      `gorm:"not null;index" json:"affiliate_id"`
	RegistrationID  uint      `gorm:"not null" json:"registration_id"`
	PaymentRecordID uint      `gorm:"not null;uniqueIndex:ux_commissions_payment_record" json:"payment_record_id"`
	Rate            float64   `gorm:"not null" json:"rate"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(3);not null;default:'CZK'" json:"currency"`
	Status          string    `gorm:"type:varchar(16);not null;default:'confirmed'" json:"status"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
