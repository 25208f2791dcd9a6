package models

import "time"

// Subscription plans sold by the app.
const (
	PlanTrial   = "trial"
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

// Subscription lifecycle statuses. A canceled or refunded subscription can
// re-enter active through a later successful payment.
const (
	SubscriptionStatusNone     = "none"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusRefunded = "refunded"
)

// TrialPeriodDays is the length of the trial plan period.
const TrialPeriodDays = 14

// Subscription holds the current plan/status/period for one account. There is
// at most one row per account and it is mutated only by the payments engine,
// never by UI code.
type Subscription struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	AccountID                string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_subscriptions_account" json:"account_id"`
	Plan                     string     `gorm:"type:varchar(16);not null;default:'trial'" json:"plan"`
	Status                   string     `gorm:"type:varchar(16);not null;default:'none';index" json:"status"`
	CurrentPeriodStart       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd         *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd        bool       `gorm:"default:false" json:"cancel_at_period_end"`
	ProviderCustomerRef      string     `gorm:"type:varchar(191);default:''" json:"provider_customer_ref"`
	ProviderSubscriptionRef  string     `gorm:"type:varchar(191);default:''" json:"provider_subscription_ref"`
	ProviderParentPaymentRef string     `gorm:"type:varchar(191);default:''" json:"provider_parent_payment_ref"`
	LastPaymentRecordID      uint       `gorm:"default:0" json:"last_payment_record_id"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlanPeriodEnd returns the end of a billing period that starts at start.
func PlanPeriodEnd(plan string, start time.Time) time.Time {
	switch plan {
	case PlanYearly:
		return start.AddDate(1, 0, 0)
	case PlanTrial:
		return start.AddDate(0, 0, TrialPeriodDays)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// IsValidPlan reports whether plan is one of the sellable plans.
func IsValidPlan(plan string) bool {
	switch plan {
	case PlanTrial, PlanMonthly, PlanYearly:
		return true
	default:
		return false
	}
}
