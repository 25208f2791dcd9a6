package payments

// Event kinds produced by the per-provider normalizers.
const (
	EventKindPayment      = "payment"
	EventKindCancelIntent = "cancel_intent"
	EventKindNoOp         = "noop"
)

// PaymentEvent is the canonical, provider-agnostic representation of one
// provider notification after verification. AccountID is always resolved by
// lookup, never trusted from the payload alone.
type PaymentEvent struct {
	Kind                     string
	Provider                 string
	ProviderEventID          string
	EventType                string
	ProviderPaymentRef       string
	ParentProviderPaymentRef string
	ProviderCustomerRef      string
	ProviderSubscriptionRef  string
	AccountID                string
	Plan                     string
	Amount                   int64
	Currency                 string
	Status                   string
	RawProviderState         string
	RawPayloadJSON           string
}

// Outcome describes what applying an event changed. It is recorded on the
// webhook event row and replayed verbatim when a provider retries a delivery
// that was already fully processed.
type Outcome struct {
	Duplicate          bool   `json:"duplicate,omitempty"`
	Ignored            bool   `json:"ignored,omitempty"`
	PaymentRecordID    uint   `json:"payment_record_id,omitempty"`
	PaymentPublicID    string `json:"payment_public_id,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	InvoiceNumber      string `json:"invoice_number,omitempty"`
	CommissionID       uint   `json:"commission_id,omitempty"`
}
