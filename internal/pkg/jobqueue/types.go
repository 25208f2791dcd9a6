package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeInvoiceBackfill    JobType = "invoice_backfill"
	JobTypeCommissionBackfill JobType = "commission_backfill"
	JobTypeCounterFlush       JobType = "counter_flush"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// InvoiceBackfillPayload contains the payload for invoice backfill jobs
type InvoiceBackfillPayload struct {
	PaymentRecordID uint   `json:"payment_record_id"`
	AccountID       string `json:"account_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// ToMap converts the payload to a map for storage
func (p InvoiceBackfillPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"payment_record_id": p.PaymentRecordID,
		"account_id":        p.AccountID,
		"amount":            p.Amount,
		"currency":          p.Currency,
	}
}

// InvoiceBackfillPayloadFromMap creates a payload from a map
func InvoiceBackfillPayloadFromMap(data map[string]interface{}) (*InvoiceBackfillPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var p InvoiceBackfillPayload
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CommissionBackfillPayload contains the payload for commission backfill jobs
type CommissionBackfillPayload struct {
	PaymentRecordID uint   `json:"payment_record_id"`
	AccountID       string `json:"account_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// ToMap converts the payload to a map for storage
func (p CommissionBackfillPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"payment_record_id": p.PaymentRecordID,
		"account_id":        p.AccountID,
		"amount":            p.Amount,
		"currency":          p.Currency,
	}
}

// CommissionBackfillPayloadFromMap creates a payload from a map
func CommissionBackfillPayloadFromMap(data map[string]interface{}) (*CommissionBackfillPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var p CommissionBackfillPayload
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
