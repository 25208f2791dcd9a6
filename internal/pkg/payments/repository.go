package payments

import (
	"time"

	"github.com/jkubiena/Weddinko/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations the payments engine needs.
type Repository interface {
	GetSubscriptionByAccount(accountID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error

	FindPaymentByProviderRef(provider, providerPaymentRef string) (*models.PaymentRecord, error)
	CreatePaymentIfNotExists(rec *models.PaymentRecord) (bool, *models.PaymentRecord, error)
	AmendPaymentStatus(id uint, status string, paidAt *time.Time) error
	MarkPaymentRefunded(id uint) error
	HasSucceededPaymentOtherThan(accountID string, excludeID uint) (bool, error)

	RecordWebhookEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, outcomeJSON string, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payments repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByAccount(accountID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("account_id = ?", accountID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"provider_customer_ref",
			"provider_subscription_ref",
			"provider_parent_payment_ref",
			"last_payment_record_id",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("account_id = ?", sub.AccountID).First(sub).Error
}

func (r *gormRepository) FindPaymentByProviderRef(provider, providerPaymentRef string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := r.db.Where("provider = ? AND provider_payment_ref = ?", provider, providerPaymentRef).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) CreatePaymentIfNotExists(rec *models.PaymentRecord) (bool, *models.PaymentRecord, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_payment_ref"},
		},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentRecord
	if err := r.db.Where("provider = ? AND provider_payment_ref = ?", rec.Provider, rec.ProviderPaymentRef).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// AmendPaymentStatus moves a pending record to its final status. The status
// guard in the WHERE clause keeps the ledger append-only: a record is amended
// at most once and never flips between final states.
func (r *gormRepository) AmendPaymentStatus(id uint, status string, paidAt *time.Time) error {
	updates := map[string]interface{}{
		"status":  status,
		"paid_at": paidAt,
	}
	return r.db.Model(&models.PaymentRecord{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(updates).Error
}

// MarkPaymentRefunded flips any non-refunded row to refunded. Refunds are the
// one amendment allowed after a final status.
func (r *gormRepository) MarkPaymentRefunded(id uint) error {
	return r.db.Model(&models.PaymentRecord{}).
		Where("id = ? AND status <> ?", id, models.PaymentStatusRefunded).
		Update("status", models.PaymentStatusRefunded).Error
}

func (r *gormRepository) HasSucceededPaymentOtherThan(accountID string, excludeID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.PaymentRecord{}).
		Where("account_id = ? AND status = ? AND id <> ?", accountID, models.PaymentStatusSucceeded, excludeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) RecordWebhookEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, outcomeJSON string, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	if outcomeJSON != "" {
		updates["outcome_json"] = outcomeJSON
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
