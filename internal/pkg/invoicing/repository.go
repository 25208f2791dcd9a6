package invoicing

import (
	"errors"

	"github.com/jkubiena/Weddinko/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCounterConflict signals that the guarded counter update matched no row.
// With the row lock held this should be impossible; it is a bug signal, not a
// reason to stop the provider from retrying.
var ErrCounterConflict = errors.New("invoice counter update conflict")

// Repository provides DB operations used by the invoice sequencer.
type Repository interface {
	NextCounterValue(periodKey string) (int64, error)
	CreateInvoice(inv *models.Invoice) error
	FindInvoiceByPaymentRecord(paymentRecordID uint) (*models.Invoice, error)
	FindInvoiceByNumber(number string) (*models.Invoice, error)
	ListInvoicesByAccount(accountID string) ([]models.Invoice, error)
	UpdateInvoiceStatus(number, status string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an invoicing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// NextCounterValue atomically increments and reads the per-period counter.
// The row is locked for the duration of the increment only; issuing invoices
// never serializes unrelated accounts' webhook processing.
func (r *gormRepository) NextCounterValue(periodKey string) (int64, error) {
	var value int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "period_key"}},
			DoNothing: true,
		}).Create(&models.InvoiceCounter{PeriodKey: periodKey}).Error; err != nil {
			return err
		}

		var counter models.InvoiceCounter
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("period_key = ?", periodKey).
			First(&counter).Error; err != nil {
			return err
		}

		value = counter.NextValue + 1
		res := tx.Model(&models.InvoiceCounter{}).
			Where("period_key = ? AND next_value = ?", periodKey, counter.NextValue).
			Update("next_value", value)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCounterConflict
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (r *gormRepository) CreateInvoice(inv *models.Invoice) error {
	return r.db.Create(inv).Error
}

func (r *gormRepository) FindInvoiceByPaymentRecord(paymentRecordID uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.Where("payment_record_id = ?", paymentRecordID).First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) FindInvoiceByNumber(number string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.Where("invoice_number = ?", number).First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) ListInvoicesByAccount(accountID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("account_id = ?", accountID).Order("invoice_number").Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) UpdateInvoiceStatus(number, status string) error {
	return r.db.Model(&models.Invoice{}).
		Where("invoice_number = ?", number).
		Update("status", status).Error
}
