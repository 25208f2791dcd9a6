package affiliate

import (
	"github.com/jkubiena/Weddinko/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the affiliate service.
type Repository interface {
	FindAffiliateByCode(code string) (*models.Affiliate, error)
	FindAffiliateByID(id uint) (*models.Affiliate, error)
	CreateClick(click *models.AffiliateClick) error
	CreateRegistrationIfNotExists(reg *models.AffiliateRegistration) (bool, *models.AffiliateRegistration, error)
	FindRegistrationByAccount(accountID string) (*models.AffiliateRegistration, error)
	MarkRegistrationConverted(id uint) (bool, error)
	CreateCommissionIfNotExists(com *models.Commission) (bool, *models.Commission, error)
	FindCommissionByPaymentRecord(paymentRecordID uint) (*models.Commission, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an affiliate repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindAffiliateByCode(code string) (*models.Affiliate, error) {
	var aff models.Affiliate
	err := r.db.Where("code = ? AND is_active = ?", code, true).First(&aff).Error
	if err != nil {
		return nil, err
	}
	return &aff, nil
}

func (r *gormRepository) FindAffiliateByID(id uint) (*models.Affiliate, error) {
	var aff models.Affiliate
	err := r.db.Where("id = ?", id).First(&aff).Error
	if err != nil {
		return nil, err
	}
	return &aff, nil
}

func (r *gormRepository) CreateClick(click *models.AffiliateClick) error {
	return r.db.Create(click).Error
}

func (r *gormRepository) CreateRegistrationIfNotExists(reg *models.AffiliateRegistration) (bool, *models.AffiliateRegistration, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
		},
		DoNothing: true,
	}).Create(reg)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.AffiliateRegistration
	if err := r.db.Where("account_id = ?", reg.AccountID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) FindRegistrationByAccount(accountID string) (*models.AffiliateRegistration, error) {
	var reg models.AffiliateRegistration
	err := r.db.Where("account_id = ?", accountID).First(&reg).Error
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// MarkRegistrationConverted flips converted exactly once; the guarded update
// reports whether this call was the one that flipped it.
func (r *gormRepository) MarkRegistrationConverted(id uint) (bool, error) {
	res := r.db.Model(&models.AffiliateRegistration{}).
		Where("id = ? AND converted = ?", id, false).
		Update("converted", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) CreateCommissionIfNotExists(com *models.Commission) (bool, *models.Commission, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payment_record_id"},
		},
		DoNothing: true,
	}).Create(com)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Commission
	if err := r.db.Where("payment_record_id = ?", com.PaymentRecordID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) FindCommissionByPaymentRecord(paymentRecordID uint) (*models.Commission, error) {
	var com models.Commission
	err := r.db.Where("payment_record_id = ?", paymentRecordID).First(&com).Error
	if err != nil {
		return nil, err
	}
	return &com, nil
}
