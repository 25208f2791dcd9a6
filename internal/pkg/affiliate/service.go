package affiliate

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/jkubiena/Weddinko/app/models"
	"github.com/jkubiena/Weddinko/internal/pkg/metrics/counter"
	"gorm.io/gorm"
)

var validate = validator.New()

// Service records the referral funnel (click -> registration -> commission)
// and attributes revenue to partners when a payment is confirmed.
type Service struct {
	repo Repository
}

// NewService creates an affiliate service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates an affiliate service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// RecordClick stores a landing through a referral link. Unknown or inactive
// codes return gorm.ErrRecordNotFound.
func (s *Service) RecordClick(ctx context.Context, code, landingPage string) (*models.AffiliateClick, error) {
	_ = ctx
	aff, err := s.repo.FindAffiliateByCode(strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}

	click := &models.AffiliateClick{
		AffiliateID: aff.ID,
		LandingPage: strings.TrimSpace(landingPage),
	}
	if err := s.repo.CreateClick(click); err != nil {
		return nil, err
	}
	if err := counter.AddClick(aff.ID); err != nil {
		log.Warnf("[Affiliate] click counter bump failed for affiliate %d: %v", aff.ID, err)
	}
	return click, nil
}

// RegistrationInput links a freshly signed-up account to a referral code.
type RegistrationInput struct {
	AffiliateCode string `json:"affiliate_code" validate:"required"`
	AccountID     string `json:"account_id" validate:"required"`
	ClickID       uint   `json:"click_id"`
}

// RegisterAccount records the referral registration for an account. An
// account can only ever be referred once; repeat calls return the stored row.
func (s *Service) RegisterAccount(ctx context.Context, in RegistrationInput) (*models.AffiliateRegistration, error) {
	_ = ctx
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	aff, err := s.repo.FindAffiliateByCode(strings.TrimSpace(in.AffiliateCode))
	if err != nil {
		return nil, err
	}

	created, reg, err := s.repo.CreateRegistrationIfNotExists(&models.AffiliateRegistration{
		AffiliateID: aff.ID,
		AccountID:   strings.TrimSpace(in.AccountID),
		ClickID:     in.ClickID,
	})
	if err != nil {
		return nil, err
	}
	if created {
		if err := counter.AddRegistration(aff.ID); err != nil {
			log.Warnf("[Affiliate] registration counter bump failed for affiliate %d: %v", aff.ID, err)
		}
	}
	return reg, nil
}

// Attribute writes the commission line for one confirmed payment. Returning
// (nil, nil) means no affiliate was involved, which is the normal case.
//
// The commission row keyed by payment record id is the idempotency anchor:
// replayed payment outcomes find the existing row and bump no counters.
func (s *Service) Attribute(ctx context.Context, paymentRecordID uint, accountID string, amount int64, currency string) (*models.Commission, error) {
	_ = ctx
	if paymentRecordID == 0 {
		return nil, errors.New("payment_record_id is required")
	}

	reg, err := s.repo.FindRegistrationByAccount(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if reg.Converted {
		// Already converted by an earlier payment. Only a replay of that
		// exact payment gets its commission back.
		com, err := s.repo.FindCommissionByPaymentRecord(paymentRecordID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return com, nil
	}

	aff, err := s.repo.FindAffiliateByID(reg.AffiliateID)
	if err != nil {
		return nil, err
	}

	commissionAmount := int64(math.Round(float64(amount) * aff.Rate))
	created, com, err := s.repo.CreateCommissionIfNotExists(&models.Commission{
		AffiliateID:     aff.ID,
		RegistrationID:  reg.ID,
		PaymentRecordID: paymentRecordID,
		Rate:            aff.Rate,
		Amount:          commissionAmount,
		Currency:        currency,
		Status:          models.CommissionStatusConfirmed,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.MarkRegistrationConverted(reg.ID); err != nil {
		return nil, err
	}

	if created {
		if err := counter.AddConversion(aff.ID); err != nil {
			log.Warnf("[Affiliate] conversion counter bump failed for affiliate %d: %v", aff.ID, err)
		}
		if err := counter.AddRevenue(aff.ID, amount); err != nil {
			log.Warnf("[Affiliate] revenue counter bump failed for affiliate %d: %v", aff.ID, err)
		}
		if err := counter.AddCommission(aff.ID, commissionAmount); err != nil {
			log.Warnf("[Affiliate] commission counter bump failed for affiliate %d: %v", aff.ID, err)
		}
	}
	return com, nil
}
