package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jkubiena/Weddinko/internal/pkg/affiliate"
	"github.com/jkubiena/Weddinko/internal/pkg/database"
	"gorm.io/gorm"
)

const affiliateClickCookie = "wdk_aff_click"

// HandleReferralClick records a landing through a referral link and forwards
// the visitor to the landing page. Unknown codes still redirect so a dead
// link never strands a visitor.
func HandleReferralClick(c *fiber.Ctx) error {
	code := strings.TrimSpace(c.Params("code"))
	target := c.Query("to", "/")
	// Only same-site paths; referral links must not become open redirects.
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		target = "/"
	}

	if code != "" {
		svc := affiliate.NewServiceFromDB(database.GetDB())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := svc.RecordClick(ctx, code, target); err == nil {
			c.Cookie(&fiber.Cookie{
				Name:     affiliateClickCookie,
				Value:    code,
				Expires:  time.Now().Add(30 * 24 * time.Hour),
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
	}

	return c.Redirect(target, fiber.StatusSeeOther)
}

// HandleCreateAffiliateRegistration links a freshly signed-up account to the
// referral code that brought it in. Called by the signup flow, not by end
// users directly.
func HandleCreateAffiliateRegistration(c *fiber.Ctx) error {
	var in affiliate.RegistrationInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	svc := affiliate.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reg, err := svc.RegisterAccount(ctx, in)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "details": err.Error()})
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "affiliate_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "registration_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(reg)
}
