package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jkubiena/Weddinko/app/models"
	"github.com/jkubiena/Weddinko/internal/pkg/database"
	"github.com/jkubiena/Weddinko/internal/pkg/invoicing"
	"gorm.io/gorm"
)

// The engine does not render or send anything itself; these read models are
// what the PDF/email/UI collaborators consume on demand.

// HandleGetAccountSubscription returns the subscription state for one account.
func HandleGetAccountSubscription(c *fiber.Ctx) error {
	accountID := strings.TrimSpace(c.Params("account_id"))
	if accountID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_account_id"})
	}

	var sub models.Subscription
	err := database.GetDB().Where("account_id = ?", accountID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

// HandleGetInvoice returns a single invoice by its number.
func HandleGetInvoice(c *fiber.Ctx) error {
	number := strings.TrimSpace(c.Params("number"))
	if number == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_invoice_number"})
	}

	repo := invoicing.NewRepository(database.GetDB())
	inv, err := repo.FindInvoiceByNumber(number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "invoice_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(inv)
}

// HandleListAccountInvoices returns all invoices issued to one account.
func HandleListAccountInvoices(c *fiber.Ctx) error {
	accountID := strings.TrimSpace(c.Params("account_id"))
	if accountID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_account_id"})
	}

	repo := invoicing.NewRepository(database.GetDB())
	invoices, err := repo.ListInvoicesByAccount(accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"invoices": invoices})
}
