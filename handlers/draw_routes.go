package handlers

import (
	"marketplace-rewards/middleware"
	"marketplace-rewards/services"

	"github.com/gofiber/fiber/v2"
)

func SetupDrawRoutes(app *fiber.App, draws *services.DrawService, payments *services.PaymentService) {
	group := app.Group("/draws", middleware.UserContextMiddleware())

	group.Post("/payment-details", func(c *fiber.Ctx) error {
		var req struct {
			BankName      string `json:"bank_name" validate:"required"`
			AccountHolder string `json:"account_holder" validate:"required"`
			AccountNumber string `json:"account_number" validate:"required,min=4,max=34"`
		}
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		detail, draw, err := payments.SubmitPaymentDetails(c.UserContext(), currentUser(c), services.PaymentDetailsInput{
			BankName:      req.BankName,
			AccountHolder: req.AccountHolder,
			AccountNumber: req.AccountNumber,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"draw_id":        draw.ID,
			"payment_status": draw.PaymentStatus,
			"account_number": detail.MaskedAccountNumber(),
			"bank_name":      detail.BankName,
		})
	})

	group.Get("/winner-status", func(c *fiber.Ctx) error {
		status, err := draws.WinnerStatus(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(status)
	})
}
