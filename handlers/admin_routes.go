package handlers

import (
	"time"

	"marketplace-rewards/middleware"
	"marketplace-rewards/services"

	"github.com/gofiber/fiber/v2"
)

// AdminServices groups the services the admin surface drives.
type AdminServices struct {
	Draws     *services.DrawService
	Payments  *services.PaymentService
	Ledger    *services.TicketLedger
	Codes     *services.ReferralCodeRegistry
	Referrals *services.ReferralService
}

func SetupAdminRoutes(app *fiber.App, svc AdminServices) {
	admin := app.Group("/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	admin.Get("/draws/summary", func(c *fiber.Ctx) error {
		summary, err := svc.Draws.ManagementSummary(c.UserContext(), time.Now().UTC())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(summary)
	})

	// Without a body the current period is drawn.
	admin.Post("/draws/run", func(c *fiber.Ctx) error {
		var req struct {
			Month int `json:"month" validate:"omitempty,min=1,max=12"`
			Year  int `json:"year" validate:"omitempty,min=2000,max=9999"`
		}
		if len(c.Body()) > 0 {
			if ok, err := parseBody(c, &req); !ok {
				return err
			}
		}
		if req.Month == 0 || req.Year == 0 {
			req.Month, req.Year = svc.Draws.Period(time.Now())
		}

		draw, err := svc.Draws.RunDraw(c.UserContext(), req.Month, req.Year)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(draw)
	})

	admin.Post("/draws/:id/verify-payment", func(c *fiber.Ctx) error {
		detail, err := svc.Payments.VerifyPaymentDetail(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"id":          detail.ID,
			"status":      detail.Status,
			"verified_at": detail.VerifiedAt,
		})
	})

	admin.Post("/draws/:id/process-payment", func(c *fiber.Ctx) error {
		var req struct {
			Notes string `json:"notes" validate:"max=1000"`
		}
		if len(c.Body()) > 0 {
			if ok, err := parseBody(c, &req); !ok {
				return err
			}
		}

		draw, err := svc.Payments.ProcessPayment(c.UserContext(), c.Params("id"), req.Notes)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(draw)
	})

	admin.Get("/draws/:id/payment-details", func(c *fiber.Ctx) error {
		detail, err := svc.Payments.PaymentDetailForDraw(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"id":             detail.ID,
			"draw_id":        detail.DrawID,
			"user_id":        detail.UserID,
			"bank_name":      detail.BankName,
			"account_holder": detail.AccountHolder,
			"account_number": detail.AccountNumber,
			"account_masked": detail.MaskedAccountNumber(),
			"status":         detail.Status,
			"verified_at":    detail.VerifiedAt,
			"paid_at":        detail.PaidAt,
		})
	})

	admin.Post("/tickets/promotion", func(c *fiber.Ctx) error {
		var req struct {
			UserID  string `json:"user_id" validate:"required"`
			Tickets int64  `json:"tickets" validate:"required,min=1"`
			Key     string `json:"key" validate:"required,max=128"`
		}
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		entry, created, err := svc.Ledger.GrantPromotionTickets(c.UserContext(), req.UserID, req.Tickets, req.Key)
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{"entry": entry, "created": created})
	})

	admin.Post("/users/:user_id/tickets/recount", func(c *fiber.Ctx) error {
		total, err := svc.Ledger.RecountActiveTickets(c.UserContext(), c.Params("user_id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"user_id": c.Params("user_id"), "active_draw_tickets": total})
	})

	admin.Post("/referral-codes/:code/deactivate", func(c *fiber.Ctx) error {
		if err := svc.Codes.DeactivateCode(c.UserContext(), c.Params("code")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"code": c.Params("code"), "status": "inactive"})
	})

	admin.Post("/referrals/:id/free-month-applied", func(c *fiber.Ctx) error {
		if err := svc.Referrals.ConfirmFreeMonth(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"referral_id": c.Params("id"), "reward_status": "processed"})
	})
}
