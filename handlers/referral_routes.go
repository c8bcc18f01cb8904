package handlers

import (
	"fmt"
	"strings"
	"time"

	"marketplace-rewards/middleware"
	"marketplace-rewards/models"
	"marketplace-rewards/services"

	"github.com/gofiber/fiber/v2"
)

func SetupReferralRoutes(app *fiber.App, referrals *services.ReferralService, codes *services.ReferralCodeRegistry, frontendURL string) {
	group := app.Group("/referrals", middleware.UserContextMiddleware())

	group.Post("/code", func(c *fiber.Ctx) error {
		rc, err := codes.GenerateCode(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"code":          rc.Code,
			"usage_count":   rc.UsageCount,
			"referral_link": fmt.Sprintf("%s/referral/%s", strings.TrimRight(frontendURL, "/"), rc.Code),
		})
	})

	group.Get("/code/:code/validate", func(c *fiber.Ctx) error {
		owner, err := codes.ValidateCode(c.UserContext(), c.Params("code"), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"valid": true, "referrer": owner})
	})

	group.Post("/apply", func(c *fiber.Ctx) error {
		var req struct {
			Code       string  `json:"code" validate:"required"`
			ListingID  *string `json:"listing_id"`
			RewardType string  `json:"reward_type" validate:"omitempty,oneof=free_month draw_entries"`
		}
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		res, err := referrals.ApplyCode(c.UserContext(), services.ApplyInput{
			Code:       req.Code,
			RedeemerID: currentUser(c),
			ListingID:  req.ListingID,
			RewardType: models.RewardType(req.RewardType),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	group.Post("/choose-reward", func(c *fiber.Ctx) error {
		var req struct {
			ReferralID string `json:"referral_id" validate:"required"`
			RewardType string `json:"reward_type" validate:"required,oneof=free_month draw_entries"`
		}
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		res, err := referrals.ChooseReward(c.UserContext(), currentUser(c), req.ReferralID, models.RewardType(req.RewardType))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	group.Get("/dashboard", func(c *fiber.Ctx) error {
		dash, err := referrals.Dashboard(c.UserContext(), currentUser(c), time.Now().UTC())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(dash)
	})
}
