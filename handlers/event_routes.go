package handlers

import (
	"time"

	"marketplace-rewards/models"
	"marketplace-rewards/services"

	"github.com/gofiber/fiber/v2"
)

type signupEventRequest struct {
	UserID       string   `json:"user_id" validate:"required"`
	Username     string   `json:"username"`
	FullName     string   `json:"full_name"`
	Email        string   `json:"email" validate:"omitempty,email"`
	Roles        []string `json:"roles"`
	ReferralCode string   `json:"referral_code"`
}

type listingEventRequest struct {
	ListingID    string     `json:"listing_id" validate:"required"`
	OwnerID      string     `json:"owner_id" validate:"required"`
	Title        string     `json:"title"`
	ReferralCode *string    `json:"referral_code"`
	RewardType   *string    `json:"reward_type" validate:"omitempty,oneof=free_month draw_entries"`
	CreatedAt    *time.Time `json:"created_at"`
}

func (r listingEventRequest) mirror() models.ListingMirror {
	m := models.ListingMirror{
		ID:           r.ListingID,
		OwnerID:      r.OwnerID,
		Title:        r.Title,
		ReferralCode: r.ReferralCode,
		RewardType:   r.RewardType,
	}
	if r.CreatedAt != nil {
		m.CreatedAt = r.CreatedAt.UTC()
	}
	return m
}

// SetupEventRoutes exposes the push side of the intake. Upstream services
// authenticate with the gateway token only.
func SetupEventRoutes(app *fiber.App, intake *services.IntakeService) {
	events := app.Group("/events")

	events.Post("/signup", func(c *fiber.Ctx) error {
		var req signupEventRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		out, err := intake.HandleSignup(c.UserContext(), services.SignupEvent{
			Profile: services.Profile{
				ExternalUserID: req.UserID,
				Username:       req.Username,
				FullName:       req.FullName,
				Email:          req.Email,
				Roles:          req.Roles,
			},
			ReferralCode: req.ReferralCode,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	events.Post("/listing-created", func(c *fiber.Ctx) error {
		var req listingEventRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		out, err := intake.HandleListingCreated(c.UserContext(), req.mirror())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})
}
