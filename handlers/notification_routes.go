package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-rewards/middleware"
	"marketplace-rewards/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const streamPollInterval = 2 * time.Second

// SetupNotificationRoutes registers the stream ahead of the header-authenticated
// group so that EventSource clients only need query credentials.
func SetupNotificationRoutes(app *fiber.App, notifications *services.NotificationService, authClient *services.AuthServiceClient) {
	app.Get("/notifications/stream", middleware.SSEAuthMiddleware(authClient), func(c *fiber.Ctx) error {
		return streamNotifications(c, notifications)
	})

	group := app.Group("/notifications", middleware.UserContextMiddleware())

	group.Get("/", func(c *fiber.Ctx) error {
		list, err := notifications.ListUnread(currentUser(c), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"notifications": list, "count": len(list)})
	})

	group.Post("/read-all", func(c *fiber.Ctx) error {
		n, err := notifications.MarkAllRead(currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"updated": n})
	})

	group.Post("/:id/read", func(c *fiber.Ctx) error {
		if err := notifications.MarkRead(currentUser(c), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"status": "read"})
	})
}

func streamNotifications(c *fiber.Ctx, notifications *services.NotificationService) error {
	userID := currentUser(c)
	// The fiber context is recycled once the handler returns, so everything the
	// writer needs is captured here.
	done := c.Context().Done()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()

		cursor := services.NewStreamCursor(time.Now().UTC())

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				fresh, err := notifications.Since(context.Background(), userID, cursor)
				if err != nil {
					zap.L().Warn("notification stream query failed", zap.String("user_id", userID), zap.Error(err))
					continue
				}
				if len(fresh) == 0 {
					// keepalive
					w.WriteString(":\n\n")
				} else {
					for _, n := range fresh {
						payload, err := json.Marshal(n)
						if err != nil {
							continue
						}
						fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
					}
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})

	return nil
}
