package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
)

const HeaderCorrelationID = "X-Correlation-ID"

// NewCorrelationMiddleware makes sure every request carries a correlation id,
// keeping the one the caller sent. The id is echoed back and forwarded
// upstream.
func NewCorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(HeaderCorrelationID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			c.Request().Header.Set(HeaderCorrelationID, id)
		}

		c.SetUserContext(mylogger.WithCorrelationID(c.UserContext(), id))

		// proxied responses replace the headers, so echo after the chain
		err := c.Next()
		c.Set(HeaderCorrelationID, id)
		return err
	}
}
