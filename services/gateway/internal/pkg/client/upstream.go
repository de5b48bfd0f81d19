package client

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var ErrUpstreamFailure = errors.New("upstream replied with a server error")

// Upstream forwards requests to one backend service behind its own circuit
// breaker. 5xx replies count as failures but are still relayed to the caller.
type Upstream struct {
	name    string
	baseURL string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewUpstream(name, baseURL string, breakerTimeout time.Duration, logger *zap.Logger) *Upstream {
	return &Upstream{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: utils.NewBreaker(name, breakerTimeout, logger),
		logger:  logger,
	}
}

func (u *Upstream) Forward(c *fiber.Ctx) error {
	target := u.baseURL + c.OriginalURL()
	otel.GetTextMapPropagator().Inject(c.UserContext(), headerCarrier{c})

	_, err := utils.ExecuteWithBreaker(u.breaker, func() (int, error) {
		if err := proxy.Do(c, target); err != nil {
			return 0, err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			return status, fmt.Errorf("%w: %s %d", ErrUpstreamFailure, u.name, status)
		}
		return status, nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUpstreamFailure):
		mylogger.Warn(
			c.UserContext(),
			u.logger,
			"upstream server error",
			zap.String("upstream", u.name),
			zap.Int("status", c.Response().StatusCode()),
		)

		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fmt.Sprintf("%s is temporarily unavailable", u.name),
		})
	default:
		mylogger.Error(
			c.UserContext(),
			u.logger,
			"upstream request failed",
			zap.String("upstream", u.name),
			zap.String("target", target),
			zap.Error(err),
		)

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fmt.Sprintf("%s is unavailable", u.name),
		})
	}
}

type headerCarrier struct {
	c *fiber.Ctx
}

func (h headerCarrier) Get(key string) string {
	return h.c.Get(key)
}

func (h headerCarrier) Set(key, value string) {
	h.c.Request().Header.Set(key, value)
}

func (h headerCarrier) Keys() []string {
	headers := h.c.GetReqHeaders()
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	return keys
}
