package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/retail-saga/services/gateway/internal/pkg/client"
	"github.com/sakashimaa/retail-saga/services/gateway/middleware"
)

type Upstreams struct {
	Product *client.Upstream
	Order   *client.Upstream
}

// RegisterRoutes proxies the public API to the owning service. The catalogue
// is public; orders need an Admin or Sales token. Authorization headers are
// forwarded as received.
func RegisterRoutes(app *fiber.App, u *Upstreams, auth middleware.AuthConfig) {
	app.All("/api/Produto/*", u.Product.Forward)

	app.All("/api/Pedido/*",
		middleware.NewAuthMiddleware(auth),
		middleware.RequireRoles("Admin", "Sales"),
		u.Order.Forward,
	)
}
