package http

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(app *fiber.App, h *OrderHandler) {
	pedido := app.Group("/api/Pedido")

	pedido.Post("/Cadastrar", h.Create)
	pedido.Get("/ObterTodos", h.List)
	pedido.Get("/ObterPorId/:id", h.FindByID)
	pedido.Delete("/Excluir/:id", h.Cancel)
}
