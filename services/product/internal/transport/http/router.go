package http

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(app *fiber.App, h *ProductHandler) {
	produto := app.Group("/api/Produto")

	produto.Get("/ObterPorId/:id", h.FindByID)
	produto.Get("/ObterTodos", h.List)
	produto.Post("/Cadastrar", h.Create)
	produto.Put("/Atualizar/:id", h.Update)
	produto.Delete("/Excluir/:id", h.Delete)
}
