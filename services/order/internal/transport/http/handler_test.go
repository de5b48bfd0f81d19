package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/retail-saga/services/order/internal/client"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeService struct {
	input     domain.CreateOrderInput
	auth      string
	createErr error
	getErr    error
	cancelErr error
	cancelled []int64
	filter    domain.ListFilter
	listErr   error
}

func (f *fakeService) CreateOrder(ctx context.Context, in domain.CreateOrderInput) (*domain.Order, error) {
	f.input = in
	f.auth = client.Authorization(ctx)
	if f.createErr != nil {
		return nil, f.createErr
	}

	order := &domain.Order{
		ID:            10,
		CustomerID:    in.CustomerID,
		Status:        domain.OrderStatusConfirmed,
		CorrelationID: uuid.New(),
		Items: []domain.OrderItem{
			{ID: 1, ProductID: 7, ProductName: "Caneca", UnitPrice: decimal.RequireFromString("50"), Quantity: 3},
		},
	}
	order.CalculateTotal()
	return order, nil
}

func (f *fakeService) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &domain.Order{ID: id, Status: domain.OrderStatusConfirmed, Total: decimal.RequireFromString("12.5")}, nil
}

func (f *fakeService) ListOrders(_ context.Context, filter domain.ListFilter) ([]domain.Order, int64, error) {
	f.filter = filter
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return []domain.Order{
		{ID: 1, Status: domain.OrderStatusConfirmed, Total: decimal.RequireFromString("10")},
		{ID: 2, Status: domain.OrderStatusConfirmed, Total: decimal.RequireFromString("20")},
	}, 12, nil
}

func (f *fakeService) CancelOrder(_ context.Context, id int64) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func newApp(svc *fakeService) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, NewOrderHandler(svc, zap.NewNop()))
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestCreate_Created(t *testing.T) {
	svc := &fakeService{}
	app := newApp(svc)

	status, body := doJSON(t, app, "POST", "/api/Pedido/Cadastrar",
		`{"idCliente":1,"itens":[{"idProduto":7,"quantidade":3}]}`,
		map[string]string{"Authorization": "Bearer t0k"},
	)

	require.Equal(t, fiber.StatusCreated, status)
	require.Equal(t, domain.CreateOrderInput{CustomerID: 1, Items: []domain.LineInput{{ProductID: 7, Quantity: 3}}}, svc.input)
	require.Equal(t, "Bearer t0k", svc.auth)

	require.Equal(t, 150.0, body["valorTotal"])
	require.Equal(t, "Confirmed", body["status"])
	items := body["itens"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, 50.0, items[0].(map[string]any)["precoUnitario"])
}

func TestCreate_BadBody(t *testing.T) {
	status, _ := doJSON(t, newApp(&fakeService{}), "POST", "/api/Pedido/Cadastrar", `{"itens":`, nil)
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestCreate_ErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", domain.NewValidationError(map[string]string{"itens": "itens is required"}), fiber.StatusBadRequest},
		{"not found", domain.NewNotFoundError("product %d not found", 7), fiber.StatusNotFound},
		{"conflict", domain.NewConflictError(&domain.InsufficientStock{ProductID: 7, Available: 1, Requested: 3}), fiber.StatusConflict},
		{"unavailable", domain.NewUnavailableError(7, errors.New("dial tcp")), fiber.StatusServiceUnavailable},
		{"internal", domain.NewInternalError("failed to persist order", errors.New("boom")), fiber.StatusInternalServerError},
		{"untyped", errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newApp(&fakeService{createErr: tc.err})

			status, body := doJSON(t, app, "POST", "/api/Pedido/Cadastrar",
				`{"idCliente":1,"itens":[{"idProduto":7,"quantidade":3}]}`, nil)
			require.Equal(t, tc.status, status)
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestCreate_ConflictBody(t *testing.T) {
	app := newApp(&fakeService{createErr: domain.NewConflictError(&domain.InsufficientStock{ProductID: 7, Available: 1, Requested: 3})})

	status, body := doJSON(t, app, "POST", "/api/Pedido/Cadastrar", `{"idCliente":1,"itens":[{"idProduto":7,"quantidade":3}]}`, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, 7.0, body["idProduto"])
	require.Equal(t, 1.0, body["disponivel"])
	require.Equal(t, 3.0, body["solicitado"])
}

func TestFindByID(t *testing.T) {
	status, body := doJSON(t, newApp(&fakeService{}), "GET", "/api/Pedido/ObterPorId/5", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, 5.0, body["id"])
	require.Equal(t, 12.5, body["valorTotal"])

	status, _ = doJSON(t, newApp(&fakeService{getErr: domain.NewNotFoundError("order %d not found", 5)}), "GET", "/api/Pedido/ObterPorId/5", "", nil)
	require.Equal(t, fiber.StatusNotFound, status)

	status, _ = doJSON(t, newApp(&fakeService{}), "GET", "/api/Pedido/ObterPorId/abc", "", nil)
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestCancel(t *testing.T) {
	svc := &fakeService{}
	status, _ := doJSON(t, newApp(svc), "DELETE", "/api/Pedido/Excluir/3", "", nil)
	require.Equal(t, fiber.StatusNoContent, status)
	require.Equal(t, []int64{3}, svc.cancelled)

	svc = &fakeService{cancelErr: domain.NewNotFoundError("order %d not found", 3)}
	status, _ = doJSON(t, newApp(svc), "DELETE", "/api/Pedido/Excluir/3", "", nil)
	require.Equal(t, fiber.StatusNotFound, status)
}

func TestList(t *testing.T) {
	svc := &fakeService{}
	app := newApp(svc)

	req := httptest.NewRequest("GET", "/api/Pedido/ObterTodos?page=2&pageSize=5&sortBy=ValorTotal&ascending=false&status=Confirmed&minTotal=10.50&maxTotal=99", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "12", resp.Header.Get("X-Total-Count"))

	var body []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 2)
	require.Equal(t, 20.0, body[1]["valorTotal"])

	require.Equal(t, int64(2), svc.filter.Page)
	require.Equal(t, int64(5), svc.filter.PageSize)
	require.Equal(t, domain.SortByTotal, svc.filter.SortBy)
	require.False(t, svc.filter.Ascending)
	require.Equal(t, domain.OrderStatusConfirmed, svc.filter.Status)
	require.Equal(t, "10.5", svc.filter.MinTotal.String())
	require.Equal(t, "99", svc.filter.MaxTotal.String())
}

func TestList_Errors(t *testing.T) {
	status, _ := doJSON(t, newApp(&fakeService{}), "GET", "/api/Pedido/ObterTodos?minTotal=abc", "", nil)
	require.Equal(t, fiber.StatusBadRequest, status)

	svc := &fakeService{listErr: domain.NewValidationError(map[string]string{"page": "page must be greater than 0"})}
	status, body := doJSON(t, newApp(svc), "GET", "/api/Pedido/ObterTodos?page=0", "", nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "page must be greater than 0", body["fields"].(map[string]any)["page"])
}
