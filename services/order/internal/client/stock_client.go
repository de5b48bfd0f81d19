package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var ErrProductNotFound = errors.New("product not found")

// UnavailableError means the inventory service could not answer, either
// because it was unreachable or because it replied with an unexpected status.
type UnavailableError struct {
	ProductID  int64
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stock service unavailable for product %d: %v", e.ProductID, e.Err)
	}
	return fmt.Sprintf("stock service unavailable for product %d: status %d", e.ProductID, e.StatusCode)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

type StockClient interface {
	FetchProduct(ctx context.Context, productID int64) (*domain.ProductSnapshot, error)
}

type authKey struct{}

// WithAuthorization stores the caller's Authorization header so outbound
// stock queries carry the same credentials.
func WithAuthorization(ctx context.Context, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, value)
}

// Authorization returns the header stored by WithAuthorization.
func Authorization(ctx context.Context) string {
	v, _ := ctx.Value(authKey{}).(string)
	return v
}

type productResponse struct {
	Name          string          `json:"nome"`
	Price         decimal.Decimal `json:"preco"`
	StockQuantity int64           `json:"quantidadeEstoque"`
}

type stockClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewStockClient builds a client for the inventory service. A nil httpClient
// gets the default transport wrapped with tracing.
func NewStockClient(baseURL string, httpClient *http.Client, logger *zap.Logger) StockClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &stockClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

func (c *stockClient) FetchProduct(ctx context.Context, productID int64) (*domain.ProductSnapshot, error) {
	url := fmt.Sprintf("%s/api/Produto/ObterPorId/%d", c.baseURL, productID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stock request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth := Authorization(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"Stock service request failed",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)

		return nil, &UnavailableError{ProductID: productID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrProductNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)

		mylogger.Warn(
			ctx,
			c.logger,
			"Stock service replied with unexpected status",
			zap.Int64("product_id", productID),
			zap.Int("status", resp.StatusCode),
		)

		return nil, &UnavailableError{ProductID: productID, StatusCode: resp.StatusCode}
	}

	var body productResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &UnavailableError{ProductID: productID, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}

	return &domain.ProductSnapshot{
		ID:            productID,
		Name:          body.Name,
		Price:         body.Price,
		StockQuantity: body.StockQuantity,
	}, nil
}
