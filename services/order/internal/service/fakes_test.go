package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/retail-saga/pkg/contracts"
	outboxDomain "github.com/sakashimaa/retail-saga/pkg/outbox/domain"
	"github.com/sakashimaa/retail-saga/services/order/internal/client"
	"github.com/sakashimaa/retail-saga/services/order/internal/domain"
	"github.com/sakashimaa/retail-saga/services/order/internal/repository"
)

type fakeTransactor struct {
	commitErr error
	calls     int
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	f.calls++
	if err := fn(ctx, nil); err != nil {
		return err
	}
	return f.commitErr
}

type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[int64]*domain.Order
	nextID    int64
	createErr error
	cancelErr error
	loadErr   error

	lastFilter domain.ListFilter
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[int64]*domain.Order{}}
}

func (f *fakeOrderRepo) CreateOrder(_ context.Context, _ pgx.Tx, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}

	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = int64(i + 1)
		order.Items[i].OrderID = order.ID
	}

	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	f.orders[order.ID] = &stored
	return nil
}

func (f *fakeOrderRepo) ListOrders(_ context.Context, filter domain.ListFilter) ([]domain.Order, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastFilter = filter
	if f.loadErr != nil {
		return nil, 0, f.loadErr
	}

	var out []domain.Order
	for _, order := range f.orders {
		if !order.IsDeleted {
			out = append(out, *order)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeOrderRepo) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return f.GetOrderForUpdate(ctx, nil, orderID)
}

func (f *fakeOrderRepo) GetOrderForUpdate(_ context.Context, _ pgx.Tx, orderID int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loadErr != nil {
		return nil, f.loadErr
	}

	order, ok := f.orders[orderID]
	if !ok || order.IsDeleted {
		return nil, repository.ErrOrderNotFound
	}

	out := *order
	out.Items = nil
	for _, item := range order.Items {
		if !item.IsDeleted {
			out.Items = append(out.Items, item)
		}
	}
	return &out, nil
}

func (f *fakeOrderRepo) CancelOrder(_ context.Context, _ pgx.Tx, orderID int64, deletedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelErr != nil {
		return f.cancelErr
	}

	order, ok := f.orders[orderID]
	if !ok || order.IsDeleted {
		return repository.ErrOrderNotFound
	}

	order.Status = domain.OrderStatusCancelled
	order.IsDeleted = true
	order.DeletedAt = &deletedAt
	for i := range order.Items {
		if !order.Items[i].IsDeleted {
			order.Items[i].IsDeleted = true
			order.Items[i].DeletedAt = &deletedAt
		}
	}
	return nil
}

type fakeOutbox struct {
	mu      sync.Mutex
	events  []*outboxDomain.OutboxEvent
	saveErr error
}

func (f *fakeOutbox) SaveOutboxEvent(_ context.Context, _ pgx.Tx, event *outboxDomain.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return f.saveErr
	}
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) GetUnpublishedEvents(context.Context, pgx.Tx, int) ([]*outboxDomain.OutboxEvent, error) {
	return nil, errors.New("not used")
}

func (f *fakeOutbox) MarkEventPublished(context.Context, pgx.Tx, int64) error {
	return errors.New("not used")
}

func (f *fakeOutbox) MarkEventFailed(context.Context, pgx.Tx, int64, string) error {
	return errors.New("not used")
}

func (f *fakeOutbox) byTopic(topic string) []*outboxDomain.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*outboxDomain.OutboxEvent
	for _, e := range f.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type fakeStock struct {
	products map[int64]*domain.ProductSnapshot
	errs     map[int64]error
	calls    []int64
}

func (f *fakeStock) FetchProduct(_ context.Context, productID int64) (*domain.ProductSnapshot, error) {
	f.calls = append(f.calls, productID)

	if err, ok := f.errs[productID]; ok {
		return nil, err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, client.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []contracts.StockAdjustmentMessage
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg contracts.StockAdjustmentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, msg)
	return f.err
}
