package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/retail-saga/pkg/outbox/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransactor struct {
	commits   int
	rollbacks int
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if err := fn(ctx, nil); err != nil {
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

type fakeRepo struct {
	pending   []*domain.OutboxEvent
	published []int64
	failed    map[int64]string
}

func (r *fakeRepo) SaveOutboxEvent(_ context.Context, _ pgx.Tx, event *domain.OutboxEvent) error {
	r.pending = append(r.pending, event)
	return nil
}

func (r *fakeRepo) GetUnpublishedEvents(_ context.Context, _ pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	if len(r.pending) > batchSize {
		return r.pending[:batchSize], nil
	}
	return r.pending, nil
}

func (r *fakeRepo) MarkEventPublished(_ context.Context, _ pgx.Tx, eventID int64) error {
	r.published = append(r.published, eventID)
	return nil
}

func (r *fakeRepo) MarkEventFailed(_ context.Context, _ pgx.Tx, eventID int64, msg string) error {
	if r.failed == nil {
		r.failed = map[int64]string{}
	}
	r.failed[eventID] = msg
	return nil
}

type sent struct {
	destination string
	payload     string
	headers     map[string]string
}

type fakePublisher struct {
	err  error
	sent []sent
}

func (p *fakePublisher) PublishRaw(_ context.Context, destination string, payload []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sent{destination: destination, payload: string(payload), headers: headers})
	return nil
}

func newEvent(t *testing.T, id int64, topic string, payload any) *domain.OutboxEvent {
	t.Helper()

	e, err := domain.NewOutboxEvent("order", "1", "Test", topic, payload, map[string]string{"correlation_id": "abc"})
	require.NoError(t, err)
	e.ID = id
	return e
}

func TestProcessBatch_RoutesByTopic(t *testing.T) {
	repo := &fakeRepo{}
	repo.pending = []*domain.OutboxEvent{
		newEvent(t, 1, "update_stock_queue", map[string]any{"itens": []int{}}),
		newEvent(t, 2, "order_events", map[string]any{"pedidoId": 1}),
	}
	stock, events := &fakePublisher{}, &fakePublisher{}
	tx := &fakeTransactor{}

	p := NewOutboxProcessor(tx, repo, map[string]Publisher{
		"update_stock_queue": stock,
		"order_events":       events,
	}, zap.NewNop(), Options{})

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, tx.commits)
	require.Equal(t, []int64{1, 2}, repo.published)

	require.Len(t, stock.sent, 1)
	require.Equal(t, "update_stock_queue", stock.sent[0].destination)
	require.JSONEq(t, `{"itens":[]}`, stock.sent[0].payload)
	require.Equal(t, "1", stock.sent[0].headers[HeaderEventID])
	require.Equal(t, "abc", stock.sent[0].headers["correlation_id"])

	require.Len(t, events.sent, 1)
	require.Equal(t, "2", events.sent[0].headers[HeaderEventID])
}

func TestProcessBatch_FailedPublishMarksRow(t *testing.T) {
	repo := &fakeRepo{}
	repo.pending = []*domain.OutboxEvent{
		newEvent(t, 7, "update_stock_queue", map[string]any{}),
		newEvent(t, 8, "unknown_topic", map[string]any{}),
	}

	p := NewOutboxProcessor(&fakeTransactor{}, repo, map[string]Publisher{
		"update_stock_queue": &fakePublisher{err: errors.New("broker down")},
	}, zap.NewNop(), Options{BatchSize: 10})

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, repo.published)
	require.Equal(t, "broker down", repo.failed[7])
	require.Contains(t, repo.failed[8], "no publisher registered")
}

func TestProcessBatch_Empty(t *testing.T) {
	tx := &fakeTransactor{}
	p := NewOutboxProcessor(tx, &fakeRepo{}, nil, zap.NewNop(), Options{})

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, tx.commits)
}
