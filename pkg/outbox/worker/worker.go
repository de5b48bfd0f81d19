package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/retail-saga/pkg/db"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"github.com/sakashimaa/retail-saga/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxAttempts is the number of failed publishes after which a row is left
// for manual inspection.
const MaxAttempts = 10

// HeaderEventID carries the outbox row id to the broker as a message id.
const HeaderEventID = "outbox_event_id"

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, error string) error
}

// Publisher delivers an already encoded payload to a broker destination.
type Publisher interface {
	PublishRaw(ctx context.Context, destination string, payload []byte, headers map[string]string) error
}

type Options struct {
	BatchSize int
	Interval  time.Duration
}

type OutboxProcessor struct {
	transactor db.Transactor
	repo       OutboxRepository
	publishers map[string]Publisher
	logger     *zap.Logger
	batchSize  int
	interval   time.Duration
	tracer     trace.Tracer
}

// NewOutboxProcessor routes every row to the publisher registered for its
// topic. Rows with an unknown topic are marked failed.
func NewOutboxProcessor(
	transactor db.Transactor,
	repo OutboxRepository,
	publishers map[string]Publisher,
	logger *zap.Logger,
	opts Options,
) *OutboxProcessor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}

	return &OutboxProcessor{
		transactor: transactor,
		repo:       repo,
		publishers: publishers,
		logger:     logger,
		batchSize:  opts.BatchSize,
		interval:   opts.Interval,
		tracer:     otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch publishes one batch of pending rows and returns how many were
// published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	published := 0
	err := p.transactor.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		mylogger.Debug(
			ctx,
			p.logger,
			"Processing outbox events",
			zap.Int("count", len(events)),
		)

		for _, event := range events {
			if err := p.publish(ctx, event); err != nil {
				mylogger.Error(
					ctx,
					p.logger,
					"outbox worker publish failed",
					zap.Int64("id", event.ID),
					zap.String("topic", event.Topic),
					zap.Int64("attempts", event.Attempts+1),
					zap.Error(err),
				)

				if dbErr := p.repo.MarkEventFailed(ctx, tx, event.ID, err.Error()); dbErr != nil {
					return fmt.Errorf("mark event %d failed: %w", event.ID, dbErr)
				}
				continue
			}

			if dbErr := p.repo.MarkEventPublished(ctx, tx, event.ID); dbErr != nil {
				return fmt.Errorf("mark event %d published: %w", event.ID, dbErr)
			}
			published++

			mylogger.Debug(
				ctx,
				p.logger,
				"outbox worker event published successfully",
				zap.Int64("id", event.ID),
				zap.String("event_type", event.EventType),
			)
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(attribute.Int("published", published))
	return published, nil
}

func (p *OutboxProcessor) publish(ctx context.Context, event *domain.OutboxEvent) error {
	publisher, ok := p.publishers[event.Topic]
	if !ok {
		return fmt.Errorf("no publisher registered for topic %q", event.Topic)
	}

	headers, err := event.HeaderMap()
	if err != nil {
		return err
	}

	// Continue the trace of the request that wrote the row.
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	headers[HeaderEventID] = fmt.Sprintf("%d", event.ID)

	return publisher.PublishRaw(ctx, event.Topic, event.Payload, headers)
}
