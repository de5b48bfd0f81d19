package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/retail-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type Producer interface {
	PublishRaw(ctx context.Context, topic string, payload []byte, headers map[string]string) error
	Close() error
}

type producer struct {
	syncProducer sarama.SyncProducer
	logger       *zap.Logger
}

func NewProducer(brokers []string, logger *zap.Logger) (Producer, error) {
	p, err := dialSync(brokers)
	if err != nil {
		return nil, err
	}

	return NewProducerFromSync(p, logger), nil
}

func dialSync(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return p, nil
}

// NewLazyProducer connects on the first publish instead of at startup, so a
// service whose main path does not need Kafka can start while the brokers are
// down. A failed dial is returned to the caller and retried on the next publish.
func NewLazyProducer(brokers []string, logger *zap.Logger) Producer {
	return newLazyProducer(func() (sarama.SyncProducer, error) {
		return dialSync(brokers)
	}, logger)
}

func newLazyProducer(dial func() (sarama.SyncProducer, error), logger *zap.Logger) *lazyProducer {
	return &lazyProducer{dial: dial, logger: logger}
}

type lazyProducer struct {
	mu     sync.Mutex
	dial   func() (sarama.SyncProducer, error)
	inner  Producer
	logger *zap.Logger
}

func (l *lazyProducer) get() (Producer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inner != nil {
		return l.inner, nil
	}

	p, err := l.dial()
	if err != nil {
		return nil, err
	}

	l.inner = NewProducerFromSync(p, l.logger)
	l.logger.Info("kafka producer connected")
	return l.inner, nil
}

func (l *lazyProducer) PublishRaw(ctx context.Context, topic string, payload []byte, headers map[string]string) error {
	p, err := l.get()
	if err != nil {
		return err
	}

	return p.PublishRaw(ctx, topic, payload, headers)
}

func (l *lazyProducer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inner == nil {
		return nil
	}
	return l.inner.Close()
}

func NewProducerFromSync(p sarama.SyncProducer, logger *zap.Logger) Producer {
	return &producer{syncProducer: p, logger: logger}
}

// PublishRaw sends payload as is. The trace context of ctx is injected on top
// of the given headers.
func (p *producer) PublishRaw(ctx context.Context, topic string, payload []byte, headers map[string]string) error {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		carrier[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	recordHeaders := make([]sarama.RecordHeader, 0, len(carrier))
	for k, v := range carrier {
		recordHeaders = append(recordHeaders, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(payload),
		Headers: recordHeaders,
	}
	if key, ok := headers["correlation_id"]; ok {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.syncProducer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"message sent to kafka",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *producer) Close() error {
	return p.syncProducer.Close()
}
