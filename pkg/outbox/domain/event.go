package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type OutboxEvent struct {
	ID            int64           `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Headers       json.RawMessage `db:"headers"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	Attempts      int64           `db:"attempts"`
	LastError     *string         `db:"last_error"`
	Topic         string          `db:"topic"`
}

// NewOutboxEvent marshals payload and headers into a row ready to be saved.
func NewOutboxEvent(
	aggregateType, aggregateID, eventType, topic string,
	payload any,
	headers map[string]string,
) (*OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	if headers == nil {
		headers = map[string]string{}
	}
	rawHeaders, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("marshal %s headers: %w", eventType, err)
	}

	return &OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		Payload:       body,
		Headers:       rawHeaders,
	}, nil
}

func (e *OutboxEvent) HeaderMap() (map[string]string, error) {
	headers := map[string]string{}
	if len(e.Headers) == 0 || string(e.Headers) == "null" {
		return headers, nil
	}

	if err := json.Unmarshal(e.Headers, &headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers of event %d: %w", e.ID, err)
	}

	return headers, nil
}
