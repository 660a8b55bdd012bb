package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes fired alerts as JSON events, keyed by symbol so
// downstream consumers see per-symbol ordering.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaNotifier creates a notifier writing to the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string, logger zerolog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaNotifier{
		writer: writer,
		logger: logger.With().Str("component", "alert_kafka").Logger(),
	}
}

type alertEvent struct {
	EventType        string    `json:"event_type"`
	AlertID          int64     `json:"alert_id"`
	OwnerKey         string    `json:"owner_key"`
	Symbol           string    `json:"symbol"`
	Kind             string    `json:"kind"`
	WindowMinutes    int       `json:"window_minutes,omitempty"`
	ThresholdPercent string    `json:"threshold_percent"`
	MovePercent      string    `json:"move_percent"`
	Price            string    `json:"price"`
	RefPrice         string    `json:"ref_price"`
	ObservedAt       time.Time `json:"observed_at"`
}

// Notify publishes an ALERT_TRIGGERED event.
func (n *KafkaNotifier) Notify(ctx context.Context, note Notification) error {
	event := alertEvent{
		EventType:        "ALERT_TRIGGERED",
		AlertID:          note.AlertID,
		OwnerKey:         note.OwnerKey,
		Symbol:           note.Symbol,
		Kind:             string(note.Kind),
		WindowMinutes:    note.WindowMinutes,
		ThresholdPercent: note.ThresholdPercent.String(),
		MovePercent:      note.MovePercent.String(),
		Price:            note.Price.String(),
		RefPrice:         note.RefPrice.String(),
		ObservedAt:       note.ObservedAt,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(note.Symbol),
		Value: data,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert event to kafka: %w", err)
	}

	n.logger.Info().
		Int64("alert_id", note.AlertID).
		Str("symbol", note.Symbol).
		Msg("alert published (Kafka)")
	return nil
}

// Close releases the kafka writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

var _ Notifier = (*KafkaNotifier)(nil)
