package notify

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

const (
	// TopicUser carries customer-facing notification events.
	TopicUser = "notify.user"
	// TopicAdmin carries back-office notification events.
	TopicAdmin = "notify.admin"
)

// KafkaDispatcher publishes events to Kafka, keyed by order ID so that
// notifications for one order stay in delivery order.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	lg       *zap.Logger
}

// NewKafkaDispatcher connects a synchronous producer to the given brokers.
func NewKafkaDispatcher(brokers []string, lg *zap.Logger) (*KafkaDispatcher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}

	return &KafkaDispatcher{producer: producer, lg: lg}, nil
}

// Dispatch serializes the event and produces it to the recipient's topic.
func (d *KafkaDispatcher) Dispatch(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	topic := TopicUser
	if e.Recipient == RecipientAdmin {
		topic = TopicAdmin
	}

	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(e.Order.OrderID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return errors.Wrapf(err, "produce %s to %s", e.Kind, topic)
	}

	d.lg.Debug("notification dispatched",
		zap.String("kind", string(e.Kind)),
		zap.String("topic", topic),
		zap.String("order_id", e.Order.OrderID),
	)
	return nil
}

// Close shuts down the underlying producer.
func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}
