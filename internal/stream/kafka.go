package stream

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const flushTimeoutMs = 5000

type KafkaStream struct {
	kafkaServers string
	logger       *slog.Logger

	mu       sync.Mutex
	producer *kafka.Producer
}

func New(kafkaServers string, logger *slog.Logger) *KafkaStream {
	return &KafkaStream{
		kafkaServers: kafkaServers,
		logger:       logger,
	}
}

// producerLocked lazily creates the shared producer and starts draining its
// delivery reports.
func (st *KafkaStream) producerLocked() (*kafka.Producer, error) {
	if st.producer != nil {
		return st.producer, nil
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  st.kafkaServers,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, err
	}

	go func() {
		for e := range producer.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				st.logger.Error("kafka delivery failed", "topic", *m.TopicPartition.Topic, "error", m.TopicPartition.Error)
			}
		}
	}()

	st.producer = producer
	return producer, nil
}

// ProduceMessage publishes message on topic, keyed so that events about the
// same entity stay ordered within a partition.
func (st *KafkaStream) ProduceMessage(topic, key string, message []byte) error {
	st.mu.Lock()
	producer, err := st.producerLocked()
	st.mu.Unlock()
	if err != nil {
		return err
	}

	err = producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          message,
	}, nil)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	st.logger.Debug("message sent", "topic", topic, "key", key)
	return nil
}

type StreamConsumer struct {
	GroupId string
	Topic   string
}

func (st *KafkaStream) CreateConsumer(consumerStruct *StreamConsumer) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": st.kafkaServers,
		"group.id":          consumerStruct.GroupId,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(consumerStruct.Topic, nil); err != nil {
		return nil, err
	}

	return consumer, nil
}

// Close flushes outstanding messages.
func (st *KafkaStream) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.producer != nil {
		st.producer.Flush(flushTimeoutMs)
		st.producer.Close()
		st.producer = nil
	}
}
