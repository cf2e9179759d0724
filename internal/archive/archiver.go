package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
)

// Config holds archiver configuration.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
}

// Archiver produces every committed room event to a Kafka topic keyed
// by room id, feeding downstream persistence and analytics. The core
// never reads the topic back; losing an archive record never affects
// the session state.
type Archiver struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

// New creates a Kafka-backed archiver and ensures its topic exists.
func New(cfg Config) (*Archiver, error) {
	if err := ensureTopic(cfg.Brokers, cfg.Topic, cfg.Partitions); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure archive topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	a := &Archiver{
		producer: p,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}

	go a.deliveryReportHandler()

	return a, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (a *Archiver) deliveryReportHandler() {
	l := log.L()
	for e := range a.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok {
			if ev.TopicPartition.Error != nil {
				l.Warn().Err(ev.TopicPartition.Error).Msg("archive delivery failed")
			}
		}
	}
	close(a.doneCh)
}

// Record produces one committed event, keyed by room id so per-room
// order survives partitioning. Fire-and-forget: delivery failures are
// logged by the report handler, never surfaced to the session path.
func (a *Archiver) Record(ctx context.Context, event domain.Event) {
	l := log.Ctx(ctx)

	data, err := json.Marshal(event)
	if err != nil {
		l.Warn().Err(err).Msg("failed to marshal archive event")
		return
	}

	err = a.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &a.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.RoomID),
		Value: data,
	}, nil)
	if err != nil {
		l.Warn().Err(err).Str(log.FieldRoomID, event.RoomID).Msg("failed to produce archive event")
	}
}

// Close flushes outstanding records and shuts the producer down.
func (a *Archiver) Close() {
	a.producer.Flush(5000)
	a.producer.Close()
	<-a.doneCh
}
