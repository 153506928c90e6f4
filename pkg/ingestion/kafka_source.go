package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// KafkaSource ingests records from Kafka topics
type KafkaSource struct {
	name     string
	brokers  []string
	topics   []string
	groupID  string
	consumer *kafka.Consumer
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaSource creates a new Kafka source
func NewKafkaSource(cfg config.KafkaSourceConfig, logger *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers specified")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("no Kafka topics specified")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "eventtime-consumer-group"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": cfg.AutoCommit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &KafkaSource{
		name:     sourceName("kafka", cfg.Name, cfg.Topics[0]),
		brokers:  cfg.Brokers,
		topics:   cfg.Topics,
		groupID:  cfg.GroupID,
		consumer: consumer,
		logger:   logger,
	}, nil
}

// Start begins consuming records from Kafka
func (k *KafkaSource) Start(ctx context.Context, output chan<- *stream.Record) error {
	k.logger.Info("Starting Kafka source",
		zap.String("source", k.name),
		zap.Strings("brokers", k.brokers),
		zap.Strings("topics", k.topics),
		zap.String("group_id", k.groupID))

	if err := k.consumer.SubscribeTopics(k.topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	ctx, k.cancel = context.WithCancel(ctx)

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			select {
			case <-ctx.Done():
				k.logger.Info("Kafka source stopping", zap.String("source", k.name))
				return
			default:
			}

			msg, err := k.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				var kafkaErr kafka.Error
				if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				k.logger.Error("Error reading Kafka message", zap.Error(err))
				continue
			}

			select {
			case output <- messageToRecord(msg):
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// messageToRecord converts a Kafka message into a record. The Kafka
// partition becomes the watermark partition and the producer timestamp the
// event time, unless the producer set those headers itself.
func messageToRecord(msg *kafka.Message) *stream.Record {
	headers := make(map[string]string, len(msg.Headers)+2)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	rec := &stream.Record{
		Key:     string(msg.Key),
		Payload: msg.Value,
		Headers: headers,
	}

	if _, ok := headers[stream.PartitionHeader]; !ok && msg.TopicPartition.Partition >= 0 {
		rec.SetHeader(stream.PartitionHeader, strconv.Itoa(int(msg.TopicPartition.Partition)))
	}
	if _, ok := headers[stream.EventTimeHeader]; !ok &&
		msg.TimestampType == kafka.TimestampCreateTime && !msg.Timestamp.IsZero() {
		rec.SetInt64Header(stream.EventTimeHeader, msg.Timestamp.UnixMilli())
	}

	return rec
}

// Stop stops the consume loop and closes the Kafka consumer
func (k *KafkaSource) Stop() error {
	k.logger.Info("Stopping Kafka source", zap.String("source", k.name))
	if k.cancel != nil {
		k.cancel()
	}
	k.wg.Wait()
	return k.consumer.Close()
}

// Name returns the source name
func (k *KafkaSource) Name() string {
	return k.name
}
