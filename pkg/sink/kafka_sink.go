package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// producer is the subset of *kafka.Producer used by the sink
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaSink writes window results to a Kafka topic, one message per output
// record. Output headers keep the eventtime and watermark set by the
// aggregator so the next stage can run in pass-through mode.
type KafkaSink struct {
	name     string
	topic    string
	producer producer
	retry    eterrors.RetryPolicy
	metrics  *metrics.Collector
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewKafkaSink creates a new Kafka sink
func NewKafkaSink(cfg config.KafkaSinkConfig, collector *metrics.Collector, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no Kafka topic specified")
	}
	if cfg.Compression == "" {
		cfg.Compression = "none"
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  joinBrokers(cfg.Brokers),
		"acks":               "all",
		"enable.idempotence": true,
		"compression.type":   cfg.Compression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	k := newKafkaSink(cfg.Name, cfg.Topic, p, collector, logger)

	// Delivery reports
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for e := range p.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				k.metrics.RecordSinkWrite(k.name, ev.TopicPartition.Error)
				if ev.TopicPartition.Error != nil {
					k.logger.Error("Kafka delivery failed",
						zap.String("sink", k.name),
						zap.Error(ev.TopicPartition.Error))
				}
			case kafka.Error:
				k.logger.Warn("Kafka producer error", zap.String("sink", k.name), zap.Error(ev))
			}
		}
	}()

	return k, nil
}

func newKafkaSink(name, topic string, p producer, collector *metrics.Collector, logger *zap.Logger) *KafkaSink {
	if name == "" {
		name = "kafka-" + topic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		name:     name,
		topic:    topic,
		producer: p,
		retry:    queueFullRetryPolicy(),
		metrics:  collector,
		logger:   logger,
	}
}

// Write enqueues every record of the result
func (k *KafkaSink) Write(ctx context.Context, result *stream.WindowResult) error {
	for _, msg := range toMessages(k.topic, result) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := k.retry.Do(ctx, func(context.Context) error {
			return k.producer.Produce(msg, nil)
		})
		if err != nil {
			k.metrics.RecordSinkWrite(k.name, err)
			return fmt.Errorf("failed to produce window [%d, %d): %w", result.Start, result.End, err)
		}
	}
	return nil
}

// queueFullRetryPolicy waits for the local producer queue to drain. Any
// other produce error is returned immediately.
func queueFullRetryPolicy() eterrors.RetryPolicy {
	return eterrors.RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
		Retriable: func(err error) bool {
			var kerr kafka.Error
			return errors.As(err, &kerr) && kerr.Code() == kafka.ErrQueueFull
		},
	}
}

// toMessages converts a window result into Kafka messages
func toMessages(topic string, result *stream.WindowResult) []*kafka.Message {
	msgs := make([]*kafka.Message, 0, len(result.Records))
	for _, rec := range result.Records {
		headers := windowHeaders(result, rec)

		keys := make([]string, 0, len(headers))
		for k := range headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		kh := make([]kafka.Header, 0, len(keys))
		for _, k := range keys {
			kh = append(kh, kafka.Header{Key: k, Value: []byte(headers[k])})
		}

		var key []byte
		if rec.Key != "" {
			key = []byte(rec.Key)
		}

		msgs = append(msgs, &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
			Key:            key,
			Value:          rec.Payload,
			Headers:        kh,
			Timestamp:      time.UnixMilli(result.End),
		})
	}
	return msgs
}

// Flush waits for outstanding deliveries until ctx expires (30s without a deadline)
func (k *KafkaSink) Flush(ctx context.Context) error {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if remaining := k.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		k.logger.Warn("Messages still in queue", zap.String("sink", k.name), zap.Int("count", remaining))
		return fmt.Errorf("%d messages still in queue", remaining)
	}
	return nil
}

// Close closes the producer and waits for the delivery report loop
func (k *KafkaSink) Close() error {
	k.logger.Info("Closing Kafka sink", zap.String("sink", k.name))
	k.producer.Close()
	k.wg.Wait()
	return nil
}

// Name returns the sink name
func (k *KafkaSink) Name() string {
	return k.name
}
