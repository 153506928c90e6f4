package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// NATSSource ingests records from a NATS subject
type NATSSource struct {
	name    string
	url     string
	subject string
	queue   string
	logger  *zap.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
	done chan struct{}
}

// NewNATSSource creates a new NATS source; the connection is opened by Start
func NewNATSSource(cfg config.NATSSourceConfig, logger *zap.Logger) (*NATSSource, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("no NATS subject specified")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NATSSource{
		name:    sourceName("nats", cfg.Name, cfg.Subject),
		url:     cfg.URL,
		subject: cfg.Subject,
		queue:   cfg.Queue,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start connects to the server and subscribes to the subject
func (n *NATSSource) Start(ctx context.Context, output chan<- *stream.Record) error {
	n.logger.Info("Starting NATS source",
		zap.String("source", n.name),
		zap.String("url", n.url),
		zap.String("subject", n.subject),
		zap.String("queue", n.queue))

	conn, err := nats.Connect(n.url,
		nats.Name(n.name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.logger.Warn("NATS disconnected", zap.String("source", n.name), zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("source", n.name), zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	handler := func(msg *nats.Msg) {
		select {
		case output <- msgToRecord(msg):
		case <-ctx.Done():
		case <-n.done:
		}
	}

	var sub *nats.Subscription
	if n.queue != "" {
		sub, err = conn.QueueSubscribe(n.subject, n.queue, handler)
	} else {
		sub, err = conn.Subscribe(n.subject, handler)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}

	n.mu.Lock()
	n.conn = conn
	n.sub = sub
	n.mu.Unlock()

	return nil
}

// msgToRecord converts a NATS message into a record keyed by its subject
func msgToRecord(msg *nats.Msg) *stream.Record {
	headers := make(map[string]string, len(msg.Header))
	for k, v := range msg.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return &stream.Record{
		Key:     msg.Subject,
		Payload: msg.Data,
		Headers: headers,
	}
}

// Stop drains the subscription and closes the connection
func (n *NATSSource) Stop() error {
	n.logger.Info("Stopping NATS source", zap.String("source", n.name))

	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case <-n.done:
	default:
		close(n.done)
	}

	if n.conn == nil {
		return nil
	}
	var err error
	if n.sub != nil {
		err = n.sub.Unsubscribe()
	}
	n.conn.Close()
	n.conn = nil
	n.sub = nil
	return err
}

// Name returns the source name
func (n *NATSSource) Name() string {
	return n.name
}
