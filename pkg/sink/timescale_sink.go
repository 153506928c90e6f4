package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// windowRow is one output record as stored in the window table
type windowRow struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Watermark   int64
	Partial     bool
	Late        bool
	Key         string
	Payload     []byte
	Headers     []byte
}

// TimescaleSink writes window results to a TimescaleDB hypertable
// partitioned on window_end. Rows are buffered and inserted in one
// transaction once the batch is full or the flush interval has elapsed.
type TimescaleSink struct {
	name          string
	db            *sql.DB
	table         string
	batchSize     int
	flushInterval time.Duration
	clock         clockz.Clock
	retry         eterrors.RetryPolicy
	metrics       *metrics.Collector
	logger        *zap.Logger

	mu        sync.Mutex
	batch     []windowRow
	lastFlush time.Time
	insert    func(ctx context.Context, rows []windowRow) error
}

// NewTimescaleSink connects to TimescaleDB and prepares the window table
func NewTimescaleSink(ctx context.Context, cfg config.TimescaleSinkConfig, collector *metrics.Collector, logger *zap.Logger) (*TimescaleSink, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("no TimescaleDB table specified")
	}

	db, err := sql.Open("postgres", connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TimescaleDB: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping TimescaleDB: %w", err)
	}

	t := newTimescaleSink(cfg, collector, logger)
	t.db = db
	t.insert = t.insertRows

	if err := t.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return t, nil
}

func newTimescaleSink(cfg config.TimescaleSinkConfig, collector *metrics.Collector, logger *zap.Logger) *TimescaleSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "timescaledb-" + cfg.Table
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimescaleSink{
		name:          cfg.Name,
		table:         cfg.Table,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		clock:         clockz.RealClock,
		retry:         insertRetryPolicy(),
		metrics:       collector,
		logger:        logger,
		batch:         make([]windowRow, 0, cfg.BatchSize),
		lastFlush:     clockz.RealClock.Now(),
	}
}

// insertRetryPolicy retries connection, resource and serialization failures.
// Other server errors (bad SQL, constraint violations) fail immediately.
func insertRetryPolicy() eterrors.RetryPolicy {
	p := eterrors.DefaultRetryPolicy()
	p.Retriable = func(err error) bool {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code.Class() {
			case "08", "40", "53", "57":
				return true
			}
			return false
		}
		return eterrors.IsRetriable(err)
	}
	return p
}

func connString(cfg config.TimescaleSinkConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
}

func (t *TimescaleSink) createTable(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, createTableSQL(t.table)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	t.logger.Info("TimescaleDB table ready", zap.String("table", t.table))
	return nil
}

func createTableSQL(table string) string {
	ident := pq.QuoteIdentifier(table)
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			window_end   TIMESTAMPTZ NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			watermark    BIGINT NOT NULL,
			partial      BOOLEAN NOT NULL DEFAULT FALSE,
			late         BOOLEAN NOT NULL DEFAULT FALSE,
			key          TEXT,
			payload      BYTEA,
			headers      JSONB
		);

		SELECT create_hypertable(%[2]s, 'window_end', if_not_exists => TRUE);

		CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (key, window_end DESC);
	`, ident, pq.QuoteLiteral(table), pq.QuoteIdentifier("idx_"+table+"_key"))
}

func insertSQL(table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (window_start, window_end, watermark, partial, late, key, payload, headers) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pq.QuoteIdentifier(table))
}

// toRows converts a window result into table rows
func toRows(result *stream.WindowResult) ([]windowRow, error) {
	rows := make([]windowRow, 0, len(result.Records))
	for _, rec := range result.Records {
		headers, err := json.Marshal(windowHeaders(result, rec))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal headers: %w", err)
		}
		rows = append(rows, windowRow{
			WindowStart: time.UnixMilli(result.Start).UTC(),
			WindowEnd:   time.UnixMilli(result.End).UTC(),
			Watermark:   result.Watermark,
			Partial:     result.Partial,
			Late:        result.Late,
			Key:         rec.Key,
			Payload:     rec.Payload,
			Headers:     headers,
		})
	}
	return rows, nil
}

// Write adds the result rows to the batch, flushing when it is due
func (t *TimescaleSink) Write(ctx context.Context, result *stream.WindowResult) error {
	rows, err := toRows(result)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.batch = append(t.batch, rows...)
	if len(t.batch) >= t.batchSize || t.clock.Now().Sub(t.lastFlush) >= t.flushInterval {
		return t.flushLocked(ctx)
	}
	return nil
}

// Flush writes the pending batch
func (t *TimescaleSink) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(ctx)
}

func (t *TimescaleSink) flushLocked(ctx context.Context) error {
	t.lastFlush = t.clock.Now()
	if len(t.batch) == 0 {
		return nil
	}

	attempts, err := t.retry.Do(ctx, func(ctx context.Context) error {
		return t.insert(ctx, t.batch)
	})
	if attempts > 1 {
		t.logger.Warn("TimescaleDB insert retried",
			zap.String("sink", t.name),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
	for range t.batch {
		t.metrics.RecordSinkWrite(t.name, err)
	}
	if err != nil {
		// The batch is kept for the next attempt
		return err
	}

	t.logger.Debug("Batch flushed to TimescaleDB",
		zap.Int("count", len(t.batch)),
		zap.String("table", t.table))
	t.batch = t.batch[:0]
	return nil
}

func (t *TimescaleSink) insertRows(ctx context.Context, rows []windowRow) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(t.table))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.WindowStart, r.WindowEnd, r.Watermark, r.Partial, r.Late, r.Key, r.Payload, r.Headers,
		); err != nil {
			return fmt.Errorf("failed to insert window row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the database connection
func (t *TimescaleSink) Close() error {
	t.logger.Info("Closing TimescaleDB sink", zap.String("sink", t.name))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flushErr := t.Flush(ctx)
	if t.db == nil {
		return flushErr
	}
	if err := t.db.Close(); err != nil {
		return err
	}
	return flushErr
}

// Name returns the sink name
func (t *TimescaleSink) Name() string {
	return t.name
}
