package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// HTTPSource ingests records from HTTP POST requests. Query parameters
// become record headers and the Content-Type header becomes the record
// content type. A JSON body of the form {"records": [...]} is split into one
// record per element.
type HTTPSource struct {
	name     string
	addr     string
	path     string
	server   *http.Server
	logger   *zap.Logger
	ingested atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

// NewHTTPSource creates a new HTTP source
func NewHTTPSource(cfg config.HTTPSourceConfig, logger *zap.Logger) *HTTPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{
		name:   sourceName("http", cfg.Name, cfg.Path),
		addr:   cfg.Address,
		path:   cfg.Path,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins accepting HTTP requests
func (h *HTTPSource) Start(ctx context.Context, output chan<- *stream.Record) error {
	h.logger.Info("Starting HTTP source",
		zap.String("source", h.name),
		zap.String("addr", h.addr),
		zap.String("path", h.path))

	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(output),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-h.done:
		}
	}()

	return nil
}

// Handler returns the ingestion handler and a /health endpoint
func (h *HTTPSource) Handler(output chan<- *stream.Record) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(h.path, func(w http.ResponseWriter, r *http.Request) {
		h.handleRequest(w, r, output)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "healthy",
			"records_ingested": h.ingested.Load(),
		})
	})
	return h.loggingMiddleware(mux)
}

func (h *HTTPSource) handleRequest(w http.ResponseWriter, r *http.Request, output chan<- *stream.Record) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("Error reading request body", zap.Error(err))
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	headers := queryHeaders(r.URL.Query())
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if _, set := headers[stream.ContentTypeHeader]; !set {
			headers[stream.ContentTypeHeader] = ct
		}
	}

	payloads := [][]byte{body}
	if gjson.ValidBytes(body) {
		if batch := gjson.GetBytes(body, "records"); batch.IsArray() {
			payloads = payloads[:0]
			batch.ForEach(func(_, value gjson.Result) bool {
				payloads = append(payloads, []byte(value.Raw))
				return true
			})
		}
	}

	accepted := 0
send:
	for _, payload := range payloads {
		select {
		case output <- stream.NewRecord(payload, headers):
			accepted++
		default:
			h.logger.Warn("Output channel full, rejecting records",
				zap.Int("accepted", accepted),
				zap.Int("rejected", len(payloads)-accepted))
			break send
		}
	}
	h.ingested.Add(int64(accepted))

	if accepted == 0 && len(payloads) > 0 {
		http.Error(w, "Service busy, try again later", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "accepted",
		"records_ingested": accepted,
	})
}

func (h *HTTPSource) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

// Stop stops the HTTP server
func (h *HTTPSource) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		h.logger.Info("Stopping HTTP source", zap.String("source", h.name))
		close(h.done)
		if h.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = h.server.Shutdown(ctx)
	})
	return err
}

// Name returns the source name
func (h *HTTPSource) Name() string {
	return h.name
}

// RecordsIngested returns the total number of records accepted
func (h *HTTPSource) RecordsIngested() int64 {
	return h.ingested.Load()
}
