package ingestion

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// WebSocketSource accepts records pushed over WebSocket connections. Query
// parameters of the upgrade request become headers of every record read on
// that connection.
type WebSocketSource struct {
	name      string
	addr      string
	path      string
	server    *http.Server
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	done      chan struct{}
	stopOnce  sync.Once
}

// NewWebSocketSource creates a new WebSocket source
func NewWebSocketSource(cfg config.WebSocketSourceConfig, logger *zap.Logger) *WebSocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSource{
		name: sourceName("websocket", cfg.Name, cfg.Path),
		addr: cfg.Address,
		path: cfg.Path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
	}
}

// Start begins accepting WebSocket connections
func (w *WebSocketSource) Start(ctx context.Context, output chan<- *stream.Record) error {
	w.logger.Info("Starting WebSocket source",
		zap.String("source", w.name),
		zap.String("addr", w.addr),
		zap.String("path", w.path))

	mux := http.NewServeMux()
	mux.Handle(w.path, w.Handler(output))

	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("WebSocket server error", zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()

	return nil
}

// Handler returns the upgrade handler feeding output
func (w *WebSocketSource) Handler(output chan<- *stream.Record) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.handleConnection(rw, r, output)
	})
}

func (w *WebSocketSource) handleConnection(rw http.ResponseWriter, r *http.Request, output chan<- *stream.Record) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("WebSocket upgrade error", zap.Error(err))
		return
	}

	w.clientsMu.Lock()
	w.clients[conn] = true
	w.clientsMu.Unlock()

	w.logger.Info("New WebSocket client connected",
		zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		w.clientsMu.Lock()
		delete(w.clients, conn)
		w.clientsMu.Unlock()
		conn.Close()
		w.logger.Info("WebSocket client disconnected")
	}()

	base := queryHeaders(r.URL.Query())

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case output <- stream.NewRecord(message, base):
		case <-w.done:
			return
		}
	}
}

// Stop closes client connections and shuts down the server
func (w *WebSocketSource) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping WebSocket source", zap.String("source", w.name))
		close(w.done)

		w.clientsMu.Lock()
		for conn := range w.clients {
			conn.Close()
		}
		w.clientsMu.Unlock()

		if w.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = w.server.Shutdown(ctx)
	})
	return err
}

// Name returns the source name
func (w *WebSocketSource) Name() string {
	return w.name
}

// ClientCount returns the number of connected clients
func (w *WebSocketSource) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}
