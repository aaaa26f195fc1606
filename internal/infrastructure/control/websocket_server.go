package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/infrastructure/monitoring"
	"overlaycast/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
}

// Forwarder accepts decoded control messages on behalf of the active
// processor.
type Forwarder interface {
	ForwardControl(ctx context.Context, msg domain.ControlMessage) error
}

type ServerConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	MaxImageSide      int
	MessagesPerSecond float64
	Burst             int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 16 << 20,
		MaxImageSide:   8192,
	}
}

// WebSocketServer lets remote tools push overlays in wire form.
type WebSocketServer struct {
	forwarder Forwarder
	cfg       ServerConfig

	connections map[string]*websocket.Conn
	mu          sync.RWMutex

	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
}

// Reply is written back for every inbound message.
type Reply struct {
	Type    string `json:"type"`
	Cmd     string `json:"cmd,omitempty"`
	Message string `json:"message,omitempty"`
}

func NewWebSocketServer(forwarder Forwarder, cfg ServerConfig, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *WebSocketServer {
	defaults := DefaultServerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	return &WebSocketServer{
		forwarder:   forwarder,
		cfg:         cfg,
		connections: make(map[string]*websocket.Conn),
		metrics:     metrics,
		logger:      logger,
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.mu.Lock()
	s.connections[connID] = conn
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordControlConnected()
	}

	s.logger.Infow("control client connected",
		"conn_id", connID,
		"remote_addr", r.RemoteAddr,
	)

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), max(s.cfg.Burst, 1))
	}

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 4)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			select {
			case messageChan <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case data := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.reply(conn, Reply{Type: "error", Message: "rate limit exceeded"})
				continue
			}
			s.reply(conn, s.handleMessage(r.Context(), r.RemoteAddr, data))

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "conn_id", connID, "error", err)
				s.cleanup(connID)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading control message", "conn_id", connID, "error", err)
			}
			s.cleanup(connID)
			return
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, peer string, data []byte) Reply {
	msg, err := DecodeMessage(data, s.cfg.MaxImageSide)
	if err != nil {
		return Reply{Type: "error", Message: err.Error()}
	}

	ctx, span := tracing.TraceControlMessage(ctx, msg.Cmd, peer)
	defer span.End()

	if msg.Cmd != domain.CmdUpdateWatermarkImage {
		if s.metrics != nil {
			s.metrics.RecordControlMessageIgnored(msg.Cmd)
		}
		s.logger.Debugw("ignoring unknown control command", "cmd", msg.Cmd)
		return Reply{Type: "ignored", Cmd: msg.Cmd}
	}

	if err := s.forwarder.ForwardControl(ctx, msg); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("control message not forwarded",
			"cmd", msg.Cmd,
			"error", err,
		)
		return Reply{Type: "error", Cmd: msg.Cmd, Message: err.Error()}
	}

	s.logger.Infow("overlay replaced over control link",
		"width", msg.Image.Width(),
		"height", msg.Image.Height(),
	)
	return Reply{Type: "ack", Cmd: msg.Cmd}
}

func (s *WebSocketServer) reply(conn *websocket.Conn, reply Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.logger.Debugw("error writing control reply", "error", err)
	}
}

func (s *WebSocketServer) cleanup(connID string) {
	s.mu.Lock()
	delete(s.connections, connID)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordControlDisconnected()
	}
	s.logger.Infow("control client disconnected", "conn_id", connID)
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// CloseAll disconnects every control client.
func (s *WebSocketServer) CloseAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
