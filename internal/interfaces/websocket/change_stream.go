// Package websocket streams change notifications to browser clients so dashboards can
// refresh without polling. Notifications are hints; clients re-read through the API.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/changefeed"
	httpapi "github.com/garyjia/procurement-workflow/internal/interfaces/http"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

// ChangeStream upgrades requests to WebSocket connections fed by a ChangeNotifier
type ChangeStream struct {
	notifier     port.ChangeNotifier
	upgrader     websocket.Upgrader
	logger       *zap.Logger
	pingInterval time.Duration
}

// Option configures the change stream
type Option func(*ChangeStream)

// WithPingInterval sets how often keep-alive pings are sent
func WithPingInterval(d time.Duration) Option {
	return func(s *ChangeStream) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithCheckOrigin restricts which origins may connect
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *ChangeStream) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewChangeStream creates a change stream handler
func NewChangeStream(notifier port.ChangeNotifier, logger *zap.Logger, opts ...Option) *ChangeStream {
	s := &ChangeStream{
		notifier: notifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pingInterval: pongWait * 9 / 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle serves GET /api/v1/changes/ws?table=. An empty table streams every table.
// The handler blocks until the client disconnects.
func (s *ChangeStream) Handle(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	table := c.Query("table")
	changes, unsubscribe, err := s.notifier.Subscribe(ctx, table)
	if err != nil {
		err = subscribeError(table, err)
		if apperr.KindOf(err) == apperr.KindStore {
			s.logger.Warn("Change stream subscribe failed", zap.String("table", table), zap.Error(err))
		}
		httpapi.WriteError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.logger.Info("Change stream client connected",
		zap.String("table", table),
		zap.String("client_ip", c.ClientIP()))

	go s.readLoop(conn, cancel)

	if err := s.writeLoop(ctx, conn, changes); err != nil && !isClosed(err) {
		s.logger.Warn("Change stream write failed", zap.Error(err))
	}
	s.logger.Info("Change stream client disconnected", zap.String("client_ip", c.ClientIP()))
}

// readLoop drains client frames so pongs and close frames are processed
func (s *ChangeStream) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *ChangeStream) writeLoop(ctx context.Context, conn *websocket.Conn, changes <-chan port.Change) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil
		case change, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "change feed closed"),
					time.Now().Add(writeWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

// subscribeError classifies a feed subscription failure for the response envelope
func subscribeError(table string, err error) error {
	if errors.Is(err, changefeed.ErrUnknownTable) {
		return apperr.Validation("Subscribe", "unknown change table %q", table)
	}
	return apperr.Store("Subscribe", err, "change feed unavailable")
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed)
}
