package infra

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pot-code/training-progress/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// WebsocketHandler serves an upgraded connection until ctx is done or it returns
type WebsocketHandler func(ctx context.Context, c echo.Context, conn *websocket.Conn) error

// Websocket upgrades requests and keeps the connection alive with ping frames
type Websocket struct {
	upgrader     websocket.Upgrader
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
}

// NewWebsocket ...
func NewWebsocket() *Websocket {
	pongWait := 30 * time.Second
	return &Websocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: 3 * time.Second,
		},
		writeWait:    10 * time.Second,
		pongWait:     pongWait,
		pingInterval: pongWait * 9 / 10,
	}
}

// WriteWait deadline for a single write
func (ws *Websocket) WriteWait() time.Duration {
	return ws.writeWait
}

// WithHeartbeat wrap handler function with heartbeat probe.
//
// The connection is closed when the client goes away, a ping fails or the handler returns.
func (ws *Websocket) WithHeartbeat(handler WebsocketHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := ws.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader already replied
			return nil
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()

		go ws.heartbeatRoutine(ctx, cancel, conn)
		go ws.readRoutine(cancel, conn)

		if err := handler(ctx, c, conn); err != nil {
			logging.ExtractLoggerFromContext(ctx).Warn("websocket handler failed", zap.Error(err))
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""),
				time.Now().Add(ws.writeWait))
		}
		return nil
	}
}

func (ws *Websocket) heartbeatRoutine(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.writeWait)); err != nil {
				cancel()
				return
			}
		}
	}
}

// readRoutine handles pong and close frames, the client is not expected to send data
func (ws *Websocket) readRoutine(cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
