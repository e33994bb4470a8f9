package handler

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pot-code/training-progress/internal/infrastructure/auth"
	"github.com/pot-code/training-progress/internal/infrastructure/driver"
	"github.com/pot-code/training-progress/internal/notify"
)

// EventsHandler streams the progress events of the signed in user
type EventsHandler struct {
	kv        driver.KeyValueDB
	jwtUtil   *auth.JWTUtil
	channel   string
	writeWait time.Duration
}

func NewEventsHandler(KV driver.KeyValueDB, JWTUtil *auth.JWTUtil, channel string, writeWait time.Duration) *EventsHandler {
	return &EventsHandler{KV, JWTUtil, channel, writeWait}
}

// HandleEvents forward every event published for the user as a text frame
func (eh *EventsHandler) HandleEvents(ctx context.Context, c echo.Context, conn *websocket.Conn) error {
	uid := eh.jwtUtil.UserID(c)
	if uid == "" {
		return echo.ErrUnauthorized
	}
	messages, unsubscribe, err := eh.kv.Subscribe(ctx, notify.Channel(eh.channel, uid))
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(eh.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}
		}
	}
}
