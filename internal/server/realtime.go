package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/parleychat/parley/internal/realtime"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsOutboundBuffer = 32
)

type subscribeFrame struct {
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	Credential string `json:"credential"`
}

type controlFrame struct {
	Event        string `json:"event"`
	ConnectionID string `json:"connectionId,omitempty"`
	Channel      string `json:"channel,omitempty"`
}

// handleRealtimeConnect upgrades the request to a websocket subscription.
// The caller's personal channel is attached automatically; additional
// channels are attached by subscribe frames carrying credentials from
// POST /realtime/auth. A single writer goroutine owns the socket; events and
// control acknowledgements are funneled through one outbound queue.
func (h *httpHandler) handleRealtimeConnect(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime_disabled"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	connectionID := uuid.NewString()
	outbound := make(chan interface{}, wsOutboundBuffer)

	forward := func(stream <-chan realtime.Event) {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				select {
				case outbound <- event:
				default:
					// Slow consumer; the client reconciles by re-fetching.
				}
			}
		}
	}

	personal, _ := h.dispatcher.Subscribe(ctx, realtime.PersonalChannel(userID))
	go forward(personal)

	outbound <- controlFrame{Event: "connection:established", ConnectionID: connectionID}

	go func() {
		defer cancel()
		for {
			var frame subscribeFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			if frame.Type != "subscribe" {
				continue
			}
			subject, err := h.channels.Validate(frame.Credential, connectionID, frame.Channel)
			if err != nil || subject != userID {
				select {
				case outbound <- controlFrame{Event: "subscription:denied", Channel: frame.Channel}:
				case <-ctx.Done():
					return
				}
				continue
			}
			stream, _ := h.dispatcher.Subscribe(ctx, frame.Channel)
			go forward(stream)
			select {
			case outbound <- controlFrame{Event: "subscription:established", Channel: frame.Channel}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case message := <-outbound:
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, message)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}
