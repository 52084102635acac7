package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleNotifications streams state events to a websocket until the peer goes away
func (hs *HTTPServer) handleNotifications(c *gin.Context) {
	token := bearerToken(c.GetHeader(AUTHORIZATION_HEADER))
	if token == "" {
		token = c.Query(TOKEN_QUERY)
	}
	if err := hs.sessions.Verify(token); err != nil {
		c.JSON(http.StatusUnauthorized, ResponseEnvelope{Type: RESPONSE_TYPE_ERROR, Error: "Unauthorized"})
		return
	}

	conn, err := hs.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hs.logger.Warnf("Websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	eventCh := make(chan interface{}, state.EVENT_CHAN_LENGTH)
	bus := hs.services.State.EventBus
	for _, t := range state.NotificationEvents {
		bus.Subscribe(t, eventCh)
	}
	defer func() {
		for _, t := range state.NotificationEvents {
			bus.Unsubscribe(t, eventCh)
		}
	}()

	// the reader only notices the close frame, clients never send requests here
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	hs.logger.Debug("Notification subscriber connected")

	for {
		select {
		case <-closed:
			hs.logger.Debug("Notification subscriber disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-eventCh:
			ev, ok := msg.(state.Event)
			if !ok {
				continue
			}
			raw, err := sonnet.Marshal(Notification{Type: ev.Type.String(), Data: ev.Data})
			if err != nil {
				hs.logger.Errorf("Encode %s notification error: %v", ev.Type, err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				hs.logger.Debugf("Notification write error: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
