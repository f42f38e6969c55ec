package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"autotrader/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are pushed to websocket clients. Price ticks are opt-in.
var streamTopics = []events.Event{
	events.EventOrderFilled,
	events.EventOrderFailed,
	events.EventGateRejected,
	events.EventPositionClosed,
	events.EventRiskAlert,
	events.EventStrategySwitch,
	events.EventShadowTrade,
	events.EventConditionalFire,
}

type envelope struct {
	Type events.Event `json:"type"`
	Data any          `json:"data"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	topics := streamTopics
	if c.Query("ticks") == "1" {
		topics = append([]events.Event{events.EventPriceTick}, streamTopics...)
	}

	out := make(chan envelope, 256)
	done := make(chan struct{})
	defer close(done)
	for _, topic := range topics {
		topic := topic
		ch, unsub := s.Bus.Subscribe(topic, 64)
		defer unsub()
		go func() {
			for msg := range ch {
				select {
				case out <- envelope{Type: topic, Data: msg}:
				case <-done:
					return
				}
			}
		}()
	}

	// Reader detects client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-out:
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("api: ws write error: %v", err)
				return
			}
		}
	}
}
