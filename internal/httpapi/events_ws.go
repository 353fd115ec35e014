package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssandri/blackbox/internal/event"
)

// handleEventsWS streams lifecycle events to a UI client. Bus delivery is
// synchronous, so the subscriber hands events to a buffered channel and a
// single writer goroutine; a slow client drops events rather than stalling
// the engine.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := make(chan event.Event, 64)
	subID := s.bus.Subscribe(func(evt event.Event) {
		select {
		case events <- evt:
		default:
		}
	})
	defer s.bus.Unsubscribe(subID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain client frames to observe disconnects; inbound content is
		// ignored.
		conn.SetReadLimit(1 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(30 * time.Second)
	defer pinger.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
