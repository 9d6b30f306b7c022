package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// handleWebSocket upgrades the connection and relays one chain's broadcast
// bus to the client as newline-delimited JSON, until the client
// disconnects. No replay, no backfill, no auth — a reconnecting client is
// expected to call /events/{chainID} to resync before subscribing again.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChainID(chi.URLParam(r, "chainID"))
	if !ok {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}

	bus, ok := s.buses[chainID]
	if !ok {
		http.Error(w, "unknown chain", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case msg, open := <-sub.Events():
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case dropped, open := <-sub.Lagged():
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(map[string]uint64{"lagged": dropped}); err != nil {
				return
			}
		}
	}
}
