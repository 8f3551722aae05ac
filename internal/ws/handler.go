package ws

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades requests to the snapshot stream. Incoming frames are
// read and discarded; the read loop only detects disconnects.
func (b *Broadcaster) Handler(checkOrigin func(r *http.Request) bool) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.RLock()
		full := b.maxConns > 0 && len(b.clients) >= b.maxConns
		b.mu.RUnlock()
		if full {
			http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.WithError(err).Warn("ws upgrade error")
			return
		}

		c, err := b.AddClient(conn)
		if err != nil {
			if errors.Is(err, ErrTooManyClients) {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
			}
			conn.Close()
			return
		}
		log := b.log.WithField("remote", r.RemoteAddr)
		log.Info("WebSocket client connected")

		go func() {
			defer func() {
				b.RemoveClient(c)
				log.Info("WebSocket client disconnected")
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}
