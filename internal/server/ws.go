package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	tlerrors "termlink/internal/errors"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = 1 << 20
)

// handleStream bridges a WebSocket to a connection.  Received chunks go
// out as binary frames (no replay of earlier output), and every frame
// the client sends is written to the connection.  The socket is closed
// with a normal-closure frame when the connection ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, err := s.opts.Manager.Subscribe(id)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	defer sub.Close()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Verbose("ws upgrade for %s failed: %v", id, err)
		return
	}
	ws.SetReadLimit(wsMaxFrameSize)
	s.logger.Verbose("ws client attached to %s", id)

	ctx := r.Context()
	clientGone := make(chan struct{})

	// client → connection
	go func() {
		defer close(clientGone)
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if len(msg) == 0 {
				continue
			}
			if _, err := s.opts.Manager.Write(ctx, id, msg); err != nil {
				s.logger.Verbose("ws write to %s: %v", id, err)
				return
			}
		}
	}()

	// connection → client
	for {
		select {
		case chunk, ok := <-sub.C():
			if !ok {
				s.logger.Verbose("connection %s ended, closing ws", id)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, tlerrors.ErrSessionClosed.Error())
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				ws.Close()
				<-clientGone
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.logger.Verbose("ws send to %s: %v", id, err)
				ws.Close()
				<-clientGone
				return
			}
		case <-clientGone:
			s.logger.Verbose("ws client detached from %s", id)
			ws.Close()
			return
		}
	}
}
