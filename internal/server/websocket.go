package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/okonma/rendercache/internal/token"
)

// wsMessage is the envelope pushed to panel clients.
type wsMessage struct {
	Type      string       `json:"type"`
	Token     *token.Token `json:"token,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.Server.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket accept failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()

	s.logger.Debug(r.Context(), "panel client connected")

	// Block reading until the client goes away; the broadcaster owns all
	// writes.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

// broadcastTokenEvents forwards store events to every connected client.
// A client that cannot keep up is dropped rather than blocking the rest.
func (s *Server) broadcastTokenEvents(ctx context.Context, events <-chan token.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ctx, event)
		}
	}
}

func (s *Server) broadcast(ctx context.Context, event token.Event) {
	msgType := "token_updated"
	if event.Type == token.EventCreated {
		msgType = "token_created"
	}
	payload, err := json.Marshal(wsMessage{
		Type:      msgType,
		Token:     event.Token,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clientsMu.Unlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
			s.clientsMu.Lock()
			delete(s.clients, conn)
			s.clientsMu.Unlock()
			conn.Close(websocket.StatusPolicyViolation, "write timeout")
		}
		cancel()
	}
}
