package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
)

// eventStopped tells a websocket client its stop request ended the current answer.
const eventStopped rag.EventType = "stopped"

// checkOrigin accepts same-origin upgrades and the configured allowed origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	s.logger.Warn("websocket origin rejected", zap.String("origin", origin))
	return false
}

// handleQueryStream relays a streamed answer as server-sent events named after the event type.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	req, err := decodeQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := userFrom(r.Context())
	events, err := s.svc.StreamQuery(r.Context(), userID, req)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, _ := json.Marshal(ev)
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			s.logger.Debug("stream client gone", zap.String("user_id", userID), zap.Error(err))
			// the request context is cancelled once the handler returns; drain so the producer exits
			go drain(events)
			return
		}
		flusher.Flush()
	}
}

// errorEvent is a terminal event carrying the same code an HTTP error response would.
func errorEvent(err error) rag.Event {
	_, code := errorCode(err)
	return rag.Event{Type: rag.EventError, Error: err.Error(), Code: code}
}

func drain(events <-chan rag.Event) {
	for range events {
	}
}

type wsMessage struct {
	Type     string `json:"type,omitempty"`
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// handleQueryWS answers questions sent over a websocket one at a time. A {"type":"stop"}
// message cancels the answer in progress.
func (s *Server) handleQueryWS(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		mu         sync.Mutex
		stopActive context.CancelFunc
	)
	requests := make(chan wsMessage)
	go func() {
		defer cancel()
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				s.logger.Debug("websocket closed", zap.String("user_id", userID), zap.Error(err))
				return
			}
			if msg.Type == "stop" {
				mu.Lock()
				if stopActive != nil {
					stopActive()
				}
				mu.Unlock()
				continue
			}
			select {
			case requests <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-requests:
			sctx, scancel := context.WithCancel(ctx)
			mu.Lock()
			stopActive = scancel
			mu.Unlock()
			err := s.streamWS(sctx, conn, userID, msg)
			stopped := sctx.Err() != nil && ctx.Err() == nil
			mu.Lock()
			stopActive = nil
			mu.Unlock()
			scancel()
			if err == nil && stopped {
				err = conn.WriteJSON(rag.Event{Type: eventStopped})
			}
			if err != nil {
				s.logger.Debug("websocket write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) streamWS(ctx context.Context, conn *websocket.Conn, userID string, msg wsMessage) error {
	events, err := s.svc.StreamQuery(ctx, userID, models.QueryRequest{Question: msg.Question, K: msg.K})
	if err != nil {
		return conn.WriteJSON(errorEvent(err))
	}
	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			go drain(events)
			return err
		}
	}
	return nil
}
