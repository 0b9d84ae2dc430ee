package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"catsearch/internal/batch"
)

// wsBatchRequest is the first message a client sends on /ws/batch.
type wsBatchRequest struct {
	Items []string `json:"items"`
	TopK  int      `json:"top_k,omitempty"`
	UseAI bool     `json:"use_ai,omitempty"`
}

// wsProgress is streamed once per item as it starts processing.
type wsProgress struct {
	Type  string `json:"type"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
	Item  string `json:"item"`
}

// wsResult carries the completed run.
type wsResult struct {
	Type string     `json:"type"`
	Run  *batch.Run `json:"run"`
}

// wsError reports a failed run.
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleBatchWS handles WebSocket connections on /ws/batch. The client
// sends one request message and receives a progress message per item
// followed by a final result (or error) message.
func (s *Server) handleBatchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	_, message, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[Server] WebSocket read error: %v", err)
		return
	}

	var req wsBatchRequest
	if err := json.Unmarshal(message, &req); err != nil {
		s.sendWS(conn, wsError{Type: "error", Error: "invalid JSON: " + err.Error()})
		return
	}
	if len(req.Items) == 0 {
		s.sendWS(conn, wsError{Type: "error", Error: "items is required"})
		return
	}

	// The request context is detached after the upgrade, so the run
	// lives on the server context instead, cancelled early if the
	// client goes away.
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	run, err := s.batch.Process(runCtx, req.Items, batch.Options{
		TopK:  req.TopK,
		UseAI: req.UseAI,
		Progress: func(done, total int, item string) {
			s.sendWS(conn, wsProgress{Type: "progress", Done: done, Total: total, Item: item})
		},
	})
	if err != nil {
		s.sendWS(conn, wsError{Type: "error", Error: err.Error()})
		return
	}

	s.recordBatch(run, req.UseAI)
	s.sendWS(conn, wsResult{Type: "result", Run: run})
}

// sendWS marshals and writes one message to a WebSocket client.
func (s *Server) sendWS(conn *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Server] Failed to marshal WebSocket message: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[Server] WebSocket write error: %v", err)
	}
}
