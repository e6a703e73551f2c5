// Package observer is an optional, read-only HTTP/WebSocket endpoint for
// watching a running simulation: it never feeds back into consensus, so
// attaching or detaching it has no effect on the determinism contract.
package observer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/hcmus-labs/bftsim/pkg/node"
)

// Server exposes each node's finalized height and finalized blocks over
// HTTP, and a WebSocket feed (/events) that carries whatever is passed to
// Broadcast; nothing in the simulator calls Broadcast.
type Server struct {
	nodes map[string]*node.Node

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New builds a Server over the given nodes, keyed by node ID.
func New(nodes []*node.Node) *Server {
	byID := make(map[string]*node.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID()] = n
	}
	return &Server{
		nodes:    byID,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]bool),
	}
}

// Handler returns the CORS-wrapped HTTP handler to pass to http.Serve.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/state/{node}", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/ledger/{node}/{height}", s.handleLedgerHeight).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents)
	return cors.AllowAll().Handler(r)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["node"]
	n, ok := s.nodes[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	height := n.Ledger().GetHeight()
	writeJSON(w, map[string]interface{}{"node": id, "finalized_height": height})
}

func (s *Server) handleLedgerHeight(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["node"]
	n, ok := s.nodes[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	var height uint64
	if _, err := fmt.Sscan(vars["height"], &height); err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}
	b, ok := n.Ledger().GetBlock(height)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, b)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes an event (e.g. a finalized-block notification) to
// every connected observer client.
func (s *Server) Broadcast(event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.WriteMessage(websocket.TextMessage, payload)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
