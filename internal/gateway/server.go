// Package gateway is the WebSocket control channel: it authenticates
// connections, parses command envelopes, and relays responses and telemetry
// events back to clients.
package gateway

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/ratelimit"
	"github.com/browsergate/browsergate/internal/registry"
	"github.com/browsergate/browsergate/internal/router"
	"github.com/browsergate/browsergate/pkg/models"
)

const authTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server accepts WebSocket connections and drives the command router.
type Server struct {
	cfg      *config.Config
	router   *router.Router
	registry *registry.Registry
	bus      *events.Bus
	limiter  *ratelimit.Limiter
}

// NewServer creates the gateway server.
func NewServer(cfg *config.Config, rt *router.Router, reg *registry.Registry, bus *events.Bus, limiter *ratelimit.Limiter) *Server {
	return &Server{
		cfg:      cfg,
		router:   rt,
		registry: reg,
		bus:      bus,
		limiter:  limiter,
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleWS)
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	clientID := uuid.NewString()[:8]
	log.Printf("New connection from %s (client: %s)", r.RemoteAddr, clientID)

	c := &conn{
		srv:      s,
		ws:       ws,
		clientID: clientID,
	}
	c.serve()
}

// wireError coerces any error into the structured wire taxonomy.
func wireError(err error) *models.Error {
	var me *models.Error
	if errors.As(err, &me) {
		return me
	}
	return models.EngineError(err)
}
