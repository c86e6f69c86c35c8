package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/registry"
	"github.com/browsergate/browsergate/pkg/models"
)

// conn is one client connection. The read loop dispatches commands
// synchronously, so responses always come back in receipt order; telemetry
// events interleave from their own relay goroutines, serialized through
// writeMu.
type conn struct {
	srv      *Server
	ws       *websocket.Conn
	clientID string

	writeMu sync.Mutex

	mu      sync.Mutex
	session *registry.Session
	subs    []*events.Subscription
}

func (c *conn) serve() {
	defer c.cleanup()

	if c.srv.cfg.AuthRequired {
		if !c.authenticate() {
			return
		}
	}

	if err := c.writeJSON(models.ConnectedFrame{
		Type:    models.FrameConnected,
		Message: "Connected successfully",
	}); err != nil {
		return
	}

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error (client %s): %v", c.clientID, err)
			} else {
				log.Printf("Client %s disconnected", c.clientID)
			}
			return
		}
		c.handleMessage(raw)
	}
}

// authenticate enforces the auth-first handshake: the first frame must be a
// valid auth frame within the timeout, or the connection closes with policy
// violation.
func (c *conn) authenticate() bool {
	c.ws.SetReadDeadline(time.Now().Add(authTimeout))
	defer c.ws.SetReadDeadline(time.Time{})

	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		c.closeWith(websocket.ClosePolicyViolation, "Authentication timeout")
		return false
	}

	var frame models.AuthFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != models.FrameAuth || frame.Token != c.srv.cfg.AuthToken {
		c.writeJSON(models.Response{
			Type:    models.FrameError,
			Success: false,
			Error:   models.NewError(models.CodeAuthenticationRequired, "authentication failed"),
		})
		c.closeWith(websocket.ClosePolicyViolation, "Authentication failed")
		return false
	}

	if err := c.writeJSON(map[string]string{
		"type":    models.FrameAuthSuccess,
		"message": "Authenticated successfully",
	}); err != nil {
		return false
	}
	log.Printf("Client %s authenticated", c.clientID)
	return true
}

func (c *conn) handleMessage(raw []byte) {
	if !c.srv.limiter.Allow(c.clientID) {
		c.writeJSON(models.Response{
			Type:    models.FrameError,
			Success: false,
			Error:   models.NewError(models.CodeRateLimited, "rate limit exceeded"),
		})
		return
	}

	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.writeJSON(models.Response{
			Type:    models.FrameError,
			Success: false,
			Error:   models.NewError(models.CodeInvalidArgument, "invalid JSON: %s", err.Error()),
		})
		return
	}
	// Accept session targeting in args as well as the envelope itself.
	if env.SessionID == "" {
		if raw, ok := env.Args["session_id"]; ok {
			var sid string
			if json.Unmarshal(raw, &sid) == nil {
				env.SessionID = sid
			}
		}
	}

	data, err := c.srv.router.Dispatch(env, c.implicitSession)
	if err != nil {
		c.writeJSON(models.Response{
			Type:    models.FrameError,
			ID:      env.ID,
			Success: false,
			Error:   wireError(err),
		})
		return
	}

	// Connections receive telemetry for the sessions they create.
	if env.Command == "create_session" {
		if result, ok := data.(map[string]any); ok {
			if sid, ok := result["session_id"].(string); ok {
				c.watchSession(sid)
			}
		}
	}

	c.writeJSON(models.Response{
		Type:    models.FrameResponse,
		ID:      env.ID,
		Success: true,
		Data:    data,
	})
}

// implicitSession returns the connection's default session, creating it on
// first use.
func (c *conn) implicitSession() (*registry.Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil && !s.Closed() {
		return s, nil
	}

	s, err := c.srv.registry.Create(registry.CreateOptions{
		WorkspaceID: fmt.Sprintf("client_%s", c.clientID),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Created session %s for client %s", s.ID(), c.clientID)

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.watchSession(s.ID())
	return s, nil
}

// watchSession relays a session's telemetry events to this connection until
// the subscription closes.
func (c *conn) watchSession(sessionID string) {
	sub := c.srv.bus.Subscribe(sessionID, events.FilterAll)

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	go func() {
		for ev := range sub.Events() {
			if err := c.writeJSON(ev.Frame()); err != nil {
				return
			}
		}
	}()
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
}

func (c *conn) cleanup() {
	c.ws.Close()
	c.srv.limiter.Forget(c.clientID)

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	s := c.session
	c.session = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.srv.bus.Unsubscribe(sub.ID)
	}

	if s != nil && c.srv.cfg.CloseOnDisconn {
		if err := c.srv.registry.Close(s.ID()); err != nil && !models.IsCode(err, models.CodeSessionNotFound) {
			log.Printf("Error closing session %s: %v", s.ID(), err)
		} else if err == nil {
			log.Printf("Session %s closed for client %s", s.ID(), c.clientID)
		}
	}
}
