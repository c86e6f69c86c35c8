// Package router validates inbound command envelopes, resolves their target
// session, and executes them on the session's serialized execution slot.
package router

import (
	"encoding/json"
	"time"

	"github.com/browsergate/browsergate/internal/artifact"
	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/pool"
	"github.com/browsergate/browsergate/internal/registry"
	"github.com/browsergate/browsergate/pkg/models"
)

// ImplicitSession lazily provides the session to use for envelopes without
// a session_id, typically the calling connection's pinned default session.
type ImplicitSession func() (*registry.Session, error)

// pageAction is a decoded command, ready to run against its target session
// on the session's execution slot.
type pageAction func(s *registry.Session) (any, error)

// handlerFunc decodes a command's arguments into a pageAction. Decode
// failures reject the request before it touches a session, so a
// locally-invalid command never occupies the execution slot and never emits
// telemetry.
type handlerFunc func(args Args) (pageAction, error)

// Router dispatches command envelopes.
type Router struct {
	cfg       *config.Config
	registry  *registry.Registry
	artifacts *artifact.Manager
	pool      *pool.Pool
	bus       *events.Bus

	// session handlers run on the target session's execution slot;
	// control handlers run inline.
	session map[string]handlerFunc
	control map[string]func(env models.Envelope, implicit ImplicitSession, args Args) (any, error)
}

// New creates a command router.
func New(cfg *config.Config, reg *registry.Registry, artifacts *artifact.Manager, ctxPool *pool.Pool, bus *events.Bus) *Router {
	r := &Router{
		cfg:       cfg,
		registry:  reg,
		artifacts: artifacts,
		pool:      ctxPool,
		bus:       bus,
	}
	r.registerHandlers()
	return r
}

// Dispatch validates the envelope, resolves its target session, and runs
// the command. Unknown names and malformed arguments fail locally without
// reaching the automation engine.
func (r *Router) Dispatch(env models.Envelope, implicit ImplicitSession) (any, error) {
	args := Args(env.Args)

	if h, ok := r.control[env.Command]; ok {
		return h(env, implicit, args)
	}

	h, ok := r.session[env.Command]
	if !ok {
		return nil, models.NewError(models.CodeUnknownCommand, "unknown command: %s", env.Command)
	}

	act, err := h(args)
	if err != nil {
		return nil, err
	}
	s, err := r.target(env, implicit)
	if err != nil {
		return nil, err
	}
	return r.execute(s, env.Command, act)
}

// target resolves the envelope's session, falling back to the caller's
// implicit session when no session_id is present.
func (r *Router) target(env models.Envelope, implicit ImplicitSession) (*registry.Session, error) {
	if env.SessionID != "" {
		return r.registry.Resolve(env.SessionID)
	}
	if implicit == nil {
		return nil, models.NewError(models.CodeInvalidArgument, "session_id is required")
	}
	return implicit()
}

type outcome struct {
	data any
	err  error
}

// execute queues the command on the session's execution slot and waits for
// its resolution. The per-command timeout releases the waiting caller only;
// the slot itself stays held until the engine call returns, so a hung
// command degrades that session without affecting others.
func (r *Router) execute(s *registry.Session, command string, act pageAction) (any, error) {
	results := make(chan outcome, 1)

	run := func() {
		s.Touch()
		r.publish(s, models.EventCommandStarted, map[string]any{"command": command})

		data, err := act(s)

		if err != nil {
			r.publish(s, models.EventCommandFailed, map[string]any{
				"command": command,
				"error":   err.Error(),
			})
		} else {
			s.Touch()
			r.publish(s, models.EventCommandFinished, map[string]any{
				"command": command,
				"result":  data,
			})
		}
		results <- outcome{data: data, err: err}
	}
	cancel := func() {
		results <- outcome{err: models.NewError(models.CodeSessionClosed, "session closed: %s", s.ID())}
	}

	if err := s.Enqueue(run, cancel); err != nil {
		return nil, err
	}

	timer := time.NewTimer(r.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case out := <-results:
		return out.data, out.err
	case <-timer.C:
		select {
		case out := <-results:
			return out.data, out.err
		default:
		}
		return nil, models.NewError(models.CodeCommandTimeout,
			"command %s timed out after %s", command, r.cfg.CommandTimeout)
	case <-s.Done():
		// Closed while queued or in flight: the in-flight result, if one
		// ever arrives, is dropped.
		select {
		case out := <-results:
			return out.data, out.err
		default:
		}
		return nil, models.NewError(models.CodeSessionClosed, "session closed: %s", s.ID())
	}
}

// publish emits a telemetry event unless the session or server has event
// streaming off.
func (r *Router) publish(s *registry.Session, kind models.EventKind, data any) {
	if !r.cfg.EventStreamEnabled || !s.EventStreamEnabled() {
		return
	}
	r.bus.Publish(models.Event{
		Kind:      kind,
		SessionID: s.ID(),
		TS:        time.Now(),
		Data:      data,
	})
}

// engineErr maps an engine failure into the wire taxonomy, passing the
// engine's message through verbatim.
func engineErr(err error) error {
	if _, ok := err.(*models.Error); ok {
		return err
	}
	return models.EngineError(err)
}

// Args wraps an envelope's argument mapping with typed accessors. All
// decoding failures surface as InvalidArgument before any engine call.
type Args map[string]json.RawMessage

func (a Args) has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a Args) raw(key string) json.RawMessage {
	return a[key]
}

func (a Args) str(key, def string) (string, error) {
	raw, ok := a[key]
	if !ok {
		return def, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", models.NewError(models.CodeInvalidArgument, "%s must be a string", key)
	}
	return v, nil
}

func (a Args) requiredStr(key string) (string, error) {
	v, err := a.str(key, "")
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", models.NewError(models.CodeInvalidArgument, "%s is required", key)
	}
	return v, nil
}

func (a Args) boolean(key string, def bool) (bool, error) {
	raw, ok := a[key]
	if !ok {
		return def, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, models.NewError(models.CodeInvalidArgument, "%s must be a boolean", key)
	}
	return v, nil
}

// booleanPtr returns nil when the key is absent, used where absence means
// "server default".
func (a Args) booleanPtr(key string) (*bool, error) {
	if !a.has(key) {
		return nil, nil
	}
	v, err := a.boolean(key, false)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (a Args) number(key string, def float64) (float64, error) {
	raw, ok := a[key]
	if !ok {
		return def, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, models.NewError(models.CodeInvalidArgument, "%s must be a number", key)
	}
	return v, nil
}

func (a Args) integer(key string, def int) (int, error) {
	v, err := a.number(key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (a Args) decode(key string, dst any) error {
	raw, ok := a[key]
	if !ok {
		return models.NewError(models.CodeInvalidArgument, "%s is required", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return models.NewError(models.CodeInvalidArgument, "invalid %s: %s", key, err.Error())
	}
	return nil
}
