// Package registry owns the set of live sessions: creation against the
// configured capacity, resolution, idle-timeout eviction, and teardown.
//
// The live-session map is the only structure mutated from multiple flows
// concurrently; every access goes through the registry's single mutex. No
// other component holds direct references into the table.
package registry

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/browsergate/browsergate/internal/artifact"
	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/engine"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/pool"
	"github.com/browsergate/browsergate/internal/workspace"
	"github.com/browsergate/browsergate/pkg/models"
)

// queueDepth is the per-session command backlog. Enqueue applies
// backpressure beyond this depth rather than rejecting.
const queueDepth = 256

// CreateOptions configures a new session.
type CreateOptions struct {
	// SessionID pins an explicit identifier; empty means generate one.
	SessionID   string
	WorkspaceID string
	UserID      string
	Label       string

	// RecordHAR overrides the server-wide HAR default when non-nil.
	RecordHAR  *bool
	HARContent string
	HARPath    string
}

// Registry manages session lifecycle.
type Registry struct {
	cfg        *config.Config
	eng        engine.Engine
	pool       *pool.Pool
	workspaces *workspace.Manager
	artifacts  *artifact.Manager
	bus        *events.Bus

	sem *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session
	// reserved holds IDs of sessions mid-creation, so two concurrent
	// creates with the same explicit ID cannot both pass the duplicate
	// check.
	reserved map[string]struct{}

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a session registry.
func New(cfg *config.Config, eng engine.Engine, ctxPool *pool.Pool, workspaces *workspace.Manager, artifacts *artifact.Manager, bus *events.Bus) *Registry {
	return &Registry{
		cfg:        cfg,
		eng:        eng,
		pool:       ctxPool,
		workspaces: workspaces,
		artifacts:  artifacts,
		bus:        bus,
		sem:        semaphore.NewWeighted(int64(cfg.MaxSessions)),
		sessions:   make(map[string]*Session),
		reserved:   make(map[string]struct{}),
	}
}

// Create allocates a workspace, obtains an automation context (pooled when
// possible), and registers the session. Fails with SessionLimitExceeded when
// the configured maximum of live sessions is reached.
func (r *Registry) Create(opts CreateOptions) (*Session, error) {
	if !r.sem.TryAcquire(1) {
		return nil, models.NewError(models.CodeSessionLimitExceeded,
			"maximum sessions (%d) reached", r.cfg.MaxSessions)
	}

	s, err := r.create(opts)
	if err != nil {
		r.sem.Release(1)
		return nil, err
	}
	return s, nil
}

func (r *Registry) create(opts CreateOptions) (*Session, error) {
	id := opts.SessionID
	if id == "" {
		id = "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}

	r.mu.Lock()
	_, live := r.sessions[id]
	_, pending := r.reserved[id]
	if live || pending {
		r.mu.Unlock()
		return nil, models.NewError(models.CodeInvalidArgument, "session already exists: %s", id)
	}
	r.reserved[id] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.reserved, id)
		r.mu.Unlock()
	}()

	workspaceID, err := workspace.NormalizeID(opts.WorkspaceID)
	if err != nil {
		return nil, models.NewError(models.CodeInvalidArgument, "%s", err.Error())
	}
	ws, err := r.workspaces.Allocate(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate workspace: %w", err)
	}

	recordHAR := r.cfg.HAREnabled
	if opts.RecordHAR != nil {
		recordHAR = *opts.RecordHAR
	}
	harContent := strings.TrimSpace(opts.HARContent)
	if harContent == "" {
		harContent = r.cfg.HARContent
	}
	var harRel string
	if recordHAR {
		_, harRel, err = r.artifacts.PlanFile(workspaceID, opts.HARPath, "har_"+id, ".har")
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		id:           id,
		workspace:    ws,
		createdAt:    time.Now(),
		lastUsed:     time.Now(),
		idleTimeout:  r.cfg.IdleTimeout,
		eventStream:  r.cfg.EventStreamEnabled,
		consoleLimit: r.cfg.ConsoleLogLimit,
		userID:       opts.UserID,
		label:        opts.Label,
		harEnabled:   recordHAR,
		harContent:   harContent,
		harRel:       harRel,
		queue:        make(chan *task, queueDepth),
		closed:       make(chan struct{}),
		runnerDone:   make(chan struct{}),
	}

	// Pooled contexts carry no per-session recording, so sessions that
	// record HAR or video always cold-start and never re-enter the pool.
	s.poolEligible = r.pool.Enabled() && !recordHAR && r.cfg.VideoDir == ""

	var ctx engine.Context
	if s.poolEligible {
		if ctx = r.pool.Checkout(); ctx != nil {
			s.pooled = true
		}
	}
	if ctx == nil {
		ctx, err = r.eng.NewContext(r.contextOptions(s))
		if err != nil {
			return nil, models.EngineError(err)
		}
	}
	s.ctx = ctx
	r.attachConsole(s)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	go s.run()

	log.Printf("registry: created session %s (workspace %s, pooled=%v)", id, workspaceID, s.pooled)
	return s, nil
}

// contextOptions builds the engine options for a session's cold-started
// context.
func (r *Registry) contextOptions(s *Session) engine.ContextOptions {
	opts := engine.ContextOptions{}
	if s.harEnabled && s.harRel != "" {
		opts.RecordHARPath = filepath.Join(r.workspaces.ArtifactDir(s.workspace.ID), s.harRel)
		opts.RecordHARContent = s.harContent
	}
	if r.cfg.VideoDir != "" {
		opts.RecordVideoDir = filepath.Join(r.cfg.VideoDir, s.workspace.ID, "videos")
	}
	return opts
}

// attachConsole hooks the context's page console into the session's bounded
// log and, when console streaming is on, the event bus.
func (r *Registry) attachConsole(s *Session) {
	s.ctx.Page().OnConsole(func(msg engine.ConsoleMessage) {
		entry := models.ConsoleEntry{
			Kind:     msg.Kind,
			Text:     msg.Text,
			Location: msg.Location,
			TS:       float64(time.Now().UnixNano()) / float64(time.Second),
		}
		s.appendConsole(entry)
		if r.cfg.ConsoleStreamEnabled && s.EventStreamEnabled() {
			r.bus.Publish(models.Event{
				Kind:      models.EventConsole,
				SessionID: s.id,
				TS:        time.Now(),
				Data:      entry,
			})
		}
	})
}

// Resolve returns a live session.
func (r *Registry) Resolve(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, models.NewError(models.CodeSessionNotFound, "session not found: %s", id)
	}
	return s, nil
}

// Touch resets the session's idle-timeout deadline.
func (r *Registry) Touch(id string) {
	if s, err := r.Resolve(id); err == nil {
		s.touch()
	}
}

// Close tears a session down: it leaves the live set immediately (freeing a
// capacity slot), queued commands fail with SessionClosed, and the
// automation context is released back to the pool or torn down once the
// in-flight command, if any, has returned. The workspace stays on disk for
// artifact retrieval.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return models.NewError(models.CodeSessionNotFound, "session not found: %s", id)
	}

	s.markClosed()
	r.sem.Release(1)

	go func() {
		<-s.runnerDone
		if s.poolEligible {
			r.pool.Release(s.ctx)
		} else if err := s.ctx.Close(); err != nil {
			log.Printf("registry: error closing context for session %s: %v", id, err)
		}
		r.bus.CloseSession(id)
		log.Printf("registry: closed session %s", id)
	}()

	return nil
}

// SwapContext replaces a session's automation context with a fresh one
// seeded from the given storage state. Must be called from the session's
// execution slot; the old context is torn down outright (its state now
// lives in the new one).
func (r *Registry) SwapContext(s *Session, storageState []byte) error {
	opts := r.contextOptions(s)
	opts.StorageState = storageState

	fresh, err := r.eng.NewContext(opts)
	if err != nil {
		return models.EngineError(err)
	}

	old := s.ctx
	s.ctx = fresh
	s.pooled = false
	s.poolEligible = false
	s.setTracing(false)
	r.attachConsole(s)

	if err := old.Close(); err != nil {
		log.Printf("registry: error closing replaced context for session %s: %v", s.id, err)
	}
	return nil
}

// List returns summaries of all live sessions ordered by creation time.
func (r *Registry) List() []models.SessionSummary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// MaxSessions returns the configured capacity.
func (r *Registry) MaxSessions() int {
	return r.cfg.MaxSessions
}

// Sweep evicts every session whose idle deadline has elapsed, applying the
// same teardown as Close.
func (r *Registry) Sweep() {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		if s.idleDeadlineBefore(now) {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		log.Printf("registry: evicting idle session %s", id)
		if err := r.Close(id); err != nil {
			log.Printf("registry: error evicting session %s: %v", id, err)
		}
	}
}

// StartSweeper runs Sweep on the configured interval until StopSweeper.
func (r *Registry) StartSweeper() {
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.sweepStop:
				return
			}
		}
	}()
}

// StopSweeper stops the periodic sweep.
func (r *Registry) StopSweeper() {
	if r.sweepStop != nil {
		close(r.sweepStop)
		<-r.sweepDone
		r.sweepStop = nil
	}
}

// Shutdown stops the sweeper and closes every live session.
func (r *Registry) Shutdown() {
	r.StopSweeper()

	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Close(id); err != nil {
			log.Printf("registry: error closing session %s during shutdown: %v", id, err)
		}
	}
}
