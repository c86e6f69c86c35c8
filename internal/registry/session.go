package registry

import (
	"sync"
	"time"

	"github.com/browsergate/browsergate/internal/engine"
	"github.com/browsergate/browsergate/internal/workspace"
	"github.com/browsergate/browsergate/pkg/models"
)

type task struct {
	run    func()
	cancel func()
}

// Session is one live automation session. The context is exclusively owned:
// commands reach it only through the execution slot, a capacity-1 queue
// drained by a single runner goroutine, so no two in-flight commands ever
// touch the same context.
type Session struct {
	id        string
	workspace *workspace.Workspace
	createdAt time.Time

	idleTimeout  time.Duration
	consoleLimit int
	userID       string
	label        string

	harEnabled bool
	harContent string
	harRel     string

	// poolEligible and pooled are written at create time and by
	// SwapContext (which runs inside the execution slot).
	poolEligible bool
	pooled       bool
	ctx          engine.Context

	queue      chan *task
	closed     chan struct{}
	runnerDone chan struct{}

	mu          sync.Mutex
	lastUsed    time.Time
	used        bool
	active      int
	closedFlag  bool
	eventStream bool
	tracing     bool
	console     []models.ConsoleEntry
}

// run is the session's runner goroutine: it drains the command queue in
// FIFO order, one command at a time. On close it cancels everything still
// queued and exits once the in-flight command, if any, has returned.
func (s *Session) run() {
	defer close(s.runnerDone)
	for {
		select {
		case t := <-s.queue:
			if s.Closed() {
				t.cancel()
				continue
			}
			s.setActive(1)
			t.run()
			s.setActive(-1)
		case <-s.closed:
			for {
				select {
				case t := <-s.queue:
					t.cancel()
				default:
					return
				}
			}
		}
	}
}

// Enqueue appends a command to the session's FIFO queue. run executes on
// the runner goroutine; cancel fires instead when the session closes before
// the command's turn. A full queue applies backpressure rather than
// rejecting.
func (s *Session) Enqueue(run func(), cancel func()) error {
	t := &task{run: run, cancel: cancel}
	select {
	case <-s.closed:
		return models.NewError(models.CodeSessionClosed, "session closed: %s", s.id)
	default:
	}
	select {
	case s.queue <- t:
		return nil
	case <-s.closed:
		return models.NewError(models.CodeSessionClosed, "session closed: %s", s.id)
	}
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) markClosed() {
	s.mu.Lock()
	already := s.closedFlag
	s.closedFlag = true
	s.mu.Unlock()
	if !already {
		close(s.closed)
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedFlag
}

func (s *Session) ID() string { return s.id }

// Workspace returns the session's filesystem namespace.
func (s *Session) Workspace() *workspace.Workspace { return s.workspace }

// Context returns the session's automation context. Callers must hold the
// execution slot.
func (s *Session) Context() engine.Context { return s.ctx }

// Page returns the context's active page. Callers must hold the execution
// slot.
func (s *Session) Page() engine.Page { return s.ctx.Page() }

// Touch records command activity, resetting the idle-eviction clock.
func (s *Session) Touch() { s.touch() }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.used = true
	s.mu.Unlock()
}

func (s *Session) setActive(delta int) {
	s.mu.Lock()
	s.active += delta
	s.mu.Unlock()
}

func (s *Session) idleDeadlineBefore(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed.Add(s.idleTimeout).Before(now)
}

// EventStreamEnabled reports whether the session emits telemetry events.
func (s *Session) EventStreamEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventStream
}

// SetEventStream toggles telemetry emission for the session.
func (s *Session) SetEventStream(enabled bool) {
	s.mu.Lock()
	s.eventStream = enabled
	s.mu.Unlock()
}

// TracingActive reports whether a trace collection is in progress.
func (s *Session) TracingActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracing
}

func (s *Session) setTracing(active bool) {
	s.mu.Lock()
	s.tracing = active
	s.mu.Unlock()
}

// SetTracing toggles the trace-in-progress flag. Called from the execution
// slot by the tracing commands.
func (s *Session) SetTracing(active bool) { s.setTracing(active) }

// HAREnabled reports whether the session records a HAR.
func (s *Session) HAREnabled() bool { return s.harEnabled }

// HARPath returns the workspace-relative HAR file name, when recording.
func (s *Session) HARPath() string { return s.harRel }

func (s *Session) appendConsole(entry models.ConsoleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.console) >= s.consoleLimit {
		s.console = s.console[1:]
	}
	s.console = append(s.console, entry)
}

// ConsoleLogs returns a snapshot of the captured console messages.
func (s *Session) ConsoleLogs() []models.ConsoleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ConsoleEntry(nil), s.console...)
}

// ClearConsoleLogs drops the captured console messages.
func (s *Session) ClearConsoleLogs() {
	s.mu.Lock()
	s.console = nil
	s.mu.Unlock()
}

// Summary returns the session's read-only view.
func (s *Session) Summary() models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := models.StateIdle
	switch {
	case s.closedFlag:
		state = models.StateClosed
	case s.active > 0:
		state = models.StateActive
	case !s.used:
		state = models.StateCreated
	}

	return models.SessionSummary{
		ID:          s.id,
		WorkspaceID: s.workspace.ID,
		State:       state,
		Label:       s.label,
		UserID:      s.userID,
		CreatedAt:   s.createdAt,
		LastUsedAt:  s.lastUsed,
		HAREnabled:  s.harEnabled,
		Pooled:      s.pooled,
	}
}
