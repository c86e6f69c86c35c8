package router_test

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsergate/browsergate/internal/artifact"
	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/engine"
	"github.com/browsergate/browsergate/internal/engine/enginetest"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/pool"
	"github.com/browsergate/browsergate/internal/registry"
	"github.com/browsergate/browsergate/internal/router"
	"github.com/browsergate/browsergate/internal/workspace"
	"github.com/browsergate/browsergate/pkg/models"
)

type fixture struct {
	cfg       *config.Config
	eng       *enginetest.Engine
	reg       *registry.Registry
	router    *router.Router
	bus       *events.Bus
	artifacts *artifact.Manager
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		MaxSessions:        10,
		IdleTimeout:        time.Hour,
		CommandTimeout:     5 * time.Second,
		ConsoleLogLimit:    100,
		EventStreamEnabled: true,
		WorkspaceRoot:      t.TempDir(),
		ArtifactRoot:       t.TempDir(),
		ArtifactMaxBytes:   1 << 20,
		HARContent:         "omit",
	}
	if mutate != nil {
		mutate(cfg)
	}

	eng := enginetest.NewEngine()
	ws, err := workspace.NewManager(cfg.WorkspaceRoot, cfg.ArtifactRoot)
	require.NoError(t, err)
	artifacts := artifact.NewManager(ws, cfg.ArtifactMaxBytes)
	ctxPool := pool.New(eng, 0)
	bus := events.NewBus(0)
	reg := registry.New(cfg, eng, ctxPool, ws, artifacts, bus)
	t.Cleanup(reg.Shutdown)

	return &fixture{
		cfg:       cfg,
		eng:       eng,
		reg:       reg,
		router:    router.New(cfg, reg, artifacts, ctxPool, bus),
		bus:       bus,
		artifacts: artifacts,
	}
}

func (f *fixture) session(t *testing.T) *registry.Session {
	t.Helper()
	s, err := f.reg.Create(registry.CreateOptions{})
	require.NoError(t, err)
	return s
}

func args(t *testing.T, kv map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(kv))
	for k, v := range kv {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = raw
	}
	return out
}

func (f *fixture) dispatch(t *testing.T, s *registry.Session, command string, kv map[string]any) (map[string]any, error) {
	t.Helper()
	env := models.Envelope{ID: "t1", Command: command, Args: args(t, kv)}
	if s != nil {
		env.SessionID = s.ID()
	}
	data, err := f.router.Dispatch(env, nil)
	if err != nil {
		return nil, err
	}
	result, ok := data.(map[string]any)
	require.True(t, ok, "result should be a map, got %T", data)
	return result, nil
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	_, err := f.dispatch(t, s, "teleport", nil)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeUnknownCommand))
}

func TestInvalidArgumentFailsBeforeEngine(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	ctx := s.Context().(*enginetest.Context)

	_, err := f.dispatch(t, s, "click", nil)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeInvalidArgument))
	assert.Empty(t, ctx.Ops())

	_, err = f.dispatch(t, s, "navigate", map[string]any{"url": 42})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeInvalidArgument))
	assert.Empty(t, ctx.Ops())
}

func TestNavigate(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	result, err := f.dispatch(t, s, "navigate", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", result["url"])
	assert.Contains(t, result, "title")
}

func TestCommandsNeverOverlapOnOneSession(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	ctx := s.Context().(*enginetest.Context)
	ctx.Stall = func(string) { time.Sleep(2 * time.Millisecond) }

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatch(t, s, "navigate", map[string]any{"url": "https://example.com"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, ctx.Violations())
	assert.Len(t, ctx.Ops(), 20)
}

func TestCommandsRunInSubmissionOrder(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	ctx := s.Context().(*enginetest.Context)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ctx.Stall = func(op string) {
		if op == "click #a" {
			once.Do(func() { close(entered) })
			<-release
		}
	}

	errs := make(chan error, 2)
	go func() {
		_, err := f.dispatch(t, s, "click", map[string]any{"selector": "#a"})
		errs <- err
	}()
	<-entered // first click holds the slot

	go func() {
		_, err := f.dispatch(t, s, "click", map[string]any{"selector": "#b"})
		errs <- err
	}()
	// Give the second click time to queue behind the in-flight one.
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	ops := ctx.Ops()
	first := slices.Index(ops, "click #a")
	second := slices.Index(ops, "click #b")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
}

func TestSlowSessionDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, nil)
	slow := f.session(t)
	fast := f.session(t)

	release := make(chan struct{})
	slow.Context().(*enginetest.Context).Stall = func(string) { <-release }
	defer close(release)

	started := make(chan struct{})
	go func() {
		close(started)
		f.dispatch(t, slow, "navigate", map[string]any{"url": "https://slow.example"})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_, err := f.dispatch(t, fast, "navigate", map[string]any{"url": "https://fast.example"})
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("command on an idle session stalled behind another session")
	}
}

func TestCommandTimeoutFreesCaller(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CommandTimeout = 20 * time.Millisecond
	})
	s := f.session(t)

	release := make(chan struct{})
	s.Context().(*enginetest.Context).Stall = func(string) { <-release }

	start := time.Now()
	_, err := f.dispatch(t, s, "navigate", map[string]any{"url": "https://hung.example"})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeCommandTimeout))
	assert.Less(t, time.Since(start), time.Second)

	close(release)
}

func TestCloseCancelsQueuedAndInFlight(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	s.Context().(*enginetest.Context).Stall = func(string) {
		entered <- struct{}{}
		<-release
	}

	errs := make(chan error, 2)
	go func() {
		_, err := f.dispatch(t, s, "navigate", map[string]any{"url": "https://a.example"})
		errs <- err
	}()
	<-entered // first command is in flight

	go func() {
		_, err := f.dispatch(t, s, "navigate", map[string]any{"url": "https://b.example"})
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond) // let the second command queue up

	require.NoError(t, f.reg.Close(s.ID()))

	for i := 0; i < 2; i++ {
		err := <-errs
		require.Error(t, err)
		assert.True(t, models.IsCode(err, models.CodeSessionClosed), "got %v", err)
	}
	close(release)
}

func TestScreenshotStoresArtifact(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	result, err := f.dispatch(t, s, "screenshot", map[string]any{"path": "login.png"})
	require.NoError(t, err)
	assert.Equal(t, "login.png", result["path"])

	ref := result["artifact"].(*models.ArtifactRef)
	assert.Equal(t, models.ArtifactScreenshot, ref.Kind)
	assert.FileExists(t, filepath.Join(s.Workspace().ArtifactDir, "login.png"))

	listed, err := f.dispatch(t, s, "list_artifacts", nil)
	require.NoError(t, err)
	refs := listed["artifacts"].([]models.ArtifactRef)
	require.Len(t, refs, 1)
	assert.Equal(t, "login.png", refs[0].Path)
}

func TestScreenshotOverCapRejected(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.ArtifactMaxBytes = 4
	})
	s := f.session(t)

	_, err := f.dispatch(t, s, "screenshot", nil)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeArtifactTooLarge))

	// No partial write is visible.
	listed, err := f.dispatch(t, s, "list_artifacts", nil)
	require.NoError(t, err)
	assert.Empty(t, listed["artifacts"])
}

func TestGetArtifactTruncatesAtCap(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.ArtifactMaxBytes = 8
	})
	s := f.session(t)

	// A file the engine wrote directly, larger than the inline cap.
	require.NoError(t, os.WriteFile(
		filepath.Join(s.Workspace().ArtifactDir, "dump.bin"),
		[]byte("0123456789abcdef"), 0644))

	result, err := f.dispatch(t, s, "get_artifact", map[string]any{"path": "dump.bin"})
	require.NoError(t, err)
	assert.Equal(t, true, result["truncated"])
	assert.Equal(t, int64(16), result["size"])

	data, err := base64.StdEncoding.DecodeString(result["content_base64"].(string))
	require.NoError(t, err)
	assert.Equal(t, []byte("01234567"), data)
}

func TestGetArtifactEscapeDenied(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	_, err := f.dispatch(t, s, "get_artifact", map[string]any{"path": "../../etc/passwd"})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeAccessDenied))

	_, err = f.dispatch(t, s, "get_artifact", map[string]any{"path": "missing.png"})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeArtifactNotFound))
}

func TestTracingLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	result, err := f.dispatch(t, s, "start_tracing", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["started"])

	result, err = f.dispatch(t, s, "start_tracing", nil)
	require.NoError(t, err)
	assert.Equal(t, false, result["started"])
	assert.Equal(t, "already_active", result["reason"])

	result, err = f.dispatch(t, s, "stop_tracing", map[string]any{"path": "run.zip"})
	require.NoError(t, err)
	assert.Equal(t, true, result["stopped"])
	assert.FileExists(t, filepath.Join(s.Workspace().ArtifactDir, "run.zip"))

	result, err = f.dispatch(t, s, "stop_tracing", nil)
	require.NoError(t, err)
	assert.Equal(t, false, result["stopped"])
	assert.Equal(t, "not_active", result["reason"])
}

func TestStorageStateRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	_, err := f.dispatch(t, s, "set_cookies", map[string]any{
		"cookies": []map[string]any{{"name": "sid", "value": "abc", "domain": "example.com"}},
	})
	require.NoError(t, err)

	exported, err := f.dispatch(t, s, "export_storage_state", nil)
	require.NoError(t, err)
	state := exported["state"].(json.RawMessage)
	require.NotEmpty(t, state)

	old := s.Context().(*enginetest.Context)
	_, err = f.dispatch(t, s, "import_storage_state", map[string]any{"state": json.RawMessage(state)})
	require.NoError(t, err)
	assert.NotSame(t, old, s.Context())

	// The imported state carries the cookies into the fresh context.
	result, err := f.dispatch(t, s, "cookies", nil)
	require.NoError(t, err)
	cookies := result["cookies"].([]engine.Cookie)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
}

func TestConsoleExport(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	page := s.Page().(*enginetest.Page)
	page.EmitConsole("log", "hello")
	page.EmitConsole("error", "boom")

	result, err := f.dispatch(t, s, "get_console_logs", nil)
	require.NoError(t, err)
	logs := result["logs"].([]models.ConsoleEntry)
	require.Len(t, logs, 2)

	result, err = f.dispatch(t, s, "export_console_logs", map[string]any{"path": "console.json"})
	require.NoError(t, err)
	assert.Equal(t, 2, result["count"])
	assert.FileExists(t, filepath.Join(s.Workspace().ArtifactDir, "console.json"))

	_, err = f.dispatch(t, s, "clear_console_logs", nil)
	require.NoError(t, err)
	result, err = f.dispatch(t, s, "get_console_logs", nil)
	require.NoError(t, err)
	assert.Empty(t, result["logs"])
}

func TestCommandTelemetryEvents(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	sub := f.bus.Subscribe(s.ID(), events.FilterAll)
	defer f.bus.Unsubscribe(sub.ID)

	_, err := f.dispatch(t, s, "navigate", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)

	kinds := collectKinds(t, sub, 2)
	assert.Equal(t, models.EventCommandStarted, kinds[0])
	assert.Equal(t, models.EventCommandFinished, kinds[1])

	_, err = f.dispatch(t, s, "click", nil)
	require.Error(t, err)
	// Local validation failures never reach the slot, so no events fire.
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s for locally-rejected command", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventStreamToggle(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	sub := f.bus.Subscribe(s.ID(), events.FilterAll)
	defer f.bus.Unsubscribe(sub.ID)

	_, err := f.dispatch(t, s, "event_stream", map[string]any{"enabled": false})
	require.NoError(t, err)

	_, err = f.dispatch(t, s, "navigate", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s with streaming disabled", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)

	result, err := f.dispatch(t, nil, "health", nil)
	require.NoError(t, err)
	assert.Equal(t, "healthy", result["status"])
	assert.Equal(t, 1, result["sessions"])

	// Targeting a session verifies it still exists.
	require.NoError(t, f.reg.Close(s.ID()))
	_, err = f.dispatch(t, s, "health", nil)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeSessionNotFound))
}

func TestCreateAndCloseSessionCommands(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.dispatch(t, nil, "create_session", map[string]any{
		"workspace_id": "acme",
		"label":        "crawl",
	})
	require.NoError(t, err)
	sid := result["session_id"].(string)
	assert.Equal(t, "acme", result["workspace_id"])

	listed, err := f.dispatch(t, nil, "list_sessions", nil)
	require.NoError(t, err)
	sessions := listed["sessions"].([]models.SessionSummary)
	require.Len(t, sessions, 1)
	assert.Equal(t, "crawl", sessions[0].Label)

	env := models.Envelope{ID: "t2", SessionID: sid, Command: "close_session"}
	data, err := f.router.Dispatch(env, nil)
	require.NoError(t, err)
	result = data.(map[string]any)
	assert.Equal(t, sid, result["closed"])
	assert.Zero(t, f.reg.Count())
}

func TestImplicitSessionCreatedLazily(t *testing.T) {
	f := newFixture(t, nil)

	var created *registry.Session
	implicit := func() (*registry.Session, error) {
		if created == nil {
			s, err := f.reg.Create(registry.CreateOptions{WorkspaceID: "client_ab12cd34"})
			if err != nil {
				return nil, err
			}
			created = s
		}
		return created, nil
	}

	env := models.Envelope{ID: "1", Command: "navigate", Args: args(t, map[string]any{"url": "https://example.com"})}
	_, err := f.router.Dispatch(env, implicit)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "client_ab12cd34", created.Workspace().ID)

	env.ID = "2"
	_, err = f.router.Dispatch(env, implicit)
	require.NoError(t, err)
	assert.Equal(t, 1, f.reg.Count())
}

func collectKinds(t *testing.T, sub *events.Subscription, n int) []models.EventKind {
	t.Helper()
	kinds := make([]models.EventKind, 0, n)
	for len(kinds) < n {
		select {
		case ev := <-sub.Events():
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", kinds)
		}
	}
	return kinds
}
