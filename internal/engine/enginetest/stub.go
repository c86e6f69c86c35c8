// Package enginetest provides an instrumented in-memory engine for tests.
// The stub records every call and fails loudly on re-entrant access to a
// context, which is how the per-session serialization guarantee is verified.
package enginetest

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/browsergate/browsergate/internal/engine"
)

// Engine is a stub engine.Engine.
type Engine struct {
	mu sync.Mutex

	// NewContextErr, when set, makes NewContext fail.
	NewContextErr error

	contexts []*Context
	closed   bool
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewContext(opts engine.ContextOptions) (engine.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewContextErr != nil {
		return nil, e.NewContextErr
	}

	ctx := &Context{eng: e, opts: opts}
	ctx.page = &Page{ctx: ctx, url: "about:blank", title: "Stub Page"}
	if len(opts.StorageState) > 0 {
		var state storageState
		if err := json.Unmarshal(opts.StorageState, &state); err != nil {
			return nil, fmt.Errorf("invalid storage state: %w", err)
		}
		ctx.cookies = state.Cookies
	}
	e.contexts = append(e.contexts, ctx)
	return ctx, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Contexts returns every context the engine has created, in creation order.
func (e *Engine) Contexts() []*Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Context(nil), e.contexts...)
}

type storageState struct {
	Cookies []engine.Cookie `json:"cookies"`
	Origins []any           `json:"origins"`
}

// Context is a stub engine.Context. Every operation on the context or its
// page increments an in-flight counter; overlap is recorded as a violation.
type Context struct {
	eng  *Engine
	opts engine.ContextOptions
	page *Page

	inFlight   int32
	violations int32

	// Stall, when set, runs inside every operation while the in-flight
	// counter is held. Tests use it to make commands slow or to park them
	// on a channel.
	Stall func(op string)

	// ResetErr makes Reset fail, which the pool treats as a discard.
	ResetErr error

	// StorageStateErr makes StorageState fail.
	StorageStateErr error

	mu         sync.Mutex
	cookies    []engine.Cookie
	tracing    bool
	closed     bool
	resetCalls int
	ops        []string
}

func (c *Context) enter(op string) func() {
	if atomic.AddInt32(&c.inFlight, 1) > 1 {
		atomic.AddInt32(&c.violations, 1)
	}
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
	if c.Stall != nil {
		c.Stall(op)
	}
	return func() { atomic.AddInt32(&c.inFlight, -1) }
}

// Violations reports how many times two operations overlapped on this
// context.
func (c *Context) Violations() int {
	return int(atomic.LoadInt32(&c.violations))
}

// Ops returns the operation names in execution order.
func (c *Context) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

// ResetCalls reports how often the pool reset this context.
func (c *Context) ResetCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetCalls
}

// Closed reports whether the context has been torn down.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) Page() engine.Page { return c.page }

func (c *Context) Cookies() ([]engine.Cookie, error) {
	defer c.enter("cookies")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Cookie(nil), c.cookies...), nil
}

func (c *Context) AddCookies(cookies []engine.Cookie) error {
	defer c.enter("add_cookies")()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookies...)
	return nil
}

func (c *Context) ClearCookies() error {
	defer c.enter("clear_cookies")()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = nil
	return nil
}

func (c *Context) StorageState() ([]byte, error) {
	defer c.enter("storage_state")()
	if c.StorageStateErr != nil {
		return nil, c.StorageStateErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(storageState{Cookies: c.cookies, Origins: []any{}})
}

func (c *Context) StartTracing(opts engine.TracingOptions) error {
	defer c.enter("start_tracing")()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracing = true
	return nil
}

func (c *Context) StopTracing(path string) error {
	defer c.enter("stop_tracing")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracing {
		return fmt.Errorf("tracing not active")
	}
	c.tracing = false
	return os.WriteFile(path, []byte("stub-trace"), 0644)
}

func (c *Context) Reset() error {
	defer c.enter("reset")()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetCalls++
	if c.ResetErr != nil {
		return c.ResetErr
	}
	c.cookies = nil
	c.page.url = "about:blank"
	return nil
}

func (c *Context) Close() error {
	defer c.enter("close")()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Page is the stub page of a Context.
type Page struct {
	ctx *Context

	mu          sync.Mutex
	url         string
	title       string
	consoleFns  []func(engine.ConsoleMessage)
	videoPath   string
	evalResult  any
	NavigateErr error
	ClickErr    error
}

// SetVideoPath configures the value VideoPath returns.
func (p *Page) SetVideoPath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videoPath = path
}

// SetEvalResult configures the value Evaluate returns.
func (p *Page) SetEvalResult(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalResult = v
}

// EmitConsole feeds a console message to every registered hook, the way a
// real page would.
func (p *Page) EmitConsole(kind, text string) {
	p.mu.Lock()
	fns := append(p.consoleFns[:0:0], p.consoleFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(engine.ConsoleMessage{Kind: kind, Text: text})
	}
}

func (p *Page) info() engine.PageInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return engine.PageInfo{URL: p.url, Title: p.title}
}

func (p *Page) Navigate(url string, opts engine.NavigateOptions) (engine.PageInfo, error) {
	defer p.ctx.enter("navigate")()
	if p.NavigateErr != nil {
		return engine.PageInfo{}, p.NavigateErr
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return p.info(), nil
}

func (p *Page) Reload(waitUntil string) (engine.PageInfo, error) {
	defer p.ctx.enter("reload")()
	return p.info(), nil
}

func (p *Page) GoBack() (engine.PageInfo, error) {
	defer p.ctx.enter("go_back")()
	return p.info(), nil
}

func (p *Page) GoForward() (engine.PageInfo, error) {
	defer p.ctx.enter("go_forward")()
	return p.info(), nil
}

func (p *Page) Click(selector string, opts engine.ClickOptions) error {
	defer p.ctx.enter("click " + selector)()
	return p.ClickErr
}

func (p *Page) Fill(selector, value string, timeout float64) error {
	defer p.ctx.enter("fill " + selector)()
	return nil
}

func (p *Page) Type(selector, text string, delay, timeout float64) error {
	defer p.ctx.enter("type " + selector)()
	return nil
}

func (p *Page) Press(selector, key string) error {
	defer p.ctx.enter("press " + key)()
	return nil
}

func (p *Page) SelectOption(selector string, values engine.SelectOptionValues) error {
	defer p.ctx.enter("select_option " + selector)()
	return nil
}

func (p *Page) Check(selector string) error {
	defer p.ctx.enter("check " + selector)()
	return nil
}

func (p *Page) Uncheck(selector string) error {
	defer p.ctx.enter("uncheck " + selector)()
	return nil
}

func (p *Page) Hover(selector string) error {
	defer p.ctx.enter("hover " + selector)()
	return nil
}

func (p *Page) Focus(selector string) error {
	defer p.ctx.enter("focus " + selector)()
	return nil
}

func (p *Page) Evaluate(script string) (any, error) {
	defer p.ctx.enter("evaluate")()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.evalResult != nil {
		return p.evalResult, nil
	}
	return nil, nil
}

func (p *Page) Content() (string, error) {
	defer p.ctx.enter("content")()
	return "<html><body>stub</body></html>", nil
}

func (p *Page) Info() (engine.PageInfo, error) {
	defer p.ctx.enter("info")()
	return p.info(), nil
}

func (p *Page) GetAttribute(selector, name string) (string, error) {
	defer p.ctx.enter("get_attribute " + selector)()
	return "", nil
}

func (p *Page) TextContent(selector string) (string, error) {
	defer p.ctx.enter("text_content " + selector)()
	return "stub text", nil
}

func (p *Page) InnerHTML(selector string) (string, error) {
	defer p.ctx.enter("inner_html " + selector)()
	return "<span>stub</span>", nil
}

func (p *Page) InputValue(selector string) (string, error) {
	defer p.ctx.enter("input_value " + selector)()
	return "", nil
}

func (p *Page) IsVisible(selector string) (bool, error) {
	defer p.ctx.enter("is_visible " + selector)()
	return true, nil
}

func (p *Page) IsEnabled(selector string) (bool, error) {
	defer p.ctx.enter("is_enabled " + selector)()
	return true, nil
}

func (p *Page) IsChecked(selector string) (bool, error) {
	defer p.ctx.enter("is_checked " + selector)()
	return false, nil
}

func (p *Page) QuerySelector(selector string) (bool, error) {
	defer p.ctx.enter("query_selector " + selector)()
	return true, nil
}

func (p *Page) QuerySelectorAll(selector string) (int, error) {
	defer p.ctx.enter("query_selector_all " + selector)()
	return 1, nil
}

func (p *Page) WaitForSelector(selector, state string, timeout float64) error {
	defer p.ctx.enter("wait_for_selector " + selector)()
	return nil
}

func (p *Page) WaitForURL(pattern string, timeout float64) error {
	defer p.ctx.enter("wait_for_url")()
	return nil
}

func (p *Page) WaitForLoadState(state string, timeout float64) error {
	defer p.ctx.enter("wait_for_load_state")()
	return nil
}

func (p *Page) SetViewportSize(width, height int) error {
	defer p.ctx.enter("set_viewport_size")()
	return nil
}

func (p *Page) Screenshot(fullPage bool) ([]byte, error) {
	defer p.ctx.enter("screenshot")()
	return []byte("\x89PNG stub image data"), nil
}

func (p *Page) OnConsole(fn func(engine.ConsoleMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consoleFns = append(p.consoleFns, fn)
}

func (p *Page) VideoPath() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoPath, nil
}
