// Package engine defines the boundary to the underlying browser-automation
// engine. The gateway core only ever talks to these interfaces; the
// production implementation is the Playwright adapter in this package, and
// tests use the instrumented stub in enginetest.
package engine

// Engine creates isolated automation contexts.
type Engine interface {
	// NewContext creates a fresh automation context with one open page.
	NewContext(opts ContextOptions) (Context, error)
	// Close tears down the engine and every context it still owns.
	Close() error
}

// ContextOptions configures a new automation context.
type ContextOptions struct {
	// StorageState seeds the context with a previously exported storage
	// state (JSON), when non-empty.
	StorageState []byte

	// RecordHARPath enables HAR recording to the given file.
	RecordHARPath string
	// RecordHARContent controls HAR body capture: "omit", "embed" or
	// "attach".
	RecordHARContent string

	// RecordVideoDir enables video recording into the given directory.
	RecordVideoDir string
}

// Context is one exclusively-owned automation context. Callers must
// guarantee that no two commands touch the same context concurrently; the
// router's per-session execution slot provides that guarantee.
type Context interface {
	Page() Page

	Cookies() ([]Cookie, error)
	AddCookies(cookies []Cookie) error
	ClearCookies() error

	// StorageState exports the context's cookies and storage as JSON.
	StorageState() ([]byte, error)

	StartTracing(opts TracingOptions) error
	// StopTracing writes the collected trace to path.
	StopTracing(path string) error

	// Reset returns the context to a clean baseline: cleared cookies and
	// storage, a single blank page. Used before a context re-enters the
	// pool.
	Reset() error

	Close() error
}

// TracingOptions configures trace collection.
type TracingOptions struct {
	Screenshots bool
	Snapshots   bool
	Sources     bool
}

// Cookie mirrors the engine's cookie record.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	URL      string  `json:"url,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ConsoleMessage is one browser console record.
type ConsoleMessage struct {
	Kind     string
	Text     string
	Location string
}

// PageInfo is the URL/title pair most navigation results report.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// NavigateOptions configures page navigation. Timeouts are in milliseconds,
// the engine's native unit; zero means the engine default.
type NavigateOptions struct {
	WaitUntil string
	Timeout   float64
}

// ClickOptions configures a click.
type ClickOptions struct {
	Button     string
	ClickCount int
	Timeout    float64
}

// SelectOptionValues picks options by value, label, or index. Exactly one
// field should be set.
type SelectOptionValues struct {
	Values  []string
	Labels  []string
	Indexes []int
}

// Page is the active page of an automation context.
type Page interface {
	Navigate(url string, opts NavigateOptions) (PageInfo, error)
	Reload(waitUntil string) (PageInfo, error)
	GoBack() (PageInfo, error)
	GoForward() (PageInfo, error)

	Click(selector string, opts ClickOptions) error
	Fill(selector, value string, timeout float64) error
	Type(selector, text string, delay, timeout float64) error
	// Press presses key on selector, or on the keyboard when selector is
	// empty.
	Press(selector, key string) error
	SelectOption(selector string, values SelectOptionValues) error
	Check(selector string) error
	Uncheck(selector string) error
	Hover(selector string) error
	Focus(selector string) error

	Evaluate(script string) (any, error)
	Content() (string, error)
	Info() (PageInfo, error)
	GetAttribute(selector, name string) (string, error)
	TextContent(selector string) (string, error)
	InnerHTML(selector string) (string, error)
	InputValue(selector string) (string, error)
	IsVisible(selector string) (bool, error)
	IsEnabled(selector string) (bool, error)
	IsChecked(selector string) (bool, error)
	QuerySelector(selector string) (bool, error)
	QuerySelectorAll(selector string) (int, error)

	WaitForSelector(selector, state string, timeout float64) error
	WaitForURL(pattern string, timeout float64) error
	WaitForLoadState(state string, timeout float64) error

	SetViewportSize(width, height int) error
	Screenshot(fullPage bool) ([]byte, error)

	// OnConsole registers a console-capture hook. The hook must not block.
	OnConsole(fn func(ConsoleMessage))

	// VideoPath returns the recording path, or empty when the page has no
	// video.
	VideoPath() (string, error)
}
