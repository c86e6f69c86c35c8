package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightOptions configures the Playwright-backed engine.
type PlaywrightOptions struct {
	Browser            string
	Headless           bool
	ChromiumChannel    string
	ChromiumExecutable string
}

// PlaywrightEngine implements Engine on playwright-go. One browser process
// serves every context; contexts are the isolation unit.
type PlaywrightEngine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywright installs (if needed) and starts Playwright, then launches
// the configured browser.
func NewPlaywright(opts PlaywrightOptions) (*PlaywrightEngine, error) {
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var browser playwright.Browser
	switch opts.Browser {
	case "", "chromium":
		launchOpts := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		}
		if opts.ChromiumExecutable != "" {
			launchOpts.ExecutablePath = playwright.String(opts.ChromiumExecutable)
		} else if opts.ChromiumChannel != "" {
			launchOpts.Channel = playwright.String(opts.ChromiumChannel)
		}
		browser, err = pw.Chromium.Launch(launchOpts)
	case "firefox":
		browser, err = pw.Firefox.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
	case "webkit":
		browser, err = pw.WebKit.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
	default:
		pw.Stop()
		return nil, fmt.Errorf("unsupported browser: %s", opts.Browser)
	}
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &PlaywrightEngine{pw: pw, browser: browser}, nil
}

// NewContext creates an isolated browser context with one open page.
func (e *PlaywrightEngine) NewContext(opts ContextOptions) (Context, error) {
	ctxOpts := playwright.BrowserNewContextOptions{}

	if len(opts.StorageState) > 0 {
		// playwright-go consumes storage state from a file.
		tmp, err := os.CreateTemp("", "storage-state-*.json")
		if err != nil {
			return nil, fmt.Errorf("failed to stage storage state: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(opts.StorageState); err != nil {
			tmp.Close()
			return nil, fmt.Errorf("failed to stage storage state: %w", err)
		}
		tmp.Close()
		ctxOpts.StorageStatePath = playwright.String(tmp.Name())
	}

	if opts.RecordHARPath != "" {
		ctxOpts.RecordHarPath = playwright.String(opts.RecordHARPath)
		switch strings.ToLower(opts.RecordHARContent) {
		case "embed":
			ctxOpts.RecordHarContent = playwright.HarContentPolicyEmbed
		case "attach":
			ctxOpts.RecordHarContent = playwright.HarContentPolicyAttach
		case "", "omit":
			ctxOpts.RecordHarContent = playwright.HarContentPolicyOmit
		}
	}

	if opts.RecordVideoDir != "" {
		if err := os.MkdirAll(opts.RecordVideoDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create video directory: %w", err)
		}
		ctxOpts.RecordVideo = &playwright.RecordVideo{Dir: opts.RecordVideoDir}
	}

	bctx, err := e.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &pwContext{ctx: bctx, page: &pwPage{page: page}}, nil
}

// Close shuts the browser and the Playwright driver down.
func (e *PlaywrightEngine) Close() error {
	var firstErr error
	if err := e.browser.Close(); err != nil {
		firstErr = err
	}
	if err := e.pw.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type pwContext struct {
	ctx  playwright.BrowserContext
	page *pwPage
}

func (c *pwContext) Page() Page { return c.page }

func (c *pwContext) Cookies() ([]Cookie, error) {
	raw, err := c.ctx.Cookies()
	if err != nil {
		return nil, err
	}
	var cookies []Cookie
	if err := remarshal(raw, &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}

func (c *pwContext) AddCookies(cookies []Cookie) error {
	var converted []playwright.OptionalCookie
	if err := remarshal(cookies, &converted); err != nil {
		return err
	}
	return c.ctx.AddCookies(converted)
}

func (c *pwContext) ClearCookies() error {
	return c.ctx.ClearCookies()
}

func (c *pwContext) StorageState() ([]byte, error) {
	state, err := c.ctx.StorageState()
	if err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

func (c *pwContext) StartTracing(opts TracingOptions) error {
	return c.ctx.Tracing().Start(playwright.TracingStartOptions{
		Screenshots: playwright.Bool(opts.Screenshots),
		Snapshots:   playwright.Bool(opts.Snapshots),
		Sources:     playwright.Bool(opts.Sources),
	})
}

func (c *pwContext) StopTracing(path string) error {
	return c.ctx.Tracing().Stop(path)
}

// Reset clears cookies and storage and leaves a single blank page, so the
// context can be handed to another session.
func (c *pwContext) Reset() error {
	if err := c.ctx.ClearCookies(); err != nil {
		return err
	}
	pages := c.ctx.Pages()
	for i, page := range pages {
		// Storage clears can fail on about:blank or opaque origins.
		page.Evaluate("localStorage.clear(); sessionStorage.clear();")
		if i == 0 {
			if _, err := page.Goto("about:blank"); err != nil {
				return err
			}
			c.page.page = page
		} else {
			page.Close()
		}
	}
	return nil
}

func (c *pwContext) Close() error {
	return c.ctx.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) info() (PageInfo, error) {
	title, err := p.page.Title()
	if err != nil {
		return PageInfo{URL: p.page.URL()}, nil
	}
	return PageInfo{URL: p.page.URL(), Title: title}, nil
}

func (p *pwPage) Navigate(url string, opts NavigateOptions) (PageInfo, error) {
	gotoOpts := playwright.PageGotoOptions{}
	if state := waitUntilState(opts.WaitUntil); state != nil {
		gotoOpts.WaitUntil = state
	}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = playwright.Float(opts.Timeout)
	}
	if _, err := p.page.Goto(url, gotoOpts); err != nil {
		return PageInfo{}, err
	}
	return p.info()
}

func (p *pwPage) Reload(waitUntil string) (PageInfo, error) {
	opts := playwright.PageReloadOptions{}
	if state := waitUntilState(waitUntil); state != nil {
		opts.WaitUntil = state
	}
	if _, err := p.page.Reload(opts); err != nil {
		return PageInfo{}, err
	}
	return p.info()
}

func (p *pwPage) GoBack() (PageInfo, error) {
	if _, err := p.page.GoBack(); err != nil {
		return PageInfo{}, err
	}
	return p.info()
}

func (p *pwPage) GoForward() (PageInfo, error) {
	if _, err := p.page.GoForward(); err != nil {
		return PageInfo{}, err
	}
	return p.info()
}

func (p *pwPage) Click(selector string, opts ClickOptions) error {
	clickOpts := playwright.PageClickOptions{}
	if opts.Timeout > 0 {
		clickOpts.Timeout = playwright.Float(opts.Timeout)
	}
	if opts.ClickCount > 0 {
		clickOpts.ClickCount = playwright.Int(opts.ClickCount)
	}
	switch opts.Button {
	case "right":
		clickOpts.Button = playwright.MouseButtonRight
	case "middle":
		clickOpts.Button = playwright.MouseButtonMiddle
	case "", "left":
		clickOpts.Button = playwright.MouseButtonLeft
	}
	return p.page.Click(selector, clickOpts)
}

func (p *pwPage) Fill(selector, value string, timeout float64) error {
	opts := playwright.PageFillOptions{}
	if timeout > 0 {
		opts.Timeout = playwright.Float(timeout)
	}
	return p.page.Fill(selector, value, opts)
}

func (p *pwPage) Type(selector, text string, delay, timeout float64) error {
	opts := playwright.LocatorPressSequentiallyOptions{}
	if delay > 0 {
		opts.Delay = playwright.Float(delay)
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(timeout)
	}
	return p.page.Locator(selector).PressSequentially(text, opts)
}

func (p *pwPage) Press(selector, key string) error {
	if selector == "" {
		return p.page.Keyboard().Press(key)
	}
	return p.page.Locator(selector).Press(key)
}

func (p *pwPage) SelectOption(selector string, values SelectOptionValues) error {
	sel := playwright.SelectOptionValues{}
	if len(values.Values) > 0 {
		sel.Values = &values.Values
	}
	if len(values.Labels) > 0 {
		sel.Labels = &values.Labels
	}
	if len(values.Indexes) > 0 {
		sel.Indexes = &values.Indexes
	}
	_, err := p.page.SelectOption(selector, sel)
	return err
}

func (p *pwPage) Check(selector string) error   { return p.page.Check(selector) }
func (p *pwPage) Uncheck(selector string) error { return p.page.Uncheck(selector) }
func (p *pwPage) Hover(selector string) error   { return p.page.Hover(selector) }
func (p *pwPage) Focus(selector string) error   { return p.page.Focus(selector) }

func (p *pwPage) Evaluate(script string) (any, error) {
	return p.page.Evaluate(script)
}

func (p *pwPage) Content() (string, error) {
	return p.page.Content()
}

func (p *pwPage) Info() (PageInfo, error) {
	return p.info()
}

func (p *pwPage) GetAttribute(selector, name string) (string, error) {
	return p.page.GetAttribute(selector, name)
}

func (p *pwPage) TextContent(selector string) (string, error) {
	return p.page.TextContent(selector)
}

func (p *pwPage) InnerHTML(selector string) (string, error) {
	return p.page.InnerHTML(selector)
}

func (p *pwPage) InputValue(selector string) (string, error) {
	return p.page.InputValue(selector)
}

func (p *pwPage) IsVisible(selector string) (bool, error) {
	return p.page.IsVisible(selector)
}

func (p *pwPage) IsEnabled(selector string) (bool, error) {
	return p.page.IsEnabled(selector)
}

func (p *pwPage) IsChecked(selector string) (bool, error) {
	return p.page.IsChecked(selector)
}

func (p *pwPage) QuerySelector(selector string) (bool, error) {
	el, err := p.page.QuerySelector(selector)
	if err != nil {
		return false, err
	}
	return el != nil, nil
}

func (p *pwPage) QuerySelectorAll(selector string) (int, error) {
	els, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (p *pwPage) WaitForSelector(selector, state string, timeout float64) error {
	opts := playwright.PageWaitForSelectorOptions{}
	switch state {
	case "attached":
		opts.State = playwright.WaitForSelectorStateAttached
	case "detached":
		opts.State = playwright.WaitForSelectorStateDetached
	case "hidden":
		opts.State = playwright.WaitForSelectorStateHidden
	case "", "visible":
		opts.State = playwright.WaitForSelectorStateVisible
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(timeout)
	}
	_, err := p.page.WaitForSelector(selector, opts)
	return err
}

func (p *pwPage) WaitForURL(pattern string, timeout float64) error {
	opts := playwright.PageWaitForURLOptions{}
	if timeout > 0 {
		opts.Timeout = playwright.Float(timeout)
	}
	return p.page.WaitForURL(pattern, opts)
}

func (p *pwPage) WaitForLoadState(state string, timeout float64) error {
	opts := playwright.PageWaitForLoadStateOptions{}
	switch state {
	case "load":
		opts.State = playwright.LoadStateLoad
	case "domcontentloaded":
		opts.State = playwright.LoadStateDomcontentloaded
	case "", "networkidle":
		opts.State = playwright.LoadStateNetworkidle
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(timeout)
	}
	return p.page.WaitForLoadState(opts)
}

func (p *pwPage) SetViewportSize(width, height int) error {
	return p.page.SetViewportSize(width, height)
}

func (p *pwPage) Screenshot(fullPage bool) ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
	})
}

func (p *pwPage) OnConsole(fn func(ConsoleMessage)) {
	p.page.OnConsole(func(msg playwright.ConsoleMessage) {
		entry := ConsoleMessage{Kind: msg.Type(), Text: msg.Text()}
		if loc := msg.Location(); loc != nil {
			entry.Location = fmt.Sprintf("%s:%d", loc.URL, loc.LineNumber)
		}
		fn(entry)
	})
}

func (p *pwPage) VideoPath() (string, error) {
	video := p.page.Video()
	if video == nil {
		return "", nil
	}
	return video.Path()
}

func waitUntilState(s string) *playwright.WaitUntilState {
	switch s {
	case "load":
		return playwright.WaitUntilStateLoad
	case "domcontentloaded":
		return playwright.WaitUntilStateDomcontentloaded
	case "commit":
		return playwright.WaitUntilStateCommit
	case "networkidle":
		return playwright.WaitUntilStateNetworkidle
	}
	return nil
}

// remarshal converts between structurally-compatible types through JSON,
// keeping this adapter independent of playwright-go's exact field set.
func remarshal(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
