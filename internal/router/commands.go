package router

import (
	"encoding/base64"
	"encoding/json"

	"github.com/browsergate/browsergate/internal/engine"
	"github.com/browsergate/browsergate/internal/registry"
	"github.com/browsergate/browsergate/pkg/models"
)

func (r *Router) registerHandlers() {
	r.control = map[string]func(env models.Envelope, implicit ImplicitSession, args Args) (any, error){
		"create_session": r.handleCreateSession,
		"list_sessions":  r.handleListSessions,
		"close_session":  r.handleCloseSession,
		"health":         r.handleHealth,
		"event_stream":   r.handleEventStream,
		"list_artifacts": r.handleListArtifacts,
		"get_artifact":   r.handleGetArtifact,
	}

	r.session = map[string]handlerFunc{
		"navigate":             r.cmdNavigate,
		"reload":               r.cmdReload,
		"go_back":              r.cmdGoBack,
		"go_forward":           r.cmdGoForward,
		"click":                r.cmdClick,
		"fill":                 r.cmdFill,
		"type":                 r.cmdType,
		"press":                r.cmdPress,
		"select_option":        r.cmdSelectOption,
		"check":                r.cmdCheck,
		"uncheck":              r.cmdUncheck,
		"hover":                r.cmdHover,
		"focus":                r.cmdFocus,
		"evaluate":             r.cmdEvaluate,
		"get_content":          r.cmdGetContent,
		"get_url":              r.cmdGetURL,
		"get_attribute":        r.cmdGetAttribute,
		"get_text":             r.cmdGetText,
		"get_inner_html":       r.cmdGetInnerHTML,
		"get_input_value":      r.cmdGetInputValue,
		"is_visible":           r.cmdIsVisible,
		"is_enabled":           r.cmdIsEnabled,
		"is_checked":           r.cmdIsChecked,
		"query_selector":       r.cmdQuerySelector,
		"query_selector_all":   r.cmdQuerySelectorAll,
		"wait_for_selector":    r.cmdWaitForSelector,
		"wait_for_url":         r.cmdWaitForURL,
		"wait_for_load_state":  r.cmdWaitForLoadState,
		"set_viewport_size":    r.cmdSetViewportSize,
		"screenshot":           r.cmdScreenshot,
		"start_tracing":        r.cmdStartTracing,
		"stop_tracing":         r.cmdStopTracing,
		"get_video_path":       r.cmdGetVideoPath,
		"cookies":              r.cmdCookies,
		"set_cookies":          r.cmdSetCookies,
		"clear_cookies":        r.cmdClearCookies,
		"export_storage_state": r.cmdExportStorageState,
		"import_storage_state": r.cmdImportStorageState,
		"get_console_logs":     r.cmdGetConsoleLogs,
		"clear_console_logs":   r.cmdClearConsoleLogs,
		"export_console_logs":  r.cmdExportConsoleLogs,
	}
}

// --- control commands -------------------------------------------------------

func (r *Router) handleCreateSession(_ models.Envelope, _ ImplicitSession, args Args) (any, error) {
	opts := registry.CreateOptions{}
	var err error
	if opts.SessionID, err = args.str("session_id", ""); err != nil {
		return nil, err
	}
	if opts.WorkspaceID, err = args.str("workspace_id", ""); err != nil {
		return nil, err
	}
	if opts.UserID, err = args.str("user_id", ""); err != nil {
		return nil, err
	}
	if opts.Label, err = args.str("label", ""); err != nil {
		return nil, err
	}
	if opts.RecordHAR, err = args.booleanPtr("record_har"); err != nil {
		return nil, err
	}
	if opts.HARContent, err = args.str("har_content", ""); err != nil {
		return nil, err
	}
	if opts.HARPath, err = args.str("har_path", ""); err != nil {
		return nil, err
	}

	s, err := r.registry.Create(opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id":    s.ID(),
		"workspace_id":  s.Workspace().ID,
		"workspace_dir": s.Workspace().Dir,
		"artifacts_dir": s.Workspace().ArtifactDir,
		"har_enabled":   s.HAREnabled(),
		"har_path":      s.HARPath(),
	}, nil
}

func (r *Router) handleListSessions(_ models.Envelope, _ ImplicitSession, _ Args) (any, error) {
	return map[string]any{"sessions": r.registry.List()}, nil
}

func (r *Router) handleCloseSession(env models.Envelope, implicit ImplicitSession, _ Args) (any, error) {
	s, err := r.target(env, implicit)
	if err != nil {
		return nil, err
	}
	if err := r.registry.Close(s.ID()); err != nil {
		return nil, err
	}
	return map[string]any{"closed": s.ID()}, nil
}

func (r *Router) handleHealth(env models.Envelope, _ ImplicitSession, _ Args) (any, error) {
	// A health probe aimed at a specific session verifies that the session
	// still exists.
	if env.SessionID != "" {
		if _, err := r.registry.Resolve(env.SessionID); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"status":                 "healthy",
		"sessions":               r.registry.Count(),
		"max_sessions":           r.registry.MaxSessions(),
		"browser":                r.cfg.Browser,
		"headless":               r.cfg.Headless,
		"pool_enabled":           r.pool.Enabled(),
		"pool_size":              r.pool.FreeSlots(),
		"artifact_root":          r.cfg.ArtifactRoot,
		"har_enabled":            r.cfg.HAREnabled,
		"har_content":            r.cfg.HARContent,
		"console_stream_enabled": r.cfg.ConsoleStreamEnabled,
		"artifact_http_enabled":  r.cfg.ArtifactHTTPEnabled,
		"artifact_http_host":     r.cfg.ArtifactHTTPHost,
		"artifact_http_port":     r.cfg.ArtifactHTTPPort,
	}, nil
}

func (r *Router) handleEventStream(env models.Envelope, implicit ImplicitSession, args Args) (any, error) {
	enabled, err := args.boolean("enabled", true)
	if err != nil {
		return nil, err
	}
	s, err := r.target(env, implicit)
	if err != nil {
		return nil, err
	}
	s.SetEventStream(enabled)
	return map[string]any{"enabled": enabled}, nil
}

func (r *Router) handleListArtifacts(env models.Envelope, implicit ImplicitSession, _ Args) (any, error) {
	s, err := r.target(env, implicit)
	if err != nil {
		return nil, err
	}
	s.Touch()
	refs, err := r.artifacts.List(s.Workspace().ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"artifacts": refs}, nil
}

// handleGetArtifact returns artifact bytes inline, base64-encoded and
// truncated at the configured cap. Larger artifacts should be fetched over
// the artifact HTTP endpoint instead.
func (r *Router) handleGetArtifact(env models.Envelope, implicit ImplicitSession, args Args) (any, error) {
	rel, err := args.requiredStr("path")
	if err != nil {
		return nil, err
	}
	s, err := r.target(env, implicit)
	if err != nil {
		return nil, err
	}
	s.Touch()

	data, ref, err := r.artifacts.Fetch(s.Workspace().ID, rel)
	if err != nil {
		return nil, err
	}

	truncated := false
	if int64(len(data)) > r.artifacts.MaxBytes() {
		data = data[:r.artifacts.MaxBytes()]
		truncated = true
	}

	result := map[string]any{
		"path":           ref.Path,
		"size":           ref.Size,
		"truncated":      truncated,
		"content_base64": base64.StdEncoding.EncodeToString(data),
	}
	if ref.HTTPURL != "" {
		result["http_url"] = ref.HTTPURL
	}
	return result, nil
}

// --- navigation -------------------------------------------------------------

func (r *Router) cmdNavigate(args Args) (pageAction, error) {
	url, err := args.requiredStr("url")
	if err != nil {
		return nil, err
	}
	waitUntil, err := args.str("wait_until", "networkidle")
	if err != nil {
		return nil, err
	}
	timeout, err := args.number("timeout", 30000)
	if err != nil {
		return nil, err
	}

	return func(s *registry.Session) (any, error) {
		info, err := s.Page().Navigate(url, engine.NavigateOptions{WaitUntil: waitUntil, Timeout: timeout})
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"url": info.URL, "title": info.Title}, nil
	}, nil
}

func (r *Router) cmdReload(args Args) (pageAction, error) {
	waitUntil, err := args.str("wait_until", "networkidle")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		info, err := s.Page().Reload(waitUntil)
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"url": info.URL}, nil
	}, nil
}

func (r *Router) cmdGoBack(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		info, err := s.Page().GoBack()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"url": info.URL}, nil
	}, nil
}

func (r *Router) cmdGoForward(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		info, err := s.Page().GoForward()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"url": info.URL}, nil
	}, nil
}

// --- interaction ------------------------------------------------------------

func (r *Router) cmdClick(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	timeout, err := args.number("timeout", 10000)
	if err != nil {
		return nil, err
	}
	button, err := args.str("button", "left")
	if err != nil {
		return nil, err
	}
	clickCount, err := args.integer("click_count", 1)
	if err != nil {
		return nil, err
	}

	return func(s *registry.Session) (any, error) {
		if err := s.Page().Click(selector, engine.ClickOptions{
			Button:     button,
			ClickCount: clickCount,
			Timeout:    timeout,
		}); err != nil {
			return nil, engineErr(err)
		}
		return r.selectorResult(s, "clicked", selector)
	}, nil
}

func (r *Router) cmdFill(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	value, err := args.str("value", "")
	if err != nil {
		return nil, err
	}
	timeout, err := args.number("timeout", 10000)
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Page().Fill(selector, value, timeout); err != nil {
			return nil, engineErr(err)
		}
		return r.selectorResult(s, "filled", selector)
	}, nil
}

func (r *Router) cmdType(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	text, err := args.str("text", "")
	if err != nil {
		return nil, err
	}
	delay, err := args.number("delay", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := args.number("timeout", 10000)
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Page().Type(selector, text, delay, timeout); err != nil {
			return nil, engineErr(err)
		}
		return r.selectorResult(s, "typed", selector)
	}, nil
}

func (r *Router) cmdPress(args Args) (pageAction, error) {
	key, err := args.requiredStr("key")
	if err != nil {
		return nil, err
	}
	selector, err := args.str("selector", "")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Page().Press(selector, key); err != nil {
			return nil, engineErr(err)
		}
		return r.selectorResult(s, "pressed", key)
	}, nil
}

func (r *Router) cmdSelectOption(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	values := engine.SelectOptionValues{}
	switch {
	case args.has("value"):
		if values.Values, err = stringsArg(args, "value"); err != nil {
			return nil, err
		}
	case args.has("label"):
		if values.Labels, err = stringsArg(args, "label"); err != nil {
			return nil, err
		}
	case args.has("index"):
		if values.Indexes, err = intsArg(args, "index"); err != nil {
			return nil, err
		}
	default:
		return nil, models.NewError(models.CodeInvalidArgument, "value, label, or index is required")
	}

	return func(s *registry.Session) (any, error) {
		if err := s.Page().SelectOption(selector, values); err != nil {
			return nil, engineErr(err)
		}
		return r.selectorResult(s, "selected", selector)
	}, nil
}

func (r *Router) cmdCheck(args Args) (pageAction, error) {
	return r.selectorAction(args, "checked", engine.Page.Check)
}

func (r *Router) cmdUncheck(args Args) (pageAction, error) {
	return r.selectorAction(args, "unchecked", engine.Page.Uncheck)
}

func (r *Router) cmdHover(args Args) (pageAction, error) {
	return r.selectorAction(args, "hovered", engine.Page.Hover)
}

func (r *Router) cmdFocus(args Args) (pageAction, error) {
	return r.selectorAction(args, "focused", engine.Page.Focus)
}

// selectorAction decodes a plain selector-only page action and reports it
// under key, the command vocabulary's past-tense result field.
func (r *Router) selectorAction(args Args, key string, fn func(engine.Page, string) error) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := fn(s.Page(), selector); err != nil {
			return nil, engineErr(err)
		}
		return r.selectorResult(s, key, selector)
	}, nil
}

func (r *Router) selectorResult(s *registry.Session, key, selector string) (any, error) {
	info, err := s.Page().Info()
	if err != nil {
		return nil, engineErr(err)
	}
	return map[string]any{key: selector, "url": info.URL}, nil
}

// --- inspection -------------------------------------------------------------

func (r *Router) cmdEvaluate(args Args) (pageAction, error) {
	script, err := args.requiredStr("script")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		result, err := s.Page().Evaluate(script)
		if err != nil {
			return nil, engineErr(err)
		}
		info, err := s.Page().Info()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"result": result, "url": info.URL}, nil
	}, nil
}

func (r *Router) cmdGetContent(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		content, err := s.Page().Content()
		if err != nil {
			return nil, engineErr(err)
		}
		info, err := s.Page().Info()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"content": content, "url": info.URL, "title": info.Title}, nil
	}, nil
}

func (r *Router) cmdGetURL(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		info, err := s.Page().Info()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"url": info.URL, "title": info.Title}, nil
	}, nil
}

func (r *Router) cmdGetAttribute(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	name, err := args.requiredStr("name")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		value, err := s.Page().GetAttribute(selector, name)
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"selector": selector, "attribute": name, "value": value}, nil
	}, nil
}

func (r *Router) cmdGetText(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		text, err := s.Page().TextContent(selector)
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"selector": selector, "text": text}, nil
	}, nil
}

func (r *Router) cmdGetInnerHTML(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		html, err := s.Page().InnerHTML(selector)
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"selector": selector, "html": html}, nil
	}, nil
}

func (r *Router) cmdGetInputValue(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		value, err := s.Page().InputValue(selector)
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"selector": selector, "value": value}, nil
	}, nil
}

func (r *Router) cmdIsVisible(args Args) (pageAction, error) {
	return r.selectorProbe(args, "visible", engine.Page.IsVisible)
}

func (r *Router) cmdIsEnabled(args Args) (pageAction, error) {
	return r.selectorProbe(args, "enabled", engine.Page.IsEnabled)
}

func (r *Router) cmdIsChecked(args Args) (pageAction, error) {
	return r.selectorProbe(args, "checked", engine.Page.IsChecked)
}

func (r *Router) cmdQuerySelector(args Args) (pageAction, error) {
	return r.selectorProbe(args, "found", engine.Page.QuerySelector)
}

func (r *Router) selectorProbe(args Args, key string, fn func(engine.Page, string) (bool, error)) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		v, err := fn(s.Page(), selector)
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"selector": selector, key: v}, nil
	}, nil
}

func (r *Router) cmdQuerySelectorAll(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		count, err := s.Page().QuerySelectorAll(selector)
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"selector": selector, "count": count}, nil
	}, nil
}

// --- waiting ----------------------------------------------------------------

func (r *Router) cmdWaitForSelector(args Args) (pageAction, error) {
	selector, err := args.requiredStr("selector")
	if err != nil {
		return nil, err
	}
	state, err := args.str("state", "visible")
	if err != nil {
		return nil, err
	}
	timeout, err := args.number("timeout", 30000)
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Page().WaitForSelector(selector, state, timeout); err != nil {
			return nil, engineErr(err)
		}
		return r.selectorResult(s, "found", selector)
	}, nil
}

func (r *Router) cmdWaitForURL(args Args) (pageAction, error) {
	pattern, err := args.requiredStr("url")
	if err != nil {
		return nil, err
	}
	timeout, err := args.number("timeout", 30000)
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Page().WaitForURL(pattern, timeout); err != nil {
			return nil, engineErr(err)
		}
		info, err := s.Page().Info()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"url": info.URL}, nil
	}, nil
}

func (r *Router) cmdWaitForLoadState(args Args) (pageAction, error) {
	state, err := args.str("state", "networkidle")
	if err != nil {
		return nil, err
	}
	timeout, err := args.number("timeout", 30000)
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Page().WaitForLoadState(state, timeout); err != nil {
			return nil, engineErr(err)
		}
		info, err := s.Page().Info()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"state": state, "url": info.URL}, nil
	}, nil
}

// --- page setup and capture -------------------------------------------------

func (r *Router) cmdSetViewportSize(args Args) (pageAction, error) {
	width, err := args.integer("width", 1280)
	if err != nil {
		return nil, err
	}
	height, err := args.integer("height", 720)
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Page().SetViewportSize(width, height); err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"width": width, "height": height}, nil
	}, nil
}

func (r *Router) cmdScreenshot(args Args) (pageAction, error) {
	name, err := args.str("path", "")
	if err != nil {
		return nil, err
	}
	fullPage, err := args.boolean("full_page", true)
	if err != nil {
		return nil, err
	}

	return func(s *registry.Session) (any, error) {
		data, err := s.Page().Screenshot(fullPage)
		if err != nil {
			return nil, engineErr(err)
		}
		ref, err := r.artifacts.Store(s.Workspace().ID, models.ArtifactScreenshot, name, data)
		if err != nil {
			return nil, err
		}

		info, err := s.Page().Info()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"path": ref.Path, "url": info.URL, "artifact": ref}, nil
	}, nil
}

func (r *Router) cmdStartTracing(args Args) (pageAction, error) {
	opts := engine.TracingOptions{}
	var err error
	if opts.Screenshots, err = args.boolean("screenshots", true); err != nil {
		return nil, err
	}
	if opts.Snapshots, err = args.boolean("snapshots", true); err != nil {
		return nil, err
	}
	if opts.Sources, err = args.boolean("sources", true); err != nil {
		return nil, err
	}

	return func(s *registry.Session) (any, error) {
		if s.TracingActive() {
			return map[string]any{"started": false, "reason": "already_active"}, nil
		}
		if err := s.Context().StartTracing(opts); err != nil {
			return nil, engineErr(err)
		}
		s.SetTracing(true)
		return map[string]any{"started": true}, nil
	}, nil
}

func (r *Router) cmdStopTracing(args Args) (pageAction, error) {
	name, err := args.str("path", "")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if !s.TracingActive() {
			return map[string]any{"stopped": false, "reason": "not_active"}, nil
		}
		abs, rel, err := r.artifacts.PlanFile(s.Workspace().ID, name, "trace", ".zip")
		if err != nil {
			return nil, err
		}
		if err := s.Context().StopTracing(abs); err != nil {
			return nil, engineErr(err)
		}
		s.SetTracing(false)

		ref, err := r.artifacts.CommitFile(s.Workspace().ID, rel)
		if err != nil {
			return nil, err
		}
		return map[string]any{"stopped": true, "path": ref.Path, "artifact": ref}, nil
	}, nil
}

func (r *Router) cmdGetVideoPath(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		path, err := s.Page().VideoPath()
		if err != nil {
			return nil, engineErr(err)
		}
		if path == "" {
			return map[string]any{"path": nil}, nil
		}
		return map[string]any{"path": path}, nil
	}, nil
}

// --- cookies and storage ----------------------------------------------------

func (r *Router) cmdCookies(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		cookies, err := s.Context().Cookies()
		if err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"cookies": cookies}, nil
	}, nil
}

func (r *Router) cmdSetCookies(args Args) (pageAction, error) {
	var cookies []engine.Cookie
	if err := args.decode("cookies", &cookies); err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		if err := s.Context().AddCookies(cookies); err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"set": len(cookies)}, nil
	}, nil
}

func (r *Router) cmdClearCookies(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		if err := s.Context().ClearCookies(); err != nil {
			return nil, engineErr(err)
		}
		return map[string]any{"cleared": true}, nil
	}, nil
}

func (r *Router) cmdExportStorageState(args Args) (pageAction, error) {
	name, err := args.str("path", "")
	if err != nil {
		return nil, err
	}

	return func(s *registry.Session) (any, error) {
		state, err := s.Context().StorageState()
		if err != nil {
			return nil, engineErr(err)
		}

		if name != "" {
			ref, err := r.artifacts.Store(s.Workspace().ID, models.ArtifactStorageState, name, state)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": ref.Path, "artifact": ref}, nil
		}
		return map[string]any{"state": json.RawMessage(state)}, nil
	}, nil
}

// cmdImportStorageState replaces the session's context with a fresh one
// seeded from the given state. The old context is discarded, never pooled,
// and tracing restarts from scratch.
func (r *Router) cmdImportStorageState(args Args) (pageAction, error) {
	var path string
	inline := args.raw("state")
	if args.has("path") {
		p, err := args.requiredStr("path")
		if err != nil {
			return nil, err
		}
		path = p
	} else if len(inline) == 0 {
		return nil, models.NewError(models.CodeInvalidArgument, "state or path is required")
	} else if !json.Valid(inline) {
		return nil, models.NewError(models.CodeInvalidArgument, "state must be valid JSON")
	}

	return func(s *registry.Session) (any, error) {
		state := []byte(inline)
		if path != "" {
			data, _, err := r.artifacts.Fetch(s.Workspace().ID, path)
			if err != nil {
				return nil, err
			}
			if !json.Valid(data) {
				return nil, models.NewError(models.CodeInvalidArgument, "state must be valid JSON")
			}
			state = data
		}

		if err := r.registry.SwapContext(s, state); err != nil {
			return nil, err
		}
		return map[string]any{"imported": true}, nil
	}, nil
}

// --- console ----------------------------------------------------------------

func (r *Router) cmdGetConsoleLogs(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		return map[string]any{"logs": s.ConsoleLogs()}, nil
	}, nil
}

func (r *Router) cmdClearConsoleLogs(_ Args) (pageAction, error) {
	return func(s *registry.Session) (any, error) {
		s.ClearConsoleLogs()
		return map[string]any{"cleared": true}, nil
	}, nil
}

func (r *Router) cmdExportConsoleLogs(args Args) (pageAction, error) {
	name, err := args.str("path", "")
	if err != nil {
		return nil, err
	}
	return func(s *registry.Session) (any, error) {
		logs := s.ConsoleLogs()
		data, err := json.MarshalIndent(logs, "", "  ")
		if err != nil {
			return nil, err
		}
		ref, err := r.artifacts.Store(s.Workspace().ID, models.ArtifactConsoleLog, name, data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": ref.Path, "count": len(logs), "artifact": ref}, nil
	}, nil
}

// --- argument helpers -------------------------------------------------------

// stringsArg accepts either a single string or an array of strings.
func stringsArg(a Args, key string) ([]string, error) {
	raw := a.raw(key)
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, models.NewError(models.CodeInvalidArgument, "%s must be a string or array of strings", key)
}

// intsArg accepts either a single number or an array of numbers.
func intsArg(a Args, key string) ([]int, error) {
	raw := a.raw(key)
	var one int
	if err := json.Unmarshal(raw, &one); err == nil {
		return []int{one}, nil
	}
	var many []int
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, models.NewError(models.CodeInvalidArgument, "%s must be a number or array of numbers", key)
}
