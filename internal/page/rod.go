package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// keyScript tags a node with a random identity on first use so handles obtained through different
// queries can be compared.
const keyScript = `() => this.dataset.formpipeKey || (this.dataset.formpipeKey = Math.random().toString(36).slice(2))`

// RodOpts configures the go-rod backend.
type RodOpts struct {
	DebuggerURL       string // connect to an already running Chrome instead of launching one
	Bin               string // browser binary; empty lets the launcher download/locate one
	UserDataDir       string // persistent profile directory so login cookies survive runs
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration // bounds one click, fill or select
}

// RodOption configures the go-rod backend.
type RodOption func(*RodOpts)

// WithDebuggerURL connects to an existing DevTools endpoint instead of launching a browser.
func WithDebuggerURL(url string) RodOption {
	return func(o *RodOpts) { o.DebuggerURL = url }
}

// WithBrowserBin sets the browser binary to launch.
func WithBrowserBin(bin string) RodOption {
	return func(o *RodOpts) { o.Bin = bin }
}

// WithUserDataDir sets the browser profile directory.
func WithUserDataDir(dir string) RodOption {
	return func(o *RodOpts) { o.UserDataDir = dir }
}

// WithHeadless toggles headless mode.
func WithHeadless(headless bool) RodOption {
	return func(o *RodOpts) { o.Headless = headless }
}

// WithViewport sets the viewport size for new pages.
func WithViewport(width, height int) RodOption {
	return func(o *RodOpts) {
		o.ViewportWidth = width
		o.ViewportHeight = height
	}
}

// WithActionTimeout bounds each click, fill and select. Non-positive values keep the default.
func WithActionTimeout(d time.Duration) RodOption {
	return func(o *RodOpts) {
		if d > 0 {
			o.ActionTimeout = d
		}
	}
}

func defaultRodOpts(opts ...RodOption) RodOpts {
	cfg := RodOpts{
		Headless:          true,
		ViewportWidth:     1280,
		ViewportHeight:    900,
		NavigationTimeout: DefaultNavigationTimeout,
		ActionTimeout:     DefaultActionTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RodBackend launches or attaches to Chrome through go-rod.
type RodBackend struct {
	cfg     RodOpts
	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodBackend connects to Chrome, launching it when no debugger URL is configured.
func NewRodBackend(ctx context.Context, opts ...RodOption) (*RodBackend, error) {
	cfg := defaultRodOpts(opts...)
	slog.Debug("RodBackend.NewRodBackend: connecting", "debugger_url_set", cfg.DebuggerURL != "", "headless", cfg.Headless, "user_data_dir", cfg.UserDataDir)

	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		if cfg.UserDataDir != "" {
			l = l.UserDataDir(cfg.UserDataDir)
		}
		url, err := l.Launch()
		if err != nil {
			slog.Error("RodBackend.NewRodBackend: launch failed", "error", err)
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		slog.Error("RodBackend.NewRodBackend: connect failed", "error", err)
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	slog.Info("RodBackend.NewRodBackend: browser connected")
	return &RodBackend{cfg: cfg, browser: browser}, nil
}

// NewPage opens a blank page with the configured viewport.
func (b *RodBackend) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	browser := b.browser
	b.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	p, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.ViewportWidth,
		Height:            b.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
	}).Call(p); err != nil {
		slog.Warn("RodBackend.NewPage: failed to set viewport", "error", err)
	}
	return &rodPage{page: p, navTimeout: b.cfg.NavigationTimeout, actTimeout: b.cfg.ActionTimeout}, nil
}

// Close closes the browser connection.
func (b *RodBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration
	actTimeout time.Duration
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Query(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return wrapRod(els, p.actTimeout), nil
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	var found Element
	err := WaitUntil(ctx, timeout, DefaultPollInterval, func() (bool, error) {
		el, ok := FirstVisible(ctx, p, selector)
		if ok {
			found = el
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (p *rodPage) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	return WaitUntil(ctx, timeout, DefaultPollInterval, func() (bool, error) {
		_, ok := FirstVisible(ctx, p, selector)
		return !ok, nil
	})
}

func (p *rodPage) ClickAt(ctx context.Context, x, y float64) error {
	mouse := p.page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	return mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

type rodElement struct {
	el      *rod.Element
	timeout time.Duration
}

func newRodElement(el *rod.Element, timeout time.Duration) *rodElement {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &rodElement{el: el, timeout: timeout}
}

func wrapRod(els rod.Elements, timeout time.Duration) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, newRodElement(el, timeout))
	}
	return out
}

// act scopes an interaction to ctx and the action timeout. Rod retries clicks and inputs until the
// node is interactable, which never happens for a node covered by an overlay.
func (e *rodElement) act(ctx context.Context) *rod.Element {
	return e.el.Context(ctx).Timeout(e.timeout)
}

func (e *rodElement) Query(ctx context.Context, selector string) ([]Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return wrapRod(els, e.timeout), nil
}

func (e *rodElement) Parent(ctx context.Context) (Element, error) {
	parent, err := e.el.Context(ctx).Parent()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoParent, err)
	}
	return newRodElement(parent, e.timeout), nil
}

func (e *rodElement) Next(ctx context.Context) (Element, error) {
	next, err := e.el.Context(ctx).Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoParent, err)
	}
	return newRodElement(next, e.timeout), nil
}

func (e *rodElement) Matches(ctx context.Context, selector string) (bool, error) {
	return e.el.Context(ctx).Matches(selector)
}

func (e *rodElement) Key(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(keyScript)
	if err != nil {
		return "", fmt.Errorf("element key: %w", err)
	}
	return res.Value.Str(), nil
}

// property reads a DOM property; a missing property is JSON null.
func (e *rodElement) property(ctx context.Context, name string) (gson.JSON, error) {
	return e.el.Context(ctx).Property(name)
}

func (e *rodElement) TagName(ctx context.Context) (string, error) {
	prop, err := e.property(ctx, "tagName")
	if err != nil {
		return "", err
	}
	return strings.ToLower(prop.Str()), nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	val, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if val == nil {
		return "", false, nil
	}
	return *val, true, nil
}

func (e *rodElement) Checked(ctx context.Context) (bool, error) {
	el := e.el.Context(ctx)
	if aria, err := el.Attribute("aria-checked"); err == nil && aria != nil {
		return *aria == "true", nil
	}
	prop, err := e.property(ctx, "checked")
	if err != nil {
		return false, err
	}
	return prop.Bool(), nil
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.act(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Fill(ctx context.Context, value string) error {
	el := e.act(ctx)
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select text: %w", err)
	}
	if value == "" {
		_, err := el.Eval(`() => { this.value = ""; this.dispatchEvent(new Event("input", {bubbles: true})) }`)
		return err
	}
	return el.Input(value)
}

func (e *rodElement) SelectOption(ctx context.Context, labels ...string) error {
	return e.act(ctx).Select(labels, true, rod.SelectorTypeText)
}

func (e *rodElement) WaitHidden(ctx context.Context, timeout time.Duration) error {
	return WaitUntil(ctx, timeout, DefaultPollInterval, func() (bool, error) {
		visible, err := e.el.Context(ctx).Visible()
		if err != nil {
			// Detached nodes count as hidden.
			return true, nil
		}
		return !visible, nil
	})
}

func (e *rodElement) HTML(ctx context.Context) (string, error) {
	return e.el.Context(ctx).HTML()
}
