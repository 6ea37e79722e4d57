package page

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightBackend drives Chromium through playwright-go. It is an alternative to the rod backend for
// hosts where the playwright driver is already installed.
type PlaywrightBackend struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	cfg     RodOpts
}

// NewPlaywrightBackend starts the playwright driver and launches Chromium. It accepts the same
// options as the rod backend; DebuggerURL connects over CDP instead of launching.
func NewPlaywrightBackend(opts ...RodOption) (*PlaywrightBackend, error) {
	cfg := defaultRodOpts(opts...)

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	var browser playwright.Browser
	if cfg.DebuggerURL != "" {
		browser, err = pw.Chromium.ConnectOverCDP(cfg.DebuggerURL)
	} else {
		launch := playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(cfg.Headless)}
		if cfg.Bin != "" {
			launch.ExecutablePath = playwright.String(cfg.Bin)
		}
		browser, err = pw.Chromium.Launch(launch)
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	slog.Info("PlaywrightBackend.NewPlaywrightBackend: browser ready", "headless", cfg.Headless)
	return &PlaywrightBackend{pw: pw, browser: browser, cfg: cfg}, nil
}

// NewPage opens a page in a fresh context.
func (b *PlaywrightBackend) NewPage(ctx context.Context) (Page, error) {
	p, err := b.browser.NewPage(playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{Width: b.cfg.ViewportWidth, Height: b.cfg.ViewportHeight},
	})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	p.SetDefaultTimeout(float64(b.cfg.ActionTimeout.Milliseconds()))
	return &pwPage{page: p, navTimeout: b.cfg.NavigationTimeout}, nil
}

// Close shuts down the browser and the driver.
func (b *PlaywrightBackend) Close() error {
	if err := b.browser.Close(); err != nil {
		slog.Warn("PlaywrightBackend.Close: browser close failed", "error", err)
	}
	return b.pw.Stop()
}

type pwPage struct {
	page       playwright.Page
	navTimeout time.Duration
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(p.navTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *pwPage) Query(ctx context.Context, selector string) ([]Element, error) {
	return wrapLocators(p.page.Locator(selector))
}

func (p *pwPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
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

func (p *pwPage) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	return WaitUntil(ctx, timeout, DefaultPollInterval, func() (bool, error) {
		_, ok := FirstVisible(ctx, p, selector)
		return !ok, nil
	})
}

func (p *pwPage) ClickAt(ctx context.Context, x, y float64) error {
	return p.page.Mouse().Click(x, y)
}

func (p *pwPage) HTML(ctx context.Context) (string, error) {
	return p.page.Content()
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

type pwElement struct {
	loc playwright.Locator
}

func wrapLocators(loc playwright.Locator) ([]Element, error) {
	all, err := loc.All()
	if err != nil {
		return nil, fmt.Errorf("resolve locator: %w", err)
	}
	out := make([]Element, 0, len(all))
	for _, l := range all {
		out = append(out, &pwElement{loc: l})
	}
	return out, nil
}

func (e *pwElement) Query(ctx context.Context, selector string) ([]Element, error) {
	return wrapLocators(e.loc.Locator(selector))
}

func (e *pwElement) relative(xpath string) (Element, error) {
	rel := e.loc.Locator(xpath).First()
	n, err := rel.Count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoParent
	}
	return &pwElement{loc: rel}, nil
}

func (e *pwElement) Parent(ctx context.Context) (Element, error) {
	return e.relative("xpath=..")
}

func (e *pwElement) Next(ctx context.Context) (Element, error) {
	return e.relative("xpath=following-sibling::*[1]")
}

func (e *pwElement) Matches(ctx context.Context, selector string) (bool, error) {
	res, err := e.loc.Evaluate(`(el, sel) => el.matches(sel)`, selector)
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

func (e *pwElement) Key(ctx context.Context) (string, error) {
	res, err := e.loc.Evaluate(`el => el.dataset.formpipeKey || (el.dataset.formpipeKey = Math.random().toString(36).slice(2))`, nil)
	if err != nil {
		return "", fmt.Errorf("element key: %w", err)
	}
	key, _ := res.(string)
	return key, nil
}

func (e *pwElement) TagName(ctx context.Context) (string, error) {
	res, err := e.loc.Evaluate(`el => el.tagName`, nil)
	if err != nil {
		return "", err
	}
	tag, _ := res.(string)
	return strings.ToLower(tag), nil
}

func (e *pwElement) Text(ctx context.Context) (string, error) {
	return e.loc.InnerText()
}

func (e *pwElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	res, err := e.loc.Evaluate(`(el, name) => el.getAttribute(name)`, name)
	if err != nil {
		return "", false, err
	}
	val, ok := res.(string)
	return val, ok, nil
}

func (e *pwElement) Checked(ctx context.Context) (bool, error) {
	if aria, ok, err := e.Attribute(ctx, "aria-checked"); err == nil && ok {
		return aria == "true", nil
	}
	return e.loc.IsChecked()
}

func (e *pwElement) Visible(ctx context.Context) (bool, error) {
	return e.loc.IsVisible()
}

func (e *pwElement) Click(ctx context.Context) error {
	return e.loc.Click()
}

func (e *pwElement) Fill(ctx context.Context, value string) error {
	return e.loc.Fill(value)
}

func (e *pwElement) SelectOption(ctx context.Context, labels ...string) error {
	_, err := e.loc.SelectOption(playwright.SelectOptionValues{Labels: &labels})
	return err
}

func (e *pwElement) WaitHidden(ctx context.Context, timeout time.Duration) error {
	err := e.loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateHidden,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return nil
}

func (e *pwElement) HTML(ctx context.Context) (string, error) {
	res, err := e.loc.Evaluate(`el => el.outerHTML`, nil)
	if err != nil {
		return "", err
	}
	html, _ := res.(string)
	return html, nil
}
