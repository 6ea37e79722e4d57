// Package pagetest provides an HTML-backed fake of the page capability set for engine tests.
//
// Markup is parsed with golang.org/x/net/html and interactions are simulated with a few data
// attributes:
//
//	data-opens="id"     clicking the element shows #id
//	data-toggles="id"   clicking the element toggles #id
//	data-closes="id"    clicking the element hides #id
//	data-for="id"       on a [role=listbox]: clicking one of its options sets #id's data-value
//	data-multi          on a [role=listbox]: the panel stays open after an option click
//	data-stubborn       on a checkbox: clicks never flip its state
//
// Outside clicks (ClickAt) hide every visible [role=listbox].
package pagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/BTreeMap/FormPipe/internal/page"
)

// ClickHook lets a test react to a click before the default behaviour runs. Returning true
// suppresses the default behaviour.
type ClickHook func(p *Page, el *Element) bool

// Page is a fake page.Page over a parsed document.
type Page struct {
	mu       sync.Mutex
	root     *html.Node
	hooks    []ClickHook
	URL      string
	Clicks   []string // outer-tag descriptions of clicked elements, in order
	Outside  int      // number of ClickAt calls
	Closed   bool
	FailHTML bool
}

// Element is a fake page.Element.
type Element struct {
	p *Page
	n *html.Node
}

var (
	_ page.Page    = (*Page)(nil)
	_ page.Element = (*Element)(nil)
)

// New parses markup into a fake page. It panics on malformed input since markup is test data.
func New(markup string) *Page {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		panic(fmt.Sprintf("pagetest: parse markup: %v", err))
	}
	return &Page{root: root}
}

// OnClick registers a click hook.
func (p *Page) OnClick(h ClickHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, h)
}

// MustFind returns the first element matching selector or panics.
func (p *Page) MustFind(selector string) *Element {
	els, err := p.Query(context.Background(), selector)
	if err != nil || len(els) == 0 {
		panic(fmt.Sprintf("pagetest: no element matches %q", selector))
	}
	return els[0].(*Element)
}

// Node exposes the underlying node for assertions.
func (e *Element) Node() *html.Node { return e.n }

// Attr returns an attribute of the element for assertions.
func (e *Element) Attr(name string) string {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	v, _ := attr(e.n, name)
	return v
}

// Show removes the hidden attribute of the element.
func (e *Element) Show() {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	removeAttr(e.n, "hidden")
}

// Hide sets the hidden attribute of the element.
func (e *Element) Hide() {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	setAttr(e.n, "hidden", "")
}

// Navigate records the url.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URL = url
	return nil
}

// Query returns matching elements in document order.
func (p *Page) Query(ctx context.Context, selector string) ([]page.Element, error) {
	return p.query(p.root, selector)
}

func (p *Page) query(from *html.Node, selector string) ([]page.Element, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []page.Element
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if sel.match(c) {
				out = append(out, &Element{p: p, n: c})
			}
			walk(c)
		}
	}
	walk(from)
	return out, nil
}

// WaitVisible polls for the first visible match.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (page.Element, error) {
	var found page.Element
	err := page.WaitUntil(ctx, timeout, time.Millisecond, func() (bool, error) {
		el, ok := page.FirstVisible(ctx, p, selector)
		found = el
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// WaitHidden polls until nothing visible matches.
func (p *Page) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	return page.WaitUntil(ctx, timeout, time.Millisecond, func() (bool, error) {
		_, ok := page.FirstVisible(ctx, p, selector)
		return !ok, nil
	})
}

// ClickAt simulates an outside click: open listboxes close.
func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	boxes, err := p.Query(ctx, `[role="listbox"]`)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Outside++
	for _, b := range boxes {
		setAttr(b.(*Element).n, "hidden", "")
	}
	return nil
}

// HTML renders the document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailHTML {
		return "", errors.New("pagetest: html dump failed")
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, p.root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Close marks the page closed.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

func (p *Page) byID(id string) *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if v, ok := attr(c, "id"); ok && v == id && c.Type == html.ElementNode {
				found = c
				return
			}
			walk(c)
		}
	}
	walk(p.root)
	return found
}

func (e *Element) Query(ctx context.Context, selector string) ([]page.Element, error) {
	return e.p.query(e.n, selector)
}

func (e *Element) Parent(ctx context.Context) (page.Element, error) {
	for n := e.n.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			return &Element{p: e.p, n: n}, nil
		}
	}
	return nil, page.ErrNoParent
}

func (e *Element) Next(ctx context.Context) (page.Element, error) {
	for n := e.n.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode {
			return &Element{p: e.p, n: n}, nil
		}
	}
	return nil, page.ErrNoParent
}

func (e *Element) Matches(ctx context.Context, selector string) (bool, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return false, err
	}
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	return sel.match(e.n), nil
}

func (e *Element) Key(ctx context.Context) (string, error) {
	return fmt.Sprintf("%p", e.n), nil
}

func (e *Element) TagName(ctx context.Context) (string, error) {
	return e.n.Data, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				sb.WriteString(c.Data)
			case c.Type == html.ElementNode && (c.Data == "select" || c.Data == "script" || c.Data == "style"):
			default:
				walk(c)
			}
		}
	}
	walk(e.n)
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	v, ok := attr(e.n, name)
	return v, ok, nil
}

func (e *Element) Checked(ctx context.Context) (bool, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if v, ok := attr(e.n, "aria-checked"); ok {
		return v == "true", nil
	}
	_, ok := attr(e.n, "checked")
	return ok, nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if !attached(e.p.root, e.n) {
		return false, page.ErrDetached
	}
	if t, _ := attr(e.n, "type"); e.n.Data == "input" && t == "hidden" {
		return false, nil
	}
	for n := e.n; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if _, ok := attr(n, "hidden"); ok {
			return false, nil
		}
		style, _ := attr(n, "style")
		if strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
			return false, nil
		}
	}
	return true, nil
}

func attached(root, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

// Click runs hooks, then the default behaviour.
func (e *Element) Click(ctx context.Context) error {
	visible, err := e.Visible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("pagetest: element <%s> is not visible", e.n.Data)
	}

	e.p.mu.Lock()
	e.p.Clicks = append(e.p.Clicks, describe(e.n))
	hooks := append([]ClickHook(nil), e.p.hooks...)
	e.p.mu.Unlock()

	for _, h := range hooks {
		if h(e.p, e) {
			return nil
		}
	}

	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	e.p.defaultClick(e.n)
	return nil
}

func (p *Page) defaultClick(n *html.Node) {
	if id, ok := attr(n, "data-opens"); ok {
		if target := p.byID(id); target != nil {
			removeAttr(target, "hidden")
		}
	}
	if id, ok := attr(n, "data-closes"); ok {
		if target := p.byID(id); target != nil {
			setAttr(target, "hidden", "")
		}
	}
	if id, ok := attr(n, "data-toggles"); ok {
		if target := p.byID(id); target != nil {
			if _, hidden := attr(target, "hidden"); hidden {
				removeAttr(target, "hidden")
			} else {
				setAttr(target, "hidden", "")
			}
		}
	}

	switch {
	case isCheckbox(n):
		if _, stubborn := attr(n, "data-stubborn"); stubborn {
			return
		}
		toggleChecked(n)
	case n.Data == "label":
		if id, ok := attr(n, "for"); ok {
			if target := p.byID(id); target != nil {
				p.defaultClick(target)
			}
			return
		}
		if inner := firstDescendant(n, isCheckbox); inner != nil {
			p.defaultClick(inner)
		}
	default:
		if role, _ := attr(n, "role"); role == "option" {
			p.selectOption(n)
		}
	}
}

func (p *Page) selectOption(opt *html.Node) {
	setAttr(opt, "aria-selected", "true")
	var box *html.Node
	for n := opt.Parent; n != nil; n = n.Parent {
		if role, _ := attr(n, "role"); role == "listbox" {
			box = n
			break
		}
	}
	if box == nil {
		return
	}
	text := strings.Join(strings.Fields(textOf(opt)), " ")
	if id, ok := attr(box, "data-for"); ok {
		if trigger := p.byID(id); trigger != nil {
			if _, multi := attr(box, "data-multi"); multi {
				prev, _ := attr(trigger, "data-value")
				if prev != "" {
					text = prev + "|" + text
				}
			}
			setAttr(trigger, "data-value", text)
		}
	}
	if _, multi := attr(box, "data-multi"); !multi {
		setAttr(box, "hidden", "")
	}
}

func (e *Element) Fill(ctx context.Context, value string) error {
	visible, err := e.Visible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("pagetest: element <%s> is not visible", e.n.Data)
	}
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.n.Data != "input" && e.n.Data != "textarea" {
		return fmt.Errorf("pagetest: cannot fill <%s>", e.n.Data)
	}
	setAttr(e.n, "value", value)
	return nil
}

func (e *Element) SelectOption(ctx context.Context, labels ...string) error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.n.Data != "select" {
		return fmt.Errorf("pagetest: <%s> is not a select", e.n.Data)
	}
	if len(labels) == 0 {
		return errors.New("pagetest: no option to select")
	}
	_, multiple := attr(e.n, "multiple")
	if !multiple && len(labels) > 1 {
		return fmt.Errorf("pagetest: <select> takes one option, got %d", len(labels))
	}
	var matches []*html.Node
	for _, label := range labels {
		var match *html.Node
		for c := e.n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "option" && strings.TrimSpace(textOf(c)) == label {
				match = c
			}
		}
		if match == nil {
			return fmt.Errorf("pagetest: option %q not found", label)
		}
		matches = append(matches, match)
	}
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "option" {
			removeAttr(c, "selected")
		}
	}
	for _, m := range matches {
		setAttr(m, "selected", "")
	}
	return nil
}

func (e *Element) WaitHidden(ctx context.Context, timeout time.Duration) error {
	return page.WaitUntil(ctx, timeout, time.Millisecond, func() (bool, error) {
		visible, err := e.Visible(ctx)
		if err != nil {
			return true, nil
		}
		return !visible, nil
	})
}

func (e *Element) HTML(ctx context.Context) (string, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, e.n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Value returns the value attribute, for assertions on filled inputs.
func (e *Element) Value() string {
	return e.Attr("value")
}

// SelectedOptions returns the texts of every selected option of a native select.
func (e *Element) SelectedOptions() []string {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	var out []string
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if _, ok := attr(c, "selected"); ok && c.Data == "option" {
			out = append(out, strings.TrimSpace(textOf(c)))
		}
	}
	return out
}

// SelectedOption returns the text of the selected option of a native select.
func (e *Element) SelectedOption() string {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if _, ok := attr(c, "selected"); ok && c.Data == "option" {
			return strings.TrimSpace(textOf(c))
		}
	}
	return ""
}

// IsChecked reports the checked state without a context, for assertions.
func (e *Element) IsChecked() bool {
	ok, _ := e.Checked(context.Background())
	return ok
}

// IsVisible reports visibility without a context, for assertions.
func (e *Element) IsVisible() bool {
	ok, _ := e.Visible(context.Background())
	return ok
}

func isCheckbox(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if t, _ := attr(n, "type"); n.Data == "input" && t == "checkbox" {
		return true
	}
	role, _ := attr(n, "role")
	return role == "checkbox" || role == "switch"
}

func toggleChecked(n *html.Node) {
	if v, ok := attr(n, "aria-checked"); ok {
		if v == "true" {
			setAttr(n, "aria-checked", "false")
		} else {
			setAttr(n, "aria-checked", "true")
		}
		return
	}
	if _, ok := attr(n, "checked"); ok {
		removeAttr(n, "checked")
	} else {
		setAttr(n, "checked", "")
	}
}

func firstDescendant(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if pred(c) {
			return c
		}
		if found := firstDescendant(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func describe(n *html.Node) string {
	if id, ok := attr(n, "id"); ok {
		return n.Data + "#" + id
	}
	return n.Data
}
