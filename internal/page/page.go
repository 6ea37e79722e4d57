// Package page defines the rendered-page capability set the form engine drives.
//
// The engine never talks to a browser library directly. Backends (go-rod, playwright) and the
// HTML-backed fake used in tests implement Page and Element.
package page

import (
	"context"
	"errors"
	"time"
)

// Default wait bounds for page interactions.
const (
	// DefaultPollInterval is how often wait helpers re-check the page.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultNavigationTimeout bounds a full page navigation.
	DefaultNavigationTimeout = 30 * time.Second
	// DefaultActionTimeout bounds a single click, fill or select.
	DefaultActionTimeout = 10 * time.Second
)

var (
	// ErrTimeout is returned when a wait bound elapses before the page reaches the expected state.
	ErrTimeout = errors.New("page: wait timed out")
	// ErrDetached is returned when an element handle no longer refers to a node in the document.
	ErrDetached = errors.New("page: element detached")
	// ErrNoParent is returned when an element has no parent or sibling in the requested direction.
	ErrNoParent = errors.New("page: no such relative")
)

// Element is an opaque handle to one node of the rendered document. Handles captured before a
// suspension point (page wait, oracle call) may be stale; callers re-resolve instead of trusting them.
type Element interface {
	// Query returns descendants matching a CSS selector, in document order.
	Query(ctx context.Context, selector string) ([]Element, error)
	// Parent returns the parent element.
	Parent(ctx context.Context) (Element, error)
	// Next returns the next element sibling.
	Next(ctx context.Context) (Element, error)
	// Matches reports whether the element matches a CSS selector.
	Matches(ctx context.Context, selector string) (bool, error)
	// Key returns an identity that is stable for the lifetime of the node.
	Key(ctx context.Context) (string, error)
	// TagName returns the lower-case tag name.
	TagName(ctx context.Context) (string, error)
	// Text returns the rendered text content.
	Text(ctx context.Context) (string, error)
	// Attribute returns an attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Checked reports the checked state of a checkbox-like control.
	Checked(ctx context.Context) (bool, error)
	// Visible reports whether the element is rendered and visible.
	Visible(ctx context.Context) (bool, error)
	// Click performs a left click on the element.
	Click(ctx context.Context) error
	// Fill clears the control and writes value into it.
	Fill(ctx context.Context, value string) error
	// SelectOption selects the options of a native select whose labels equal labels. A multiple
	// select keeps every listed option selected.
	SelectOption(ctx context.Context, labels ...string) error
	// WaitHidden waits until the element is hidden or detached.
	WaitHidden(ctx context.Context, timeout time.Duration) error
	// HTML returns the outer markup of the element.
	HTML(ctx context.Context) (string, error)
}

// Page is a single rendered document owned by one flow.
type Page interface {
	// Navigate loads url and waits for the document to settle.
	Navigate(ctx context.Context, url string) error
	// Query returns elements in the whole document matching a CSS selector.
	Query(ctx context.Context, selector string) ([]Element, error)
	// WaitVisible waits for the first visible element matching selector.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// WaitHidden waits until no visible element matches selector.
	WaitHidden(ctx context.Context, selector string, timeout time.Duration) error
	// ClickAt clicks at viewport coordinates, used to dismiss overlays.
	ClickAt(ctx context.Context, x, y float64) error
	// HTML dumps the full document markup.
	HTML(ctx context.Context) (string, error)
	// Close releases the page.
	Close() error
}

// Backend opens pages. Each independent flow owns its own page.
type Backend interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// VisibleOnly filters elements down to the visible ones, skipping elements whose visibility
// cannot be read.
func VisibleOnly(ctx context.Context, elements []Element) []Element {
	visible := make([]Element, 0, len(elements))
	for _, el := range elements {
		ok, err := el.Visible(ctx)
		if err != nil || !ok {
			continue
		}
		visible = append(visible, el)
	}
	return visible
}

// WaitUntil polls cond every interval until it reports true, the timeout elapses, or ctx is done.
// Errors from cond are treated as "not yet".
func WaitUntil(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		if ok, err := cond(); err == nil && ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		wait := interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// FirstVisible returns the first visible element matching selector on p.
func FirstVisible(ctx context.Context, p interface {
	Query(ctx context.Context, selector string) ([]Element, error)
}, selector string) (Element, bool) {
	elements, err := p.Query(ctx, selector)
	if err != nil {
		return nil, false
	}
	visible := VisibleOnly(ctx, elements)
	if len(visible) == 0 {
		return nil, false
	}
	return visible[0], true
}
