package pagetest

import (
	"context"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/page"
)

// Backend is a fake page.Backend. Each NewPage call builds a fresh page from Markup, or from
// MarkupFor when it is set.
type Backend struct {
	mu        sync.Mutex
	Markup    string
	MarkupFor func(n int) string // n counts pages handed out, starting at 0
	Err       error
	Pages     []*Page
	Closed    bool
}

var _ page.Backend = (*Backend)(nil)

// NewPage returns a new fake page or Err.
func (b *Backend) NewPage(ctx context.Context) (page.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	markup := b.Markup
	if b.MarkupFor != nil {
		markup = b.MarkupFor(len(b.Pages))
	}
	p := New(markup)
	b.Pages = append(b.Pages, p)
	return p, nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// Opened returns the pages handed out so far.
func (b *Backend) Opened() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.Pages...)
}
