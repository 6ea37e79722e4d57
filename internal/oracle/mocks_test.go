package oracle

import (
	"context"
	"strings"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/genai"
)

// mockCompleter replays canned replies in order; the last one repeats.
type mockCompleter struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	messages [][]genai.Message
}

func (m *mockCompleter) Complete(ctx context.Context, messages []genai.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.messages = append(m.messages, messages)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

// blockingCompleter waits for the attempt deadline.
type blockingCompleter struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingCompleter) Complete(ctx context.Context, messages []genai.Message) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

type mockProfile map[string]string

func (m mockProfile) Lookup(identifier string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, identifier) {
			return v, true
		}
	}
	return "", false
}

func (m mockProfile) FullName() (string, bool) {
	v, ok := m["Full Name"]
	return v, ok
}

func (m mockProfile) Summary() map[string]string { return m }
