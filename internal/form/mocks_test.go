package form

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/FormPipe/internal/models"
)

func testTimeouts() Timeouts {
	return Timeouts{
		Poll:            time.Millisecond,
		OptionPanel:     60 * time.Millisecond,
		PanelClose:      60 * time.Millisecond,
		ToggleFlip:      20 * time.Millisecond,
		SecondaryDialog: 60 * time.Millisecond,
		DialogClose:     60 * time.Millisecond,
		Submission:      60 * time.Millisecond,
	}
}

type mockProfile struct {
	values map[string]string
	name   string
}

func (m mockProfile) Lookup(identifier string) (string, bool) {
	for k, v := range m.values {
		if SameIdentifier(k, identifier) {
			return v, true
		}
	}
	return "", false
}

func (m mockProfile) FullName() (string, bool) { return m.name, m.name != "" }

func (m mockProfile) Summary() map[string]string { return m.values }

// mockOracle returns canned answers for the requested identifiers only.
type mockOracle struct {
	mu         sync.Mutex
	answers    map[string]models.Answer
	asked      []string
	calls      int
	sequential int
}

func (m *mockOracle) ResolveBatch(ctx context.Context, fields []*models.FieldRequest, profile Profile, instructions string) map[string]models.Answer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := map[string]models.Answer{}
	for _, f := range fields {
		m.asked = append(m.asked, f.Identifier)
		if a, ok := m.answers[f.Identifier]; ok {
			out[f.Identifier] = a
		}
	}
	return out
}

func (m *mockOracle) ResolveSequential(ctx context.Context, fields []*models.FieldRequest, profile Profile, instructions string) map[string]models.Answer {
	m.mu.Lock()
	m.sequential++
	m.mu.Unlock()
	return m.ResolveBatch(ctx, fields, profile, instructions)
}

func (m *mockOracle) wasAsked(identifier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.asked {
		if id == identifier {
			return true
		}
	}
	return false
}

type mockSink struct {
	mu        sync.Mutex
	reasons   []string
	snapshots []string
}

func (m *mockSink) Snapshot(reason, markup string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
	m.snapshots = append(m.snapshots, markup)
}
