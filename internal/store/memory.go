package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// InMemoryStore is a Backend kept in process memory. It is used for one-shot runs and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	outcomes  []models.Outcome
	snapshots []models.Snapshot
	jobs      map[string]*Job
	outbox    map[string]*OutboxMessage
	seq       int64
}

var _ Backend = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{jobs: map[string]*Job{}, outbox: map[string]*OutboxMessage{}}
}

func (s *InMemoryStore) AddOutcome(o models.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *InMemoryStore) GetOutcomes() ([]models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Outcome(nil), s.outcomes...), nil
}

func (s *InMemoryStore) GetOutcome(id string) (*models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.outcomes {
		if s.outcomes[i].ID == id {
			o := s.outcomes[i]
			return &o, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) AddSnapshot(snap models.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	snap.ID = s.seq
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	s.snapshots = append(s.snapshots, snap)
	return snap.ID, nil
}

func (s *InMemoryStore) GetSnapshots(url string) ([]models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Snapshot
	for _, sn := range s.snapshots {
		if url == "" || sn.URL == url {
			out = append(out, sn)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) EnqueueJob(spec JobSpec) (string, error) {
	spec = spec.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.DedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == spec.DedupeKey && !j.Status.IsTerminal() {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := &Job{
		ID:          "job_" + uuid.NewString(),
		Kind:        spec.Kind,
		RunAt:       spec.RunAt,
		PayloadJSON: spec.PayloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: spec.MaxAttempts,
		DedupeKey:   spec.DedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		locked := now
		j.Status, j.LockedAt, j.UpdatedAt = JobStatusRunning, &locked, now
		out = append(out, *j)
	}
	return out, nil
}

func (s *InMemoryStore) CompleteJob(id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status, j.Result, j.LockedAt, j.UpdatedAt = JobStatusDone, result, nil, time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	j.Attempt++
	j.LastError, j.LockedAt, j.UpdatedAt = errMsg, nil, time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
		return true, nil
	}
	j.Status, j.RunAt = JobStatusQueued, nextRunAt
	return false, nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && !j.Status.IsTerminal() {
		j.Status, j.LockedAt, j.UpdatedAt = JobStatusCanceled, nil, time.Now()
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status, j.LockedAt = JobStatusQueued, nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *InMemoryStore) ListJobs(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(recipient, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusFailed && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := &OutboxMessage{
		ID:          "outbox_" + uuid.NewString(),
		Recipient:   recipient,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status, m.LockedAt, m.UpdatedAt = OutboxStatusSending, &locked, now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status, m.LockedAt, m.UpdatedAt = OutboxStatusSent, nil, time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	m.Attempts++
	next := nextAttemptAt
	m.LastError, m.NextAttemptAt, m.LockedAt, m.UpdatedAt = errMsg, &next, nil, time.Now()
	m.Status = OutboxStatusQueued
	if m.Attempts >= MaxOutboxAttempts {
		m.Status = OutboxStatusFailed
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status, m.LockedAt = OutboxStatusQueued, nil
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a copy of every outbox message, oldest first.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}
