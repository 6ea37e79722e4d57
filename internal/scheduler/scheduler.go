// Package scheduler runs recurring registrations on cron schedules.
//
// Each schedule fires a task, normally one that enqueues a registration job, so the actual work
// still goes through the durable job queue.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard five-field form (min, hour, dom, month, dow) plus descriptors
// such as @hourly.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule describes one registered cron entry.
type Schedule struct {
	ID   int       `json:"id"`
	Expr string    `json:"cron"`
	Key  string    `json:"key"`
	Next time.Time `json:"next"`
}

// Scheduler provides cron-based scheduling keyed by an arbitrary string, usually the event URL.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	keys map[string]cron.EntryID
	expr map[cron.EntryID]string
}

// NewScheduler creates and starts a cron scheduler. Panicking tasks are recovered.
func NewScheduler() *Scheduler {
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, keys: map[string]cron.EntryID{}, expr: map[cron.EntryID]string{}}
}

// Validate reports whether expr is a valid schedule.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// AddJob schedules task under key. A key that is already scheduled is replaced.
func (s *Scheduler) AddJob(key, expr string, task func()) (Schedule, error) {
	if err := Validate(expr); err != nil {
		return Schedule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.keys[key]; ok {
		s.cron.Remove(old)
		delete(s.expr, old)
	}
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return Schedule{}, fmt.Errorf("add cron job: %w", err)
	}
	s.keys[key] = id
	s.expr[id] = expr
	slog.Info("Scheduler.AddJob: scheduled", "key", key, "cron", expr, "id", id)
	return s.describe(key, id), nil
}

// Remove cancels the schedule for key. It reports whether one existed.
func (s *Scheduler) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[key]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.keys, key)
	delete(s.expr, id)
	return true
}

// Schedules lists the active schedules.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.keys))
	for key, id := range s.keys {
		out = append(out, s.describe(key, id))
	}
	return out
}

func (s *Scheduler) describe(key string, id cron.EntryID) Schedule {
	return Schedule{ID: int(id), Expr: s.expr[id], Key: key, Next: s.cron.Entry(id).Next}
}

// Stop stops the cron scheduler and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
