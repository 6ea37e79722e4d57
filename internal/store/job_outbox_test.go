package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRepo_EnqueueAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		runAt := time.Now().Add(time.Hour)
		id, err := b.EnqueueJob(JobSpec{Kind: JobKindRegistration, RunAt: runAt, PayloadJSON: `{"url":"https://e.example"}`})
		if err != nil {
			t.Fatalf("EnqueueJob failed: %v", err)
		}
		job, err := b.GetJob(id)
		if err != nil || job == nil {
			t.Fatalf("GetJob = %v, %v", job, err)
		}
		if job.Kind != JobKindRegistration || job.Status != JobStatusQueued {
			t.Errorf("Unexpected job %+v", job)
		}
		if job.MaxAttempts != DefaultMaxAttempts {
			t.Errorf("Expected default max attempts, got %d", job.MaxAttempts)
		}
		if job.PayloadJSON != `{"url":"https://e.example"}` {
			t.Errorf("Unexpected payload %q", job.PayloadJSON)
		}
		if missing, err := b.GetJob("job_missing"); err != nil || missing != nil {
			t.Errorf("GetJob(missing) = %v, %v", missing, err)
		}
	})
}

func TestJobRepo_DedupeKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		spec := JobSpec{Kind: JobKindRegistration, RunAt: time.Now().Add(-time.Minute), DedupeKey: "https://e.example"}
		id1, err := b.EnqueueJob(spec)
		if err != nil {
			t.Fatalf("EnqueueJob 1 failed: %v", err)
		}
		id2, err := b.EnqueueJob(spec)
		if err != nil {
			t.Fatalf("EnqueueJob 2 failed: %v", err)
		}
		if id1 != id2 {
			t.Errorf("Expected dedupe to return %q, got %q", id1, id2)
		}

		// A finished job no longer absorbs new ones.
		if _, err := b.ClaimDueJobs(time.Now(), 10); err != nil {
			t.Fatalf("ClaimDueJobs failed: %v", err)
		}
		if err := b.CompleteJob(id1, "outcome-1"); err != nil {
			t.Fatalf("CompleteJob failed: %v", err)
		}
		id3, err := b.EnqueueJob(spec)
		if err != nil {
			t.Fatalf("EnqueueJob 3 failed: %v", err)
		}
		if id3 == id1 {
			t.Error("Expected a new job after the old one completed")
		}
		done, _ := b.GetJob(id1)
		if done.Status != JobStatusDone || done.Result != "outcome-1" {
			t.Errorf("Unexpected completed job %+v", done)
		}
	})
}

func TestJobRepo_ClaimDueJobs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		if _, err := b.EnqueueJob(JobSpec{Kind: "past", RunAt: time.Now().Add(-time.Hour)}); err != nil {
			t.Fatal(err)
		}
		if _, err := b.EnqueueJob(JobSpec{Kind: "future", RunAt: time.Now().Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}
		jobs, err := b.ClaimDueJobs(time.Now(), 10)
		if err != nil {
			t.Fatalf("ClaimDueJobs failed: %v", err)
		}
		if len(jobs) != 1 || jobs[0].Kind != "past" || jobs[0].Status != JobStatusRunning {
			t.Fatalf("Unexpected claim %+v", jobs)
		}
		again, _ := b.ClaimDueJobs(time.Now(), 10)
		if len(again) != 0 {
			t.Errorf("Running job claimed twice: %+v", again)
		}
	})
}

func TestJobRepo_FailRetryAndExhaust(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		id, err := b.EnqueueJob(JobSpec{Kind: "flaky", RunAt: time.Now().Add(-time.Minute), MaxAttempts: 2})
		if err != nil {
			t.Fatal(err)
		}
		b.ClaimDueJobs(time.Now(), 10)
		next := time.Now().Add(time.Hour)
		terminal, err := b.FailJob(id, "boom", next)
		if err != nil || terminal {
			t.Fatalf("FailJob 1 = %v, %v; want retry", terminal, err)
		}
		job, _ := b.GetJob(id)
		if job.Status != JobStatusQueued || job.Attempt != 1 || job.LastError != "boom" {
			t.Errorf("Unexpected job after first failure %+v", job)
		}
		if jobs, _ := b.ClaimDueJobs(time.Now(), 10); len(jobs) != 0 {
			t.Error("Job retried before its next run time")
		}

		terminal, err = b.FailJob(id, "boom again", next)
		if err != nil || !terminal {
			t.Fatalf("FailJob 2 = %v, %v; want terminal", terminal, err)
		}
		job, _ = b.GetJob(id)
		if job.Status != JobStatusFailed {
			t.Errorf("Expected failed, got %q", job.Status)
		}
	})
}

func TestJobRepo_CancelAndList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		id, _ := b.EnqueueJob(JobSpec{Kind: "a", RunAt: time.Now().Add(time.Hour)})
		time.Sleep(2 * time.Millisecond)
		id2, _ := b.EnqueueJob(JobSpec{Kind: "b", RunAt: time.Now().Add(time.Hour)})
		if err := b.CancelJob(id); err != nil {
			t.Fatalf("CancelJob failed: %v", err)
		}
		job, _ := b.GetJob(id)
		if job.Status != JobStatusCanceled {
			t.Errorf("Expected canceled, got %q", job.Status)
		}
		jobs, err := b.ListJobs(10)
		if err != nil || len(jobs) != 2 {
			t.Fatalf("ListJobs = %d, %v", len(jobs), err)
		}
		if jobs[0].ID != id2 {
			t.Errorf("Expected newest job first, got %s", jobs[0].ID)
		}
	})
}

func TestJobRepo_RequeueStale(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		id, _ := b.EnqueueJob(JobSpec{Kind: "stale", RunAt: time.Now().Add(-time.Hour)})
		if jobs, _ := b.ClaimDueJobs(time.Now().Add(-10*time.Minute), 10); len(jobs) != 1 {
			t.Fatalf("Expected one claimed job, got %d", len(jobs))
		}
		n, err := b.RequeueStaleRunningJobs(time.Now().Add(-5 * time.Minute))
		if err != nil || n != 1 {
			t.Fatalf("RequeueStaleRunningJobs = %d, %v", n, err)
		}
		job, _ := b.GetJob(id)
		if job.Status != JobStatusQueued {
			t.Errorf("Expected queued, got %q", job.Status)
		}
	})
}

func TestOutboxRepo_Lifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		id, err := b.EnqueueOutboxMessage("+15550001", OutboxKindOutcome, `{"id":"o1"}`, "outcome:o1")
		if err != nil {
			t.Fatalf("EnqueueOutboxMessage failed: %v", err)
		}
		dup, _ := b.EnqueueOutboxMessage("+15550001", OutboxKindOutcome, `{"id":"o1"}`, "outcome:o1")
		if dup != id {
			t.Errorf("Expected dedupe to return %q, got %q", id, dup)
		}

		msgs, err := b.ClaimDueOutboxMessages(time.Now(), 10)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("ClaimDueOutboxMessages = %+v, %v", msgs, err)
		}
		if msgs[0].Recipient != "+15550001" || msgs[0].Status != OutboxStatusSending {
			t.Errorf("Unexpected message %+v", msgs[0])
		}

		if err := b.FailOutboxMessage(id, "timeout", time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("FailOutboxMessage failed: %v", err)
		}
		msgs, _ = b.ClaimDueOutboxMessages(time.Now(), 10)
		if len(msgs) != 1 || msgs[0].Attempts != 1 || msgs[0].LastError != "timeout" {
			t.Fatalf("Expected retry with one attempt, got %+v", msgs)
		}
		if err := b.MarkOutboxMessageSent(id); err != nil {
			t.Fatalf("MarkOutboxMessageSent failed: %v", err)
		}
		if msgs, _ := b.ClaimDueOutboxMessages(time.Now(), 10); len(msgs) != 0 {
			t.Errorf("Sent message claimed again: %+v", msgs)
		}
	})
}

func TestOutboxRepo_GivesUp(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		id, _ := b.EnqueueOutboxMessage("ops", OutboxKindOutcome, `{}`, "")
		for i := 0; i < MaxOutboxAttempts; i++ {
			msgs, _ := b.ClaimDueOutboxMessages(time.Now(), 10)
			if len(msgs) != 1 {
				t.Fatalf("attempt %d: expected a due message, got %d", i+1, len(msgs))
			}
			b.FailOutboxMessage(id, "down", time.Now().Add(-time.Second))
		}
		if msgs, _ := b.ClaimDueOutboxMessages(time.Now(), 10); len(msgs) != 0 {
			t.Errorf("Message retried after %d attempts", MaxOutboxAttempts)
		}
	})
}

func TestJobRunner_CompletesAndRetries(t *testing.T) {
	s := NewInMemoryStore()
	runner := NewJobRunner(s, time.Hour, 2)
	runner.SetRetryBase(0)

	var calls int32
	runner.RegisterHandler(JobKindRegistration, func(ctx context.Context, payload string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("page did not load")
		}
		return "outcome-42", nil
	})
	id, _ := s.EnqueueJob(JobSpec{Kind: JobKindRegistration, RunAt: time.Now().Add(-time.Second), PayloadJSON: `{}`})

	if n := runner.Poll(context.Background()); n != 1 {
		t.Fatalf("Poll claimed %d jobs, want 1", n)
	}
	job, _ := s.GetJob(id)
	if job.Status != JobStatusQueued || job.Attempt != 1 {
		t.Fatalf("Expected requeued job, got %+v", job)
	}

	runner.Poll(context.Background())
	job, _ = s.GetJob(id)
	if job.Status != JobStatusDone || job.Result != "outcome-42" {
		t.Errorf("Expected done with result, got %+v", job)
	}
}

func TestJobRunner_UnknownKind(t *testing.T) {
	s := NewInMemoryStore()
	runner := NewJobRunner(s, time.Hour, 1)
	id, _ := s.EnqueueJob(JobSpec{Kind: "mystery", RunAt: time.Now().Add(-time.Second)})
	runner.Poll(context.Background())
	job, _ := s.GetJob(id)
	if job.Attempt != 1 || job.LastError == "" {
		t.Errorf("Expected failed attempt for unknown kind, got %+v", job)
	}
}

func TestOutboxSender_Basic(t *testing.T) {
	s := newTestSQLiteStore(t)

	var sent int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, 50*time.Millisecond)

	if _, err := s.EnqueueOutboxMessage("ops", OutboxKindOutcome, `{"status":"registered"}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go sender.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
}
