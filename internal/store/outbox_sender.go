package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc is the callback that performs the actual message send.
// It receives the outbox message and should return an error if sending failed.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	retryBase      time.Duration
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		retryBase:      10 * time.Second,
	}
}

// SetRetryBase changes the delay before the first resend. Later resends double it.
func (s *OutboxSender) SetRetryBase(d time.Duration) {
	s.retryBase = d
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll sends every message due now and returns how many were claimed.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: sending message", "id", msg.ID, "recipient", msg.Recipient, "kind", msg.Kind)
		if err := s.sendFunc(ctx, msg); err != nil {
			slog.Error("OutboxSender.Poll: send failed", "id", msg.ID, "attempts", msg.Attempts+1, "error", err)
			nextAttempt := now.Add(s.retryBase * time.Duration(1<<msg.Attempts))
			if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), nextAttempt); err != nil {
				slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
		}
		slog.Debug("OutboxSender.Poll: message sent", "id", msg.ID, "recipient", msg.Recipient)
	}
	return len(msgs)
}
