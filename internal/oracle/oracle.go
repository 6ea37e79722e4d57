// Package oracle asks a language model for the values of form fields the profile cannot answer.
//
// All unresolved fields of one form go out in a single request. The reply is coerced into JSON,
// its keys are matched back to the requested identifiers and every value is decoded into a
// kind-tagged models.Answer. Transport and parse failures are retried with exponential backoff;
// when every attempt fails the oracle answers nothing rather than returning an error.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/FormPipe/internal/form"
	"github.com/BTreeMap/FormPipe/internal/genai"
	"github.com/BTreeMap/FormPipe/internal/models"
)

const (
	DefaultAttempts       = 3
	DefaultBackoff        = time.Second
	DefaultAttemptTimeout = 90 * time.Second
)

// Opts holds retry configuration.
type Opts struct {
	Attempts       int
	Backoff        time.Duration // wait before the second attempt; doubles after each failure
	AttemptTimeout time.Duration
}

// Option configures an Oracle.
type Option func(*Opts)

// WithAttempts sets the total number of attempts per request.
func WithAttempts(n int) Option {
	return func(o *Opts) { o.Attempts = n }
}

// WithBackoff sets the initial retry delay. Zero retries immediately.
func WithBackoff(d time.Duration) Option {
	return func(o *Opts) { o.Backoff = d }
}

// WithAttemptTimeout bounds a single model call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Opts) { o.AttemptTimeout = d }
}

// Oracle implements form.Oracle and form.SequentialOracle over a genai.Completer.
type Oracle struct {
	completer genai.Completer
	opts      Opts
}

var (
	_ form.Oracle           = (*Oracle)(nil)
	_ form.SequentialOracle = (*Oracle)(nil)
)

// New creates an oracle.
func New(completer genai.Completer, opts ...Option) *Oracle {
	o := Opts{Attempts: DefaultAttempts, Backoff: DefaultBackoff, AttemptTimeout: DefaultAttemptTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	return &Oracle{completer: completer, opts: o}
}

// ResolveBatch asks for all fields in one keyed request. The result holds only fields with a
// decodable answer, keyed by identifier.
func (o *Oracle) ResolveBatch(ctx context.Context, fields []*models.FieldRequest, profile form.Profile, instructions string) map[string]models.Answer {
	answers := map[string]models.Answer{}
	if len(fields) == 0 {
		return answers
	}
	messages := BatchPrompt(fields, profile, instructions)

	var obj map[string]json.RawMessage
	err := o.retry(ctx, "batch", messages, func(reply string) error {
		var err error
		obj, err = ExtractObject(reply)
		return err
	})
	if err != nil {
		slog.Warn("Oracle.ResolveBatch: no usable reply", "fields", len(fields), "error", err)
		return answers
	}

	matched := MatchKeys(obj, fields)
	for _, f := range fields {
		raw, ok := matched[f.Identifier]
		if !ok {
			slog.Debug("Oracle.ResolveBatch: field not answered", "identifier", f.Identifier)
			continue
		}
		a, err := Decode(f, raw)
		if err != nil {
			slog.Debug("Oracle.ResolveBatch: answer rejected", "error", err)
			continue
		}
		answers[f.Identifier] = a
	}
	slog.Info("Oracle.ResolveBatch: answers decoded", "asked", len(fields), "answered", len(answers))
	return answers
}

// ResolveSequential asks the fields as a numbered question list and maps the reply array back by
// position. Extra elements are ignored; missing ones leave their fields unanswered.
func (o *Oracle) ResolveSequential(ctx context.Context, fields []*models.FieldRequest, profile form.Profile, instructions string) map[string]models.Answer {
	answers := map[string]models.Answer{}
	if len(fields) == 0 {
		return answers
	}
	messages := SequentialPrompt(fields, profile, instructions)

	var arr []json.RawMessage
	err := o.retry(ctx, "sequential", messages, func(reply string) error {
		var err error
		arr, err = ExtractArray(reply)
		return err
	})
	if err != nil {
		slog.Warn("Oracle.ResolveSequential: no usable reply", "fields", len(fields), "error", err)
		return answers
	}
	if len(arr) != len(fields) {
		slog.Warn("Oracle.ResolveSequential: reply length mismatch", "questions", len(fields), "answers", len(arr))
	}

	for i, f := range fields {
		if i >= len(arr) {
			break
		}
		a, err := Decode(f, arr[i])
		if err != nil {
			slog.Debug("Oracle.ResolveSequential: answer rejected", "error", err)
			continue
		}
		answers[f.Identifier] = a
	}
	return answers
}

// retry calls the model until parse accepts a reply or the attempts run out.
func (o *Oracle) retry(ctx context.Context, mode string, messages []genai.Message, parse func(string) error) error {
	if o.completer == nil {
		return form.ErrOracleUnavailable
	}
	backoff := o.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= o.opts.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, backoff); err != nil {
				return errors.Join(lastErr, err)
			}
			backoff *= 2
		}

		actx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
		reply, err := o.completer.Complete(actx, messages)
		cancel()
		if err == nil {
			err = parse(reply)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Oracle.retry: attempt failed", "mode", mode, "attempt", attempt, "of", o.opts.Attempts, "error", err)
		if ctx.Err() != nil {
			return errors.Join(lastErr, ctx.Err())
		}
	}
	return errors.Join(form.ErrOracleUnavailable, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
