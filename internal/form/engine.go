// Package form implements the adaptive form-resolution engine.
//
// The engine discovers the fields of a registration form it has never seen, classifies them into
// text, single-choice, multi-choice and boolean fields, answers them from the profile, then from a
// language-model oracle in one batch, then from fixed fallbacks, and finally writes every answer
// back into the page and submits it. Each field carries exactly one models.Resolution through the
// whole pipeline.
package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
)

// Profile is the read-only owner profile.
type Profile interface {
	// Lookup returns the value stored under identifier, matched after sanitizing.
	Lookup(identifier string) (string, bool)
	// FullName returns the name used to sign terms dialogs.
	FullName() (string, bool)
	// Summary returns all profile entries for the oracle prompt.
	Summary() map[string]string
}

// Oracle answers a batch of fields. Keys of the result are field identifiers; fields without a
// usable answer are absent. It never fails: exhausted retries yield an empty map.
type Oracle interface {
	ResolveBatch(ctx context.Context, fields []*models.FieldRequest, profile Profile, instructions string) map[string]models.Answer
}

// SequentialOracle asks the fields as an ordered question list instead of a keyed batch.
type SequentialOracle interface {
	ResolveSequential(ctx context.Context, fields []*models.FieldRequest, profile Profile, instructions string) map[string]models.Answer
}

// Engine runs discovery, resolution, commit and submission for one form at a time. An Engine is
// safe to share between flows; each Run owns its page.
type Engine struct {
	opts       Opts
	oracle     Oracle
	discoverer *Discoverer
	extractor  *Extractor
	committer  *Committer
	verifier   *Verifier
}

// NewEngine creates an engine. oracle may be nil, in which case every field the profile cannot
// answer goes straight to the fallback policy.
func NewEngine(oracle Oracle, opts ...Option) *Engine {
	o := buildOpts(opts)
	resolver := NewResolver(o.LabelSelector)
	terms := NewTermsHandler(o.Timeouts)
	return &Engine{
		opts:       o,
		oracle:     oracle,
		discoverer: NewDiscoverer(resolver),
		extractor:  NewExtractor(o.Timeouts, o.Sink),
		committer:  NewCommitter(resolver, terms, o.Timeouts),
		verifier:   NewVerifier(o.Timeouts),
	}
}

// Run fills and submits the form inside container. The outcome is always populated; the error is
// non-nil exactly when the outcome is not a success.
func (e *Engine) Run(ctx context.Context, pg page.Page, container page.Element, profile Profile) (models.FormOutcome, error) {
	fields := e.discoverer.Discover(ctx, container)
	for _, f := range fields {
		if f.IsDirectTrigger && f.Kind.IsChoice() && len(f.Options) == 0 {
			f.Options = e.extractor.Extract(ctx, pg, f)
		}
	}

	records := make([]*models.Resolution, len(fields))
	for i, f := range fields {
		records[i] = models.NewResolution(f)
	}

	e.resolveFromProfile(records, profile)
	causes := e.resolveFromOracle(ctx, records, profile)
	e.applyFallback(records, causes)

	if err := mandatoryFailure(records); err != nil {
		slog.Warn("Engine.Run: aborting before commit", "error", err)
		return buildOutcome(records, err), err
	}

	for _, r := range records {
		if r.Status != models.StatusResolved {
			continue
		}
		if err := e.committer.Commit(ctx, pg, container, r, profile); err != nil {
			slog.Warn("Engine.Run: commit failed", "identifier", r.Field.Identifier, "mandatory", r.Field.IsMandatory, "error", err)
			r.Fail(err)
			continue
		}
		r.Status = models.StatusCommitted
	}

	if err := mandatoryFailure(records); err != nil {
		slog.Warn("Engine.Run: aborting before submission", "error", err)
		return buildOutcome(records, err), err
	}

	if err := e.verifier.Submit(ctx, container); err != nil {
		return buildOutcome(records, err), err
	}
	slog.Info("Engine.Run: form submitted", "fields", len(records))
	return buildOutcome(records, nil), nil
}

func (e *Engine) resolveFromProfile(records []*models.Resolution, profile Profile) {
	if profile == nil {
		return
	}
	for _, r := range records {
		value, ok := profile.Lookup(r.Field.Identifier)
		if !ok {
			continue
		}
		a, ok := answerFromProfile(r.Field, value)
		if !ok || !Acceptable(r.Field, a) {
			slog.Debug("Engine.resolveFromProfile: profile value not applicable", "identifier", r.Field.Identifier)
			continue
		}
		r.Resolve(a, models.SourceProfile)
	}
}

// resolveFromOracle asks the oracle about every pending field and returns why each unanswered
// field stayed pending.
func (e *Engine) resolveFromOracle(ctx context.Context, records []*models.Resolution, profile Profile) map[string]error {
	causes := map[string]error{}
	var pending []*models.FieldRequest
	for _, r := range records {
		if !r.Done() {
			pending = append(pending, r.Field)
		}
	}
	if len(pending) == 0 {
		return causes
	}

	var answers map[string]models.Answer
	switch seq, ok := e.oracle.(SequentialOracle); {
	case e.oracle == nil:
	case e.opts.OracleMode == OracleModeSequential && ok:
		answers = seq.ResolveSequential(ctx, pending, profile, e.opts.Instructions)
	default:
		answers = e.oracle.ResolveBatch(ctx, pending, profile, e.opts.Instructions)
	}
	slog.Info("Engine.resolveFromOracle: oracle answered", "asked", len(pending), "answered", len(answers))

	for _, r := range records {
		if r.Done() {
			continue
		}
		a, ok := answers[r.Field.Identifier]
		switch {
		case ok && Acceptable(r.Field, &a):
			r.Resolve(&a, models.SourceOracle)
		case len(answers) == 0:
			causes[r.Field.Identifier] = ErrOracleUnavailable
		default:
			causes[r.Field.Identifier] = ErrOracleAnswerInvalid
		}
	}
	return causes
}

func (e *Engine) applyFallback(records []*models.Resolution, causes map[string]error) {
	for _, r := range records {
		if r.Done() {
			continue
		}
		a, err := Fallback(r.Field, e.opts.FallbackText)
		switch {
		case err != nil:
			r.Fail(err)
		case a == nil:
			r.Status = models.StatusSkipped
			r.Err = causes[r.Field.Identifier]
		default:
			r.Resolve(a, models.SourceFallback)
			r.Err = causes[r.Field.Identifier]
		}
	}
}

func answerFromProfile(field *models.FieldRequest, value string) (*models.Answer, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, false
	}
	switch field.Kind {
	case models.FieldKindText:
		return models.TextAnswer(value), true
	case models.FieldKindSingleChoice:
		opt, ok := MatchOption(field.Options, value)
		if !ok {
			return nil, false
		}
		return models.SingleAnswer(opt), true
	case models.FieldKindMultiChoice:
		var picked []string
		for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' }) {
			if opt, ok := MatchOption(field.Options, strings.TrimSpace(part)); ok {
				picked = append(picked, opt)
			}
		}
		if len(picked) == 0 {
			return nil, false
		}
		return models.MultiAnswer(picked...), true
	case models.FieldKindBoolean:
		switch strings.ToLower(value) {
		case "true", "yes", "y", "1", "on":
			return models.BoolAnswer(true), true
		case "false", "no", "n", "0", "off":
			return models.BoolAnswer(false), true
		}
	}
	return nil, false
}

func mandatoryFailure(records []*models.Resolution) error {
	var ids []string
	var errs []error
	for _, r := range records {
		if r.Field.IsMandatory && r.Status == models.StatusUnresolved {
			ids = append(ids, r.Field.Identifier)
			if r.Err != nil {
				errs = append(errs, r.Err)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: %s", ErrMandatoryUnresolved, strings.Join(ids, ", "))
	}
	return fmt.Errorf("%w: %s: %w", ErrMandatoryUnresolved, strings.Join(ids, ", "), errors.Join(errs...))
}

func buildOutcome(records []*models.Resolution, err error) models.FormOutcome {
	out := models.FormOutcome{Success: err == nil, Values: models.ResolutionResult{}}
	if err != nil {
		out.Reason = err.Error()
	}
	for _, r := range records {
		out.Values[r.Field.Identifier] = r.Answer.Value()
		if r.Status == models.StatusUnresolved {
			reason := "unresolved"
			if r.Err != nil {
				reason = r.Err.Error()
			}
			out.Failures = append(out.Failures, models.FieldFailure{
				Identifier: r.Field.Identifier,
				Kind:       r.Field.Kind,
				Mandatory:  r.Field.IsMandatory,
				Reason:     reason,
			})
		}
	}
	return out
}
