package form

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
)

// Committer writes resolved answers into the page.
type Committer struct {
	resolver *Resolver
	terms    *TermsHandler
	timeouts Timeouts
}

// NewCommitter creates a committer.
func NewCommitter(resolver *Resolver, terms *TermsHandler, timeouts Timeouts) *Committer {
	return &Committer{resolver: resolver, terms: terms, timeouts: timeouts.withDefaults()}
}

// Commit re-resolves the field (direct triggers keep their handle) and performs the interaction
// for its kind. Fields discovered by placeholder are re-resolved by placeholder only, so a label
// that merely contains the identifier cannot capture them. A nil answer is a no-op.
func (c *Committer) Commit(ctx context.Context, pg page.Page, container page.Element, r *models.Resolution, profile Profile) error {
	field := r.Field
	if r.Answer == nil {
		return nil
	}

	el := field.Element
	var label page.Element
	if !field.IsDirectTrigger || el == nil {
		resolve := c.resolver.Resolve
		if field.ByPlaceholder {
			resolve = c.resolver.ResolvePlaceholder
		}
		m, ok := resolve(ctx, container, field.Identifier, field.Kind)
		if !ok {
			return fmt.Errorf("re-resolve %q: %w", field.Identifier, ErrElementNotFound)
		}
		el, label = m.Field, m.Label
		field.Element = el
	}

	switch field.Kind {
	case models.FieldKindText:
		if err := el.Fill(ctx, r.Answer.Text); err != nil {
			return fmt.Errorf("fill %q: %w", field.Identifier, err)
		}
		return nil
	case models.FieldKindSingleChoice:
		if len(r.Answer.Choices) == 0 {
			return fmt.Errorf("%q has no choice: %w", field.Identifier, ErrOracleAnswerInvalid)
		}
		return c.commitSingle(ctx, pg, field, el, r.Answer.Choices[0])
	case models.FieldKindMultiChoice:
		return c.commitMulti(ctx, pg, field, el, r.Answer.Choices)
	case models.FieldKindBoolean:
		return c.commitBoolean(ctx, pg, container, field, el, label, r.Answer.Bool, profile)
	default:
		return fmt.Errorf("%q has unknown kind %q", field.Identifier, field.Kind)
	}
}

func (c *Committer) commitSingle(ctx context.Context, pg page.Page, field *models.FieldRequest, el page.Element, choice string) error {
	if tag, _ := el.TagName(ctx); tag == "select" {
		if err := el.SelectOption(ctx, choice); err != nil {
			return fmt.Errorf("select %q in %q: %w", choice, field.Identifier, err)
		}
		if got := selectedOptions(ctx, el); len(got) != 1 || !SameIdentifier(got[0], choice) {
			return fmt.Errorf("%q shows %v after selecting %q: %w", field.Identifier, got, choice, ErrElementNotFound)
		}
		return nil
	}

	if err := c.pickOption(ctx, pg, el, choice); err != nil {
		dismiss(ctx, pg, c.timeouts)
		return fmt.Errorf("pick %q in %q: %w", choice, field.Identifier, err)
	}
	if err := pg.WaitHidden(ctx, DefaultOptionSelector, c.timeouts.PanelClose); err != nil {
		slog.Debug("Committer.commitSingle: panel stayed open, dismissing", "identifier", field.Identifier)
		dismiss(ctx, pg, c.timeouts)
	}
	return nil
}

// commitMulti tries every suggested option. One committed option is enough. A native multiple
// select takes all matching options at once.
func (c *Committer) commitMulti(ctx context.Context, pg page.Page, field *models.FieldRequest, el page.Element, choices []string) error {
	if tag, _ := el.TagName(ctx); tag == "select" {
		return c.selectNative(ctx, field, el, choices)
	}

	committed := 0
	for _, choice := range choices {
		if err := c.pickOption(ctx, pg, el, choice); err != nil {
			slog.Warn("Committer.commitMulti: option not committed", "identifier", field.Identifier, "option", choice, "error", err)
			continue
		}
		committed++
	}
	if _, open := page.FirstVisible(ctx, pg, DefaultOptionSelector); open {
		dismiss(ctx, pg, c.timeouts)
	}
	slog.Debug("Committer.commitMulti: options committed", "identifier", field.Identifier, "committed", committed, "suggested", len(choices))
	if committed == 0 {
		return fmt.Errorf("no option of %q committed: %w", field.Identifier, ErrElementNotFound)
	}
	return nil
}

func (c *Committer) selectNative(ctx context.Context, field *models.FieldRequest, sel page.Element, choices []string) error {
	available := nativeOptions(ctx, sel)
	var labels []string
	for _, choice := range choices {
		opt, ok := MatchOption(available, choice)
		if !ok {
			slog.Warn("Committer.selectNative: option not offered", "identifier", field.Identifier, "option", choice)
			continue
		}
		labels = append(labels, opt)
	}
	if len(labels) == 0 {
		return fmt.Errorf("no option of %q committed: %w", field.Identifier, ErrElementNotFound)
	}
	if err := sel.SelectOption(ctx, labels...); err != nil {
		return fmt.Errorf("select %v in %q: %w", labels, field.Identifier, err)
	}
	if got := selectedOptions(ctx, sel); len(got) == 0 {
		return fmt.Errorf("%q shows no selection after selecting %v: %w", field.Identifier, labels, ErrElementNotFound)
	}
	slog.Debug("Committer.selectNative: options selected", "identifier", field.Identifier, "selected", len(labels), "suggested", len(choices))
	return nil
}

// selectedOptions reads the labels of the options a native select currently has selected.
func selectedOptions(ctx context.Context, sel page.Element) []string {
	opts, err := sel.Query(ctx, "option:checked")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, textOf(ctx, o))
	}
	return out
}

// pickOption opens the panel when needed, clicks the option whose text equals choice, or failing
// that starts with it, and waits for the page to show the option as chosen.
func (c *Committer) pickOption(ctx context.Context, pg page.Page, trigger page.Element, choice string) error {
	options, err := c.openPanel(ctx, pg, trigger)
	if err != nil {
		return err
	}
	target, ok := findOption(ctx, options, choice)
	if !ok {
		return fmt.Errorf("option %q: %w", choice, ErrElementNotFound)
	}
	if selected := attrValue(ctx, target, "aria-selected"); selected == "true" {
		if _, multi := attrPresent(ctx, trigger, "aria-multiselectable"); multi {
			return nil
		}
	}
	text := textOf(ctx, target)
	before := shownValues(ctx, trigger)
	if err := target.Click(ctx); err != nil {
		return err
	}
	err = page.WaitUntil(ctx, c.timeouts.PanelClose, c.timeouts.Poll, func() (bool, error) {
		return optionChosen(ctx, trigger, target, text, before), nil
	})
	if err != nil {
		return fmt.Errorf("option %q not taken by the control: %w", choice, ErrElementNotFound)
	}
	return nil
}

// shownValues captures the trigger text and its value attributes.
func shownValues(ctx context.Context, trigger page.Element) [3]string {
	return [3]string{textOf(ctx, trigger), attrValue(ctx, trigger, "value"), attrValue(ctx, trigger, "data-value")}
}

// optionChosen reports whether the option is marked selected, or the trigger changed to show its
// text.
func optionChosen(ctx context.Context, trigger, option page.Element, text string, before [3]string) bool {
	if v, ok, err := option.Attribute(ctx, "aria-selected"); err == nil && ok && v == "true" {
		return true
	}
	if text == "" {
		return false
	}
	now := shownValues(ctx, trigger)
	for i := range now {
		if now[i] != before[i] && containsFold(now[i], text) {
			return true
		}
	}
	return false
}

func (c *Committer) openPanel(ctx context.Context, pg page.Page, trigger page.Element) ([]page.Element, error) {
	visibleOptions := func() []page.Element {
		els, err := pg.Query(ctx, DefaultOptionSelector)
		if err != nil {
			return nil
		}
		return page.VisibleOnly(ctx, els)
	}
	if open := visibleOptions(); len(open) > 0 {
		return open, nil
	}
	if err := trigger.Click(ctx); err != nil {
		return nil, fmt.Errorf("open panel: %w", err)
	}
	var options []page.Element
	err := page.WaitUntil(ctx, c.timeouts.OptionPanel, c.timeouts.Poll, func() (bool, error) {
		options = visibleOptions()
		return len(options) > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("option panel: %w", ErrElementNotFound)
	}
	return options, nil
}

func findOption(ctx context.Context, options []page.Element, choice string) (page.Element, bool) {
	texts := make([]string, len(options))
	for i, o := range options {
		texts[i] = textOf(ctx, o)
	}
	for i, t := range texts {
		if t == choice {
			return options[i], true
		}
	}
	for i, t := range texts {
		if SameIdentifier(t, choice) {
			return options[i], true
		}
	}
	want := strings.ToLower(strings.TrimSpace(choice))
	for i, t := range texts {
		if want != "" && strings.HasPrefix(strings.ToLower(t), want) {
			return options[i], true
		}
	}
	return nil, false
}

// commitBoolean clicks the control's label (else its parent), then the control itself, until the
// state matches. A mandatory box that will not turn on is handed to the terms sub-flow.
func (c *Committer) commitBoolean(ctx context.Context, pg page.Page, container page.Element, field *models.FieldRequest, el, label page.Element, want bool, profile Profile) error {
	if cur, err := el.Checked(ctx); err == nil && cur == want {
		return nil
	}

	target := label
	if target == nil {
		if parent, err := el.Parent(ctx); err == nil {
			target = parent
		}
	}

	own := ancestorKeys(ctx, container)
	for _, t := range []page.Element{target, el} {
		if t == nil {
			continue
		}
		if err := t.Click(ctx); err != nil {
			slog.Debug("Committer.commitBoolean: click failed", "identifier", field.Identifier, "error", err)
			continue
		}
		if c.waitChecked(ctx, el, want) {
			return nil
		}
		if c.terms.dialogOpen(ctx, pg, own) {
			break
		}
	}

	if field.IsMandatory && want {
		slog.Info("Committer.commitBoolean: control did not flip, starting terms sub-flow", "identifier", field.Identifier)
		flow := c.terms.Run(ctx, pg, container, field.Identifier, profile)
		if flow.State == TermsClosed {
			return nil
		}
		return flow.Err
	}
	return fmt.Errorf("%q did not change state", field.Identifier)
}

func (c *Committer) waitChecked(ctx context.Context, el page.Element, want bool) bool {
	err := page.WaitUntil(ctx, c.timeouts.ToggleFlip, c.timeouts.Poll, func() (bool, error) {
		cur, err := el.Checked(ctx)
		return cur == want, err
	})
	return err == nil
}
