package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/page"
)

// TermsState is a state of the terms confirmation sub-flow.
type TermsState string

const (
	TermsIdle           TermsState = "idle"
	TermsAwaitingDialog TermsState = "awaiting_secondary_dialog"
	TermsSigning        TermsState = "signing"
	TermsClosed         TermsState = "closed"
	TermsFailed         TermsState = "failed"
)

// TermsHandler satisfies a stubborn mandatory checkbox through the secondary dialog it opens: the
// dialog asks for a typed signature and a confirm click.
type TermsHandler struct {
	timeouts       Timeouts
	dialogSelector string
}

// NewTermsHandler creates a terms handler.
func NewTermsHandler(timeouts Timeouts) *TermsHandler {
	return &TermsHandler{timeouts: timeouts.withDefaults(), dialogSelector: DefaultDialogSelector}
}

// TermsFlow records one run of the sub-flow.
type TermsFlow struct {
	State TermsState
	Err   error
}

func (f *TermsFlow) transition(to TermsState, identifier string) {
	slog.Debug("TermsFlow.transition: state change", "identifier", identifier, "from", f.State, "to", to)
	f.State = to
}

func (f *TermsFlow) fail(err error, identifier string) *TermsFlow {
	f.transition(TermsFailed, identifier)
	f.Err = err
	return f
}

// Run waits for a secondary dialog other than container, signs it with the profile's full name and
// waits for it to close. It ends in TermsClosed or TermsFailed.
func (h *TermsHandler) Run(ctx context.Context, pg page.Page, container page.Element, identifier string, profile Profile) *TermsFlow {
	flow := &TermsFlow{State: TermsIdle}
	flow.transition(TermsAwaitingDialog, identifier)

	dialog, ok := h.awaitDialog(ctx, pg, container)
	if !ok {
		slog.Warn("TermsHandler.Run: no secondary dialog", "identifier", identifier)
		return flow.fail(fmt.Errorf("terms dialog for %q: %w", identifier, ErrSecondaryDialogTimeout), identifier)
	}

	flow.transition(TermsSigning, identifier)
	name, ok := "", false
	if profile != nil {
		name, ok = profile.FullName()
	}
	if !ok || name == "" {
		slog.Error("TermsHandler.Run: profile has no full name to sign with", "identifier", identifier)
		return flow.fail(fmt.Errorf("terms dialog for %q needs a full name: %w", identifier, ErrMandatoryUnresolved), identifier)
	}

	err := completeSurface(ctx, dialog, surfaceAction{
		fill:    name,
		words:   signWords,
		timeout: h.timeouts.DialogClose,
	})
	if err != nil {
		slog.Warn("TermsHandler.Run: signing failed", "identifier", identifier, "error", err)
		if errors.Is(err, page.ErrTimeout) {
			err = fmt.Errorf("terms dialog for %q stayed open: %w", identifier, ErrSecondaryDialogTimeout)
		}
		return flow.fail(err, identifier)
	}

	flow.transition(TermsClosed, identifier)
	slog.Info("TermsHandler.Run: terms signed", "identifier", identifier)
	return flow
}

func (h *TermsHandler) awaitDialog(ctx context.Context, pg page.Page, container page.Element) (page.Element, bool) {
	own := ancestorKeys(ctx, container)
	var dialog page.Element
	err := page.WaitUntil(ctx, h.timeouts.SecondaryDialog, h.timeouts.Poll, func() (bool, error) {
		var ok bool
		dialog, ok = h.findDialog(ctx, pg, own)
		return ok, nil
	})
	return dialog, err == nil
}

// findDialog returns a visible dialog that is neither the form container nor one of its ancestors.
func (h *TermsHandler) findDialog(ctx context.Context, pg page.Page, own map[string]bool) (page.Element, bool) {
	els, err := pg.Query(ctx, h.dialogSelector)
	if err != nil {
		return nil, false
	}
	for _, el := range page.VisibleOnly(ctx, els) {
		if !own[keyOf(ctx, el)] {
			return el, true
		}
	}
	return nil, false
}

func (h *TermsHandler) dialogOpen(ctx context.Context, pg page.Page, own map[string]bool) bool {
	_, ok := h.findDialog(ctx, pg, own)
	return ok
}

// ancestorKeys returns the keys of el and all its ancestors.
func ancestorKeys(ctx context.Context, el page.Element) map[string]bool {
	keys := map[string]bool{}
	for depth := 0; el != nil && depth < 64; depth++ {
		if k := keyOf(ctx, el); k != "" {
			keys[k] = true
		}
		parent, err := el.Parent(ctx)
		if err != nil {
			break
		}
		el = parent
	}
	return keys
}
