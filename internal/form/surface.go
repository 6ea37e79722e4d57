package form

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
)

var (
	signWords   = []string{"sign", "agree", "accept", "confirm", "submit", "continue"}
	submitWords = []string{"register", "submit", "rsvp", "continue", "request to join", "join", "confirm"}
)

const buttonSelector = `button, [role="button"], input[type="submit"]`

// surfaceAction describes the shared fill, confirm, wait-hidden routine run on a terms dialog or
// on the form itself.
type surfaceAction struct {
	fill          string // written into the surface's single text field when set
	preferButtons string // selector tried before matching button text
	words         []string
	timeout       time.Duration
}

// completeSurface fills the surface's text field (if requested), clicks its confirm action and
// waits for the surface to disappear.
func completeSurface(ctx context.Context, surface page.Element, act surfaceAction) error {
	if act.fill != "" {
		input, ok := singleTextField(ctx, surface)
		if !ok {
			return fmt.Errorf("no text field on surface: %w", ErrElementNotFound)
		}
		if err := input.Fill(ctx, act.fill); err != nil {
			return fmt.Errorf("fill surface field: %w", err)
		}
	}

	button, ok := confirmButton(ctx, surface, act)
	if !ok {
		return fmt.Errorf("no confirm action on surface: %w", ErrElementNotFound)
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("click confirm action: %w", err)
	}
	if err := surface.WaitHidden(ctx, act.timeout); err != nil {
		return err
	}
	return nil
}

func singleTextField(ctx context.Context, surface page.Element) (page.Element, bool) {
	els, err := surface.Query(ctx, textCandidates)
	if err != nil {
		return nil, false
	}
	return firstAccepted(ctx, els, models.FieldKindText)
}

func confirmButton(ctx context.Context, surface page.Element, act surfaceAction) (page.Element, bool) {
	if act.preferButtons != "" {
		if els, err := surface.Query(ctx, act.preferButtons); err == nil {
			if visible := page.VisibleOnly(ctx, els); len(visible) > 0 {
				return visible[0], true
			}
		}
	}
	els, err := surface.Query(ctx, buttonSelector)
	if err != nil {
		return nil, false
	}
	buttons := page.VisibleOnly(ctx, els)
	for _, w := range act.words {
		for _, b := range buttons {
			label := textOf(ctx, b)
			if label == "" {
				label = attrValue(ctx, b, "value")
			}
			if containsFold(Sanitize(label), w) {
				return b, true
			}
		}
	}
	slog.Debug("completeSurface: no confirm button matched", "buttons", len(buttons))
	return nil, false
}
