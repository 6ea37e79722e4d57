package form

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
)

// Dismissal clicks land near the top-left corner, away from any panel.
const outsideX, outsideY = 2.0, 2.0

// Extractor reads option labels from custom choice controls.
type Extractor struct {
	timeouts Timeouts
	sink     DiagnosticSink
}

// NewExtractor creates an extractor.
func NewExtractor(timeouts Timeouts, sink DiagnosticSink) *Extractor {
	return &Extractor{timeouts: timeouts.withDefaults(), sink: sink}
}

// Extract opens field's panel, reads the visible option labels in order, and closes the panel
// again. A panel that never opens yields an empty list and a markup snapshot.
func (x *Extractor) Extract(ctx context.Context, pg page.Page, field *models.FieldRequest) []string {
	if field.Element == nil {
		return nil
	}
	if err := field.Element.Click(ctx); err != nil {
		slog.Warn("Extractor.Extract: open click failed", "identifier", field.Identifier, "error", err)
		return nil
	}

	var options []page.Element
	err := page.WaitUntil(ctx, x.timeouts.OptionPanel, x.timeouts.Poll, func() (bool, error) {
		els, err := pg.Query(ctx, DefaultOptionSelector)
		if err != nil {
			return false, err
		}
		options = page.VisibleOnly(ctx, els)
		return len(options) > 0, nil
	})
	if err != nil {
		slog.Warn("Extractor.Extract: option panel never appeared", "identifier", field.Identifier, "error", err)
		x.snapshot(ctx, pg, "option panel never appeared: "+field.Identifier)
		dismiss(ctx, pg, x.timeouts)
		return nil
	}

	labels := make([]string, 0, len(options))
	for _, o := range options {
		if label := textOf(ctx, o); label != "" {
			labels = append(labels, label)
		}
	}
	dismiss(ctx, pg, x.timeouts)
	slog.Debug("Extractor.Extract: options read", "identifier", field.Identifier, "count", len(labels))
	return labels
}

func (x *Extractor) snapshot(ctx context.Context, pg page.Page, reason string) {
	if x.sink == nil {
		return
	}
	markup, err := pg.HTML(ctx)
	if err != nil {
		slog.Warn("Extractor.snapshot: html dump failed", "error", err)
		return
	}
	x.sink.Snapshot(reason, markup)
}

// dismiss clicks outside any open panel and waits for options to disappear.
func dismiss(ctx context.Context, pg page.Page, t Timeouts) bool {
	if err := pg.ClickAt(ctx, outsideX, outsideY); err != nil {
		slog.Warn("dismiss: outside click failed", "error", err)
	}
	if err := pg.WaitHidden(ctx, DefaultOptionSelector, t.PanelClose); err != nil {
		slog.Warn("dismiss: panel still open", "error", err)
		return false
	}
	return true
}
