package form

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
)

// Discoverer enumerates the fields of a form container.
type Discoverer struct {
	resolver      *Resolver
	classifier    Classifier
	labelSelector string
}

// NewDiscoverer creates a discoverer sharing the resolver's label selector.
func NewDiscoverer(resolver *Resolver) *Discoverer {
	return &Discoverer{resolver: resolver, labelSelector: resolver.labelSelector}
}

// Discover walks the container's labels in document order, resolves and classifies each, and
// then adds text inputs identified only by a placeholder. The first field wins on duplicate
// element or identifier.
func (d *Discoverer) Discover(ctx context.Context, container page.Element) []*models.FieldRequest {
	var fields []*models.FieldRequest
	seenKeys := map[string]bool{}
	seenIDs := map[string]bool{}

	add := func(identifier string, el page.Element, shape Shape, byPlaceholder bool) {
		fields = append(fields, &models.FieldRequest{
			Identifier:      identifier,
			Kind:            shape.Kind,
			Options:         shape.Options,
			IsMandatory:     shape.IsMandatory,
			IsDirectTrigger: shape.IsDirectTrigger,
			ByPlaceholder:   byPlaceholder,
			Element:         el,
		})
		seenIDs[identifier] = true
		if k := keyOf(ctx, el); k != "" {
			seenKeys[k] = true
		}
	}

	labels, err := container.Query(ctx, d.labelSelector)
	if err != nil {
		slog.Warn("Discoverer.Discover: label query failed", "error", err)
	}
	for _, label := range labels {
		raw := textOf(ctx, label)
		id := Sanitize(raw)
		if id == "" || seenIDs[id] {
			continue
		}
		m, ok := d.resolver.FromLabel(ctx, container, label, "")
		if !ok {
			slog.Debug("Discoverer.Discover: label without field", "identifier", id)
			continue
		}
		if k := keyOf(ctx, m.Field); k != "" && seenKeys[k] {
			continue
		}
		shape, ok := d.classifier.Classify(ctx, m.Field, raw)
		if !ok {
			slog.Debug("Discoverer.Discover: element excluded", "identifier", id)
			continue
		}
		add(id, m.Field, shape, false)
	}

	inputs, err := container.Query(ctx, "input, textarea")
	if err != nil {
		slog.Warn("Discoverer.Discover: input query failed", "error", err)
	}
	for _, el := range inputs {
		if k := keyOf(ctx, el); k == "" || seenKeys[k] {
			continue
		}
		raw := attrValue(ctx, el, "placeholder")
		id := Sanitize(raw)
		if id == "" || seenIDs[id] || !accepts(ctx, el, models.FieldKindText) {
			continue
		}
		shape, ok := d.classifier.Classify(ctx, el, raw)
		if !ok || shape.Kind != models.FieldKindText {
			continue
		}
		add(id, el, shape, true)
	}

	slog.Info("Discoverer.Discover: fields discovered", "count", len(fields))
	return fields
}
