package form

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
)

// Strategy names how a field was associated with its label.
type Strategy string

const (
	StrategyFor           Strategy = "for"            // label[for] -> element id
	StrategyNested        Strategy = "nested"         // field inside the label
	StrategySharedParent  Strategy = "shared_parent"  // field next to the label under the same parent
	StrategyParentSibling Strategy = "parent_sibling" // field in the element after the label's parent
	StrategyPlaceholder   Strategy = "placeholder"    // field whose placeholder carries the identifier
)

// Match is a resolved field. Label is nil for placeholder matches.
type Match struct {
	Field    page.Element
	Label    page.Element
	Strategy Strategy
}

// Resolver locates the interactive element associated with an identifying text.
type Resolver struct {
	labelSelector string
}

// NewResolver creates a resolver that finds labels with labelSelector.
func NewResolver(labelSelector string) *Resolver {
	if labelSelector == "" {
		labelSelector = DefaultLabelSelector
	}
	return &Resolver{labelSelector: labelSelector}
}

// Resolve finds the field for identifier inside container. Labels whose sanitized text equals the
// identifier come first, then placeholders that equal it, then labels and placeholders that merely
// contain it. A kindHint of "" accepts any field kind.
func (r *Resolver) Resolve(ctx context.Context, container page.Element, identifier string, kindHint models.FieldKind) (Match, bool) {
	labels, err := container.Query(ctx, r.labelSelector)
	if err != nil {
		slog.Debug("Resolver.Resolve: label query failed", "identifier", identifier, "error", err)
	}

	var exact, partial []page.Element
	for _, label := range labels {
		text := Sanitize(textOf(ctx, label))
		switch {
		case text == "":
		case SameIdentifier(text, identifier):
			exact = append(exact, label)
		case containsFold(text, identifier):
			partial = append(partial, label)
		}
	}

	for _, label := range exact {
		if m, ok := r.FromLabel(ctx, container, label, kindHint); ok {
			return m, true
		}
	}
	if m, ok := r.placeholder(ctx, container, identifier, kindHint, SameIdentifier); ok {
		return m, true
	}
	for _, label := range partial {
		if m, ok := r.FromLabel(ctx, container, label, kindHint); ok {
			return m, true
		}
	}
	if m, ok := r.placeholder(ctx, container, identifier, kindHint, containsFold); ok {
		return m, true
	}
	slog.Debug("Resolver.Resolve: no field", "identifier", identifier, "kind", kindHint)
	return Match{}, false
}

// ResolvePlaceholder finds a field by placeholder alone, for fields that were discovered without a
// label. A placeholder equal to the identifier beats one that contains it.
func (r *Resolver) ResolvePlaceholder(ctx context.Context, container page.Element, identifier string, kindHint models.FieldKind) (Match, bool) {
	if m, ok := r.placeholder(ctx, container, identifier, kindHint, SameIdentifier); ok {
		return m, true
	}
	return r.placeholder(ctx, container, identifier, kindHint, containsFold)
}

// FromLabel applies the label-anchored strategies, in order, to one label.
func (r *Resolver) FromLabel(ctx context.Context, container, label page.Element, kindHint models.FieldKind) (Match, bool) {
	cands := candidateSelector(kindHint)

	if forID, ok := attrPresent(ctx, label, "for"); ok {
		if quoted, ok := cssString(forID); ok {
			if els, err := container.Query(ctx, "[id="+quoted+"]"); err == nil {
				if el, ok := firstAccepted(ctx, els, kindHint); ok {
					return Match{Field: el, Label: label, Strategy: StrategyFor}, true
				}
			}
		}
	}

	if els, err := label.Query(ctx, cands); err == nil {
		if el, ok := firstAccepted(ctx, els, kindHint); ok {
			return Match{Field: el, Label: label, Strategy: StrategyNested}, true
		}
	}

	parent, err := label.Parent(ctx)
	if err != nil {
		return Match{}, false
	}
	parentIsContainer := sameElement(ctx, parent, container)

	if !parentIsContainer && r.labelCount(ctx, parent) == 1 {
		if els, err := parent.Query(ctx, cands); err == nil {
			if el, ok := firstAccepted(ctx, els, kindHint); ok {
				return Match{Field: el, Label: label, Strategy: StrategySharedParent}, true
			}
		}
	} else if el, ok := r.followingField(ctx, label, kindHint); ok {
		return Match{Field: el, Label: label, Strategy: StrategySharedParent}, true
	}

	if parentIsContainer {
		return Match{}, false
	}
	next, err := parent.Next(ctx)
	if err != nil {
		return Match{}, false
	}
	// A sibling that carries its own label belongs to another field.
	if isLabel, _ := next.Matches(ctx, r.labelSelector); isLabel || r.labelCount(ctx, next) > 0 {
		return Match{}, false
	}
	if accepts(ctx, next, kindHint) {
		return Match{Field: next, Label: label, Strategy: StrategyParentSibling}, true
	}
	if els, err := next.Query(ctx, cands); err == nil {
		if el, ok := firstAccepted(ctx, els, kindHint); ok {
			return Match{Field: el, Label: label, Strategy: StrategyParentSibling}, true
		}
	}
	return Match{}, false
}

// followingField scans the label's later siblings up to the next label.
func (r *Resolver) followingField(ctx context.Context, label page.Element, kindHint models.FieldKind) (page.Element, bool) {
	cands := candidateSelector(kindHint)
	sib, err := label.Next(ctx)
	for err == nil && sib != nil {
		if isLabel, _ := sib.Matches(ctx, r.labelSelector); isLabel {
			return nil, false
		}
		if accepts(ctx, sib, kindHint) {
			return sib, true
		}
		if els, qerr := sib.Query(ctx, cands); qerr == nil {
			if el, ok := firstAccepted(ctx, els, kindHint); ok {
				return el, true
			}
		}
		if r.labelCount(ctx, sib) > 0 {
			return nil, false
		}
		sib, err = sib.Next(ctx)
	}
	return nil, false
}

func (r *Resolver) labelCount(ctx context.Context, el page.Element) int {
	labels, err := el.Query(ctx, r.labelSelector)
	if err != nil {
		return 0
	}
	return len(labels)
}

func (r *Resolver) placeholder(ctx context.Context, container page.Element, identifier string, kindHint models.FieldKind, match func(text, identifier string) bool) (Match, bool) {
	els, err := container.Query(ctx, "[placeholder]")
	if err != nil {
		return Match{}, false
	}
	for _, el := range els {
		if !match(Sanitize(attrValue(ctx, el, "placeholder")), identifier) {
			continue
		}
		if accepts(ctx, el, kindHint) {
			return Match{Field: el, Strategy: StrategyPlaceholder}, true
		}
	}
	return Match{}, false
}

func candidateSelector(kindHint models.FieldKind) string {
	switch kindHint {
	case models.FieldKindText:
		return textCandidates
	case models.FieldKindSingleChoice, models.FieldKindMultiChoice:
		return choiceCandidates
	case models.FieldKindBoolean:
		return booleanCandidates
	default:
		return anyCandidates
	}
}

func firstAccepted(ctx context.Context, els []page.Element, kindHint models.FieldKind) (page.Element, bool) {
	for _, el := range els {
		if accepts(ctx, el, kindHint) {
			return el, true
		}
	}
	return nil, false
}

// accepts filters candidates by kind. Hidden inputs never qualify; boolean controls may be visually
// hidden behind a styled label, everything else must be visible.
func accepts(ctx context.Context, el page.Element, kindHint models.FieldKind) bool {
	n := inspect(ctx, el)
	if n.tag == "" || n.isHiddenInput() {
		return false
	}
	if n.isCheckboxLike() {
		return kindHint == "" || kindHint == models.FieldKindBoolean
	}
	if !isVisible(ctx, el) {
		return false
	}
	switch kindHint {
	case models.FieldKindText:
		return n.isTextLike() && !n.looksLikeTrigger()
	case models.FieldKindSingleChoice, models.FieldKindMultiChoice:
		return n.tag == "select" || n.looksLikeTrigger() || n.isTextLike()
	case models.FieldKindBoolean:
		return false
	default:
		return n.tag == "select" || n.isTextLike() || n.looksLikeTrigger()
	}
}
