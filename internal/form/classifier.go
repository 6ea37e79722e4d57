package form

import (
	"context"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
)

var (
	singleChoicePlaceholders = []string{"select an option", "select...", "choose an option", "select one"}
	multiChoiceWording       = []string{"select one or more", "select all that apply", "choose one or more", "select multiple"}
)

func isChoicePlaceholder(text string) bool {
	return isSingleChoicePlaceholder(text) || isMultiChoiceWording(text)
}

func isSingleChoicePlaceholder(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, p := range singleChoicePlaceholders {
		if t == p || strings.TrimRight(t, ".") == strings.TrimRight(p, ".") {
			return true
		}
	}
	return false
}

func isMultiChoiceWording(text string) bool {
	t := strings.ToLower(text)
	for _, w := range multiChoiceWording {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

// Shape is the classification of one element.
type Shape struct {
	Kind            models.FieldKind
	Options         []string
	IsDirectTrigger bool
	IsMandatory     bool
}

// Classifier assigns a field kind to candidate elements.
type Classifier struct{}

// Classify decides the kind of el. rawLabel is the unsanitized label text, used for the mandatory
// marker and multi-choice wording. Elements that are not fields report false.
func (c Classifier) Classify(ctx context.Context, el page.Element, rawLabel string) (Shape, bool) {
	n := inspect(ctx, el)
	shape := Shape{IsMandatory: HasMandatoryMarker(rawLabel) || n.required}

	switch {
	case n.isHiddenInput():
		return Shape{}, false
	case n.tag == "select":
		shape.Kind = models.FieldKindSingleChoice
		if n.multiple {
			shape.Kind = models.FieldKindMultiChoice
		}
		shape.Options = nativeOptions(ctx, el)
	case n.tag == "textarea":
		shape.Kind = models.FieldKindText
	case n.isCheckboxLike():
		shape.Kind = models.FieldKindBoolean
	case n.isTextLike() && !n.looksLikeTrigger():
		shape.Kind = models.FieldKindText
	case n.looksLikeTrigger() || isChoicePlaceholder(textOf(ctx, el)):
		shape.IsDirectTrigger = true
		shape.Kind = models.FieldKindSingleChoice
		if n.multisel || isMultiChoiceWording(n.placehold) || isMultiChoiceWording(textOf(ctx, el)) || isMultiChoiceWording(rawLabel) {
			shape.Kind = models.FieldKindMultiChoice
		}
	default:
		return Shape{}, false
	}
	return shape, true
}

// nativeOptions reads option labels of a select, dropping placeholder options with an empty value.
func nativeOptions(ctx context.Context, sel page.Element) []string {
	opts, err := sel.Query(ctx, "option")
	if err != nil {
		return nil
	}
	var out []string
	for _, o := range opts {
		if v, ok := attrPresent(ctx, o, "value"); ok && strings.TrimSpace(v) == "" {
			continue
		}
		if label := textOf(ctx, o); label != "" {
			out = append(out, label)
		}
	}
	return out
}
