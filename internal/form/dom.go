package form

import (
	"context"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/page"
)

// Candidate selectors per kind hint. Results are filtered again by acceptsKind.
const (
	textCandidates    = `input, textarea`
	choiceCandidates  = `select, input, [role="combobox"], [aria-haspopup], [aria-expanded]`
	booleanCandidates = `input, [role="checkbox"], [role="switch"]`
	anyCandidates     = `input, textarea, select, [role="combobox"], [aria-haspopup], [aria-expanded], [role="checkbox"], [role="switch"]`
)

var textInputTypes = map[string]bool{
	"": true, "text": true, "email": true, "tel": true, "url": true, "number": true,
	"search": true, "date": true, "datetime-local": true, "time": true, "password": true,
}

// node caches the handful of reads the heuristics need for one element.
type node struct {
	el        page.Element
	tag       string
	typ       string
	role      string
	hasPopup  bool
	expanded  bool
	multisel  bool
	required  bool
	multiple  bool
	placehold string
}

func inspect(ctx context.Context, el page.Element) node {
	n := node{el: el}
	n.tag, _ = el.TagName(ctx)
	n.typ = strings.ToLower(attrValue(ctx, el, "type"))
	n.role = strings.ToLower(attrValue(ctx, el, "role"))
	if v, ok := attrPresent(ctx, el, "aria-haspopup"); ok && v != "false" {
		n.hasPopup = true
	}
	_, n.expanded = attrPresent(ctx, el, "aria-expanded")
	n.multisel = attrValue(ctx, el, "aria-multiselectable") == "true"
	_, req := attrPresent(ctx, el, "required")
	n.required = req || attrValue(ctx, el, "aria-required") == "true"
	_, n.multiple = attrPresent(ctx, el, "multiple")
	n.placehold = attrValue(ctx, el, "placeholder")
	return n
}

func (n node) isHiddenInput() bool { return n.tag == "input" && n.typ == "hidden" }

func (n node) isCheckboxLike() bool {
	return (n.tag == "input" && n.typ == "checkbox") || n.role == "checkbox" || n.role == "switch"
}

func (n node) isTextLike() bool {
	return n.tag == "textarea" || (n.tag == "input" && textInputTypes[n.typ])
}

func (n node) looksLikeTrigger() bool {
	return n.hasPopup || n.expanded || n.role == "combobox" || isChoicePlaceholder(n.placehold)
}

func attrValue(ctx context.Context, el page.Element, name string) string {
	v, _ := attrPresent(ctx, el, name)
	return v
}

func attrPresent(ctx context.Context, el page.Element, name string) (string, bool) {
	v, ok, err := el.Attribute(ctx, name)
	if err != nil {
		return "", false
	}
	return v, ok
}

func keyOf(ctx context.Context, el page.Element) string {
	k, err := el.Key(ctx)
	if err != nil {
		return ""
	}
	return k
}

func sameElement(ctx context.Context, a, b page.Element) bool {
	if a == nil || b == nil {
		return false
	}
	ka, kb := keyOf(ctx, a), keyOf(ctx, b)
	return ka != "" && ka == kb
}

func textOf(ctx context.Context, el page.Element) string {
	t, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(t)
}

func isVisible(ctx context.Context, el page.Element) bool {
	ok, err := el.Visible(ctx)
	return err == nil && ok
}

// cssString quotes a value for an attribute selector. Values that cannot be quoted safely are
// rejected.
func cssString(v string) (string, bool) {
	if v == "" || strings.ContainsAny(v, "\"\\]\n") {
		return "", false
	}
	return `"` + v + `"`, true
}
