package pagetest

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// selector is a comma separated list of compound selectors. Only the subset the engine uses is
// supported: tag, #id, .class and [attr], [attr="v"], [attr*="v"], [attr^="v"] filters, and the
// :checked pseudo-class. Combinators are not supported; descendant search goes through Element.Query.
type selector []compound

type compound struct {
	tag     string
	attrs   []attrFilter
	checked bool
}

type attrFilter struct {
	name string
	op   string // "", "=", "*=", "^="
	val  string
}

func parseSelector(s string) (selector, error) {
	var sel selector
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseCompound(part)
		if err != nil {
			return nil, err
		}
		sel = append(sel, c)
	}
	if len(sel) == 0 {
		return nil, fmt.Errorf("empty selector %q", s)
	}
	return sel, nil
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	for i < len(s) && isIdent(s[i]) {
		i++
	}
	c.tag = strings.ToLower(s[:i])
	if c.tag == "*" {
		c.tag = ""
	}
	if i < len(s) && s[i] == '*' {
		i++
	}
	for i < len(s) {
		switch s[i] {
		case '#', '.':
			j := i + 1
			for j < len(s) && isIdent(s[j]) {
				j++
			}
			name := "id"
			op := "="
			if s[i] == '.' {
				name, op = "class", "~="
			}
			c.attrs = append(c.attrs, attrFilter{name: name, op: op, val: s[i+1 : j]})
			i = j
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute selector in %q", s)
			}
			c.attrs = append(c.attrs, parseAttr(s[i+1:i+end]))
			i += end + 1
		case ':':
			j := i + 1
			for j < len(s) && isIdent(s[j]) {
				j++
			}
			if s[i+1:j] != "checked" {
				return c, fmt.Errorf("unsupported pseudo-class in %q", s)
			}
			c.checked = true
			i = j
		default:
			return c, fmt.Errorf("unsupported selector syntax %q", s)
		}
	}
	return c, nil
}

func parseAttr(body string) attrFilter {
	for _, op := range []string{"*=", "^=", "="} {
		if idx := strings.Index(body, op); idx >= 0 {
			val := strings.Trim(strings.TrimSpace(body[idx+len(op):]), `"'`)
			return attrFilter{name: strings.TrimSpace(body[:idx]), op: op, val: val}
		}
	}
	return attrFilter{name: strings.TrimSpace(body)}
}

func isIdent(b byte) bool {
	return b == '-' || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (sel selector) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range sel {
		if c.match(n) {
			return true
		}
	}
	return false
}

func (c compound) match(n *html.Node) bool {
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.checked && !isSelected(n) {
		return false
	}
	for _, f := range c.attrs {
		val, ok := attr(n, f.name)
		if !ok {
			return false
		}
		switch f.op {
		case "=":
			if val != f.val {
				return false
			}
		case "*=":
			if !strings.Contains(val, f.val) {
				return false
			}
		case "^=":
			if !strings.HasPrefix(val, f.val) {
				return false
			}
		case "~=":
			found := false
			for _, cls := range strings.Fields(val) {
				if cls == f.val {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// isSelected mirrors :checked for selected options and checked inputs.
func isSelected(n *html.Node) bool {
	name := "checked"
	if n.Data == "option" {
		name = "selected"
	}
	_, ok := attr(n, name)
	return ok
}
