package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/form"
	"github.com/BTreeMap/FormPipe/internal/models"
)

// ErrNoStructuredReply means no JSON value of the expected shape could be located in a reply.
var ErrNoStructuredReply = errors.New("no structured reply")

var (
	fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n?(.*?)```")
	objectStart = regexp.MustCompile(`\{\s*"`)
	arrayStart  = regexp.MustCompile(`\[\s*[\["{0-9tfn-]`)
)

// ExtractObject coerces a reply into a JSON object. It tries the whole reply, then each fenced
// block, then the first balanced {...} span.
func ExtractObject(reply string) (map[string]json.RawMessage, error) {
	for _, cand := range candidates(reply, objectStart, '{', '}') {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(cand), &obj); err == nil && obj != nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("object: %w", ErrNoStructuredReply)
}

// ExtractArray coerces a reply into a JSON array, with the same fallbacks as ExtractObject.
func ExtractArray(reply string) ([]json.RawMessage, error) {
	for _, cand := range candidates(reply, arrayStart, '[', ']') {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(cand), &arr); err == nil && arr != nil {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("array: %w", ErrNoStructuredReply)
}

func candidates(reply string, start *regexp.Regexp, open, close byte) []string {
	reply = strings.TrimSpace(reply)
	out := []string{reply}
	for _, m := range fencedBlock.FindAllStringSubmatch(reply, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if loc := start.FindStringIndex(reply); loc != nil {
		if span, ok := balanced(reply[loc[0]:], open, close); ok {
			out = append(out, span)
		}
	}
	return out
}

// balanced returns the prefix of s, which starts with open, up to its matching close. Brackets
// inside JSON strings are ignored.
func balanced(s string, open, close byte) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// MatchKeys maps reply keys onto the requested fields. A key equal to an identifier wins, then
// re-sanitized keys match exactly, then case-insensitively. Ties go to the lexically smallest key.
// Keys that match no requested field are dropped.
func MatchKeys(obj map[string]json.RawMessage, fields []*models.FieldRequest) map[string]json.RawMessage {
	byID := make(map[string]*models.FieldRequest, len(fields))
	for _, f := range fields {
		byID[f.Identifier] = f
	}
	keys := slices.Sorted(maps.Keys(obj))
	out := make(map[string]json.RawMessage, len(obj))
	used := make(map[string]bool, len(obj))

	for _, key := range keys {
		if _, ok := byID[key]; ok {
			out[key] = obj[key]
			used[key] = true
		}
	}
	for _, key := range keys {
		if used[key] {
			continue
		}
		id := form.Sanitize(key)
		if _, ok := byID[id]; !ok {
			continue
		}
		if _, taken := out[id]; taken {
			continue
		}
		out[id] = obj[key]
		used[key] = true
	}
	for _, key := range keys {
		if used[key] {
			continue
		}
		id := form.Sanitize(key)
		matched := false
		for _, f := range fields {
			if _, taken := out[f.Identifier]; taken {
				continue
			}
			if strings.EqualFold(f.Identifier, id) {
				out[f.Identifier] = obj[key]
				matched = true
				break
			}
		}
		if !matched {
			slog.Debug("oracle.MatchKeys: dropping unrequested key", "key", key)
		}
	}
	return out
}

// Decode turns one raw reply value into an answer for field. Absent values, JSON null, the NULL
// sentinel, values of the wrong type and choices outside the option list are all rejected with
// form.ErrOracleAnswerInvalid.
func Decode(field *models.FieldRequest, raw json.RawMessage) (models.Answer, error) {
	invalid := func(why string) (models.Answer, error) {
		return models.Answer{}, fmt.Errorf("%q: %s: %w", field.Identifier, why, form.ErrOracleAnswerInvalid)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return invalid("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return invalid("malformed value")
	}
	if s, ok := v.(string); ok && isNull(s) {
		return invalid("null sentinel")
	}

	switch field.Kind {
	case models.FieldKindText:
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) == "" {
				return invalid("empty text")
			}
			return *models.TextAnswer(strings.TrimSpace(t)), nil
		case float64:
			return *models.TextAnswer(string(raw)), nil
		}
		return invalid("text expected")

	case models.FieldKindSingleChoice:
		var choice string
		switch t := v.(type) {
		case string:
			choice = t
		case []any:
			if len(t) != 1 {
				return invalid("one choice expected")
			}
			s, ok := t[0].(string)
			if !ok {
				return invalid("choice must be a string")
			}
			choice = s
		default:
			return invalid("choice expected")
		}
		opt, ok := pick(field.Options, choice)
		if !ok {
			return invalid("not an option")
		}
		return *models.SingleAnswer(opt), nil

	case models.FieldKindMultiChoice:
		var raws []any
		switch t := v.(type) {
		case string:
			raws = []any{t}
		case []any:
			raws = t
		default:
			return invalid("choice list expected")
		}
		var picked []string
		seen := map[string]bool{}
		for _, r := range raws {
			s, ok := r.(string)
			if !ok || isNull(s) {
				continue
			}
			if opt, ok := pick(field.Options, s); ok && !seen[opt] {
				seen[opt] = true
				picked = append(picked, opt)
			}
		}
		if len(picked) == 0 {
			return invalid("no listed option")
		}
		return *models.MultiAnswer(picked...), nil

	case models.FieldKindBoolean:
		switch t := v.(type) {
		case bool:
			return *models.BoolAnswer(t), nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "yes":
				return *models.BoolAnswer(true), nil
			case "false", "no":
				return *models.BoolAnswer(false), nil
			}
		}
		return invalid("boolean expected")
	}
	return invalid("unknown kind")
}

func pick(options []string, choice string) (string, bool) {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return "", false
	}
	if len(options) == 0 {
		return choice, true
	}
	return form.MatchOption(options, choice)
}

func isNull(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), NullSentinel)
}
