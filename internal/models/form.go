package models

import (
	"fmt"

	"github.com/BTreeMap/FormPipe/internal/page"
)

// FieldKind is the interaction protocol of a form field.
type FieldKind string

const (
	// FieldKindText is a free-text input or textarea.
	FieldKindText FieldKind = "text"
	// FieldKindSingleChoice accepts exactly one of a fixed option list.
	FieldKindSingleChoice FieldKind = "single_choice"
	// FieldKindMultiChoice accepts any subset of a fixed option list.
	FieldKindMultiChoice FieldKind = "multi_choice"
	// FieldKindBoolean is a checkbox or switch.
	FieldKindBoolean FieldKind = "boolean"
)

// IsChoice reports whether the kind carries an option list.
func (k FieldKind) IsChoice() bool {
	return k == FieldKindSingleChoice || k == FieldKindMultiChoice
}

// IsValidFieldKind checks if the given field kind is supported.
func IsValidFieldKind(k FieldKind) bool {
	switch k {
	case FieldKindText, FieldKindSingleChoice, FieldKindMultiChoice, FieldKindBoolean:
		return true
	default:
		return false
	}
}

// FieldRequest describes one discovered field. Identifier and Kind do not change after discovery;
// Element may go stale once the page re-renders.
type FieldRequest struct {
	Identifier      string       `json:"identifier"` // sanitized label text, mandatory marker stripped
	Kind            FieldKind    `json:"kind"`
	Options         []string     `json:"options,omitempty"` // choice kinds only, page order
	IsMandatory     bool         `json:"is_mandatory"`
	IsDirectTrigger bool         `json:"is_direct_trigger"`        // custom choice control opened by clicking the element itself
	ByPlaceholder   bool         `json:"by_placeholder,omitempty"` // identified by its placeholder, no label
	Element         page.Element `json:"-"`
}

// Answer is a decoded, kind-tagged field value.
type Answer struct {
	Kind    FieldKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Choices []string  `json:"choices,omitempty"`
	Bool    bool      `json:"bool,omitempty"`
}

// TextAnswer builds a text answer.
func TextAnswer(s string) *Answer { return &Answer{Kind: FieldKindText, Text: s} }

// SingleAnswer builds a single-choice answer.
func SingleAnswer(option string) *Answer {
	return &Answer{Kind: FieldKindSingleChoice, Choices: []string{option}}
}

// MultiAnswer builds a multi-choice answer.
func MultiAnswer(options ...string) *Answer {
	return &Answer{Kind: FieldKindMultiChoice, Choices: append([]string(nil), options...)}
}

// BoolAnswer builds a boolean answer.
func BoolAnswer(b bool) *Answer { return &Answer{Kind: FieldKindBoolean, Bool: b} }

// Value returns the plain value: string for text and single choice, []string for multi choice,
// bool for boolean.
func (a *Answer) Value() any {
	if a == nil {
		return nil
	}
	switch a.Kind {
	case FieldKindText:
		return a.Text
	case FieldKindSingleChoice:
		if len(a.Choices) == 0 {
			return nil
		}
		return a.Choices[0]
	case FieldKindMultiChoice:
		return append([]string(nil), a.Choices...)
	case FieldKindBoolean:
		return a.Bool
	default:
		return nil
	}
}

func (a *Answer) String() string {
	if a == nil {
		return "<null>"
	}
	return fmt.Sprintf("%s:%v", a.Kind, a.Value())
}

// ResolutionSource records where a field's answer came from.
type ResolutionSource string

const (
	SourceNone     ResolutionSource = "none"
	SourceProfile  ResolutionSource = "profile"
	SourceOracle   ResolutionSource = "oracle"
	SourceFallback ResolutionSource = "fallback"
)

// ResolutionStatus is the lifecycle state of one field's resolution.
type ResolutionStatus string

const (
	// StatusPending means no answer has been decided yet.
	StatusPending ResolutionStatus = "pending"
	// StatusResolved means an answer (possibly null) is decided but not yet written to the page.
	StatusResolved ResolutionStatus = "resolved"
	// StatusCommitted means the answer was written to the page.
	StatusCommitted ResolutionStatus = "committed"
	// StatusSkipped means the field is optional and left untouched.
	StatusSkipped ResolutionStatus = "skipped"
	// StatusUnresolved means no legal value could be produced or committed.
	StatusUnresolved ResolutionStatus = "unresolved"
)

// Resolution is the single per-field record threaded through the engine.
type Resolution struct {
	Field  *FieldRequest
	Answer *Answer // nil means null
	Source ResolutionSource
	Status ResolutionStatus
	Err    error
}

// NewResolution starts a pending record for a field.
func NewResolution(field *FieldRequest) *Resolution {
	return &Resolution{Field: field, Source: SourceNone, Status: StatusPending}
}

// Resolve records an answer and its source.
func (r *Resolution) Resolve(a *Answer, src ResolutionSource) {
	r.Answer = a
	r.Source = src
	r.Status = StatusResolved
	r.Err = nil
}

// Fail marks the record unresolved with a cause.
func (r *Resolution) Fail(err error) {
	r.Status = StatusUnresolved
	r.Err = err
}

// Done reports whether the record needs no further resolution.
func (r *Resolution) Done() bool {
	return r.Status != StatusPending
}

// ResolutionResult maps identifiers to plain values (string, []string, bool or nil).
type ResolutionResult map[string]any

// FieldFailure describes why one field could not be satisfied.
type FieldFailure struct {
	Identifier string    `json:"identifier"`
	Kind       FieldKind `json:"kind"`
	Mandatory  bool      `json:"mandatory"`
	Reason     string    `json:"reason"`
}

// FormOutcome is what the engine reports to its caller.
type FormOutcome struct {
	Success  bool             `json:"success"`
	Values   ResolutionResult `json:"values"`
	Reason   string           `json:"reason,omitempty"`
	Failures []FieldFailure   `json:"failures,omitempty"`
}
