package form

import (
	"fmt"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Fallback returns the default answer for a field the oracle could not answer. Optional fields get
// nil (left untouched). A mandatory choice field without options cannot be satisfied.
func Fallback(field *models.FieldRequest, fallbackText string) (*models.Answer, error) {
	if !field.IsMandatory {
		return nil, nil
	}
	switch field.Kind {
	case models.FieldKindBoolean:
		return models.BoolAnswer(true), nil
	case models.FieldKindSingleChoice:
		if len(field.Options) == 0 {
			return nil, fmt.Errorf("%q has no options: %w", field.Identifier, ErrMandatoryUnresolved)
		}
		return models.SingleAnswer(field.Options[0]), nil
	case models.FieldKindMultiChoice:
		if len(field.Options) == 0 {
			return nil, fmt.Errorf("%q has no options: %w", field.Identifier, ErrMandatoryUnresolved)
		}
		return models.MultiAnswer(field.Options[0]), nil
	case models.FieldKindText:
		if fallbackText == "" {
			fallbackText = DefaultFallbackText
		}
		return models.TextAnswer(fallbackText), nil
	default:
		return nil, fmt.Errorf("%q has unknown kind %q: %w", field.Identifier, field.Kind, ErrMandatoryUnresolved)
	}
}

// Acceptable reports whether an answer is a legal value for field. A mandatory boolean answered
// false is not.
func Acceptable(field *models.FieldRequest, a *models.Answer) bool {
	if a == nil || a.Kind != field.Kind {
		return false
	}
	switch field.Kind {
	case models.FieldKindBoolean:
		return a.Bool || !field.IsMandatory
	case models.FieldKindText:
		return a.Text != ""
	case models.FieldKindSingleChoice:
		return len(a.Choices) == 1 && (len(field.Options) == 0 || hasOption(field.Options, a.Choices[0]))
	case models.FieldKindMultiChoice:
		if len(a.Choices) == 0 {
			return false
		}
		for _, c := range a.Choices {
			if len(field.Options) > 0 && !hasOption(field.Options, c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func hasOption(options []string, choice string) bool {
	for _, o := range options {
		if o == choice {
			return true
		}
	}
	return false
}

// MatchOption maps free text onto one of options: exact, then case-insensitive after sanitizing.
func MatchOption(options []string, text string) (string, bool) {
	for _, o := range options {
		if o == text {
			return o, true
		}
	}
	for _, o := range options {
		if SameIdentifier(o, text) {
			return o, true
		}
	}
	return "", false
}
