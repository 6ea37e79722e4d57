// Package profile loads the registrant's profile: a flat map of answers keyed by the label text
// they answer.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/FormPipe/internal/form"
)

// ErrEmptyProfile is returned when a profile file holds no entries.
var ErrEmptyProfile = errors.New("profile has no entries")

var (
	fullNameKeys  = []string{"Full Name", "Name", "Your Name"}
	firstNameKeys = []string{"First Name", "Given Name"}
	lastNameKeys  = []string{"Last Name", "Surname", "Family Name"}
)

// Profile is read-only after loading and safe for concurrent use.
type Profile struct {
	values map[string]string // original keys
	index  map[string]string // lower-cased sanitized key -> original key
}

var _ form.Profile = (*Profile)(nil)

// New builds a profile from values. Keys are matched after sanitizing, case-insensitively.
func New(values map[string]string) *Profile {
	p := &Profile{values: make(map[string]string, len(values)), index: make(map[string]string, len(values))}
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		p.values[key] = strings.TrimSpace(v)
		norm := normalize(key)
		if prev, ok := p.index[norm]; ok {
			slog.Warn("profile.New: duplicate key after normalizing", "key", key, "previous", prev)
			if prev < key {
				continue
			}
		}
		p.index[norm] = key
	}
	return p
}

// Load reads a YAML (.yaml, .yml) or JSON (.json) file holding a flat mapping. Scalar values of
// any type are kept as their text form.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported profile format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
		case map[string]any, []any:
			slog.Warn("profile.Load: skipping nested value", "key", k)
		case float64:
			values[k] = strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
		default:
			values[k] = fmt.Sprint(t)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyProfile)
	}
	slog.Info("profile.Load: profile loaded", "path", path, "entries", len(values))
	return New(values), nil
}

// Lookup returns the non-empty value stored under identifier.
func (p *Profile) Lookup(identifier string) (string, bool) {
	if p == nil {
		return "", false
	}
	key, ok := p.index[normalize(identifier)]
	if !ok {
		return "", false
	}
	v := p.values[key]
	return v, v != ""
}

// FullName returns the signature name: a full-name entry, else first and last name joined.
func (p *Profile) FullName() (string, bool) {
	for _, k := range fullNameKeys {
		if v, ok := p.Lookup(k); ok {
			return v, true
		}
	}
	first, okFirst := p.first(firstNameKeys)
	last, okLast := p.first(lastNameKeys)
	if !okFirst && !okLast {
		return "", false
	}
	return strings.TrimSpace(first + " " + last), true
}

// Summary returns a copy of all non-empty entries.
func (p *Profile) Summary() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Len returns the number of entries.
func (p *Profile) Len() int { return len(p.values) }

func (p *Profile) first(keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := p.Lookup(k); ok {
			return v, true
		}
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(form.Sanitize(s))
}
