package form

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Oracle modes.
const (
	OracleModeBatch      = "batch"
	OracleModeSequential = "sequential"
)

// DefaultFallbackText is written into mandatory text fields nobody could answer.
const DefaultFallbackText = "N/A"

// Default selectors. They stay within plain tag, attribute and class selectors.
const (
	DefaultLabelSelector  = `label, [class*="label"]`
	DefaultOptionSelector = `[role="option"]`
	DefaultDialogSelector = `[role="dialog"], [aria-modal="true"]`
)

// Timeouts bounds every page wait the engine performs.
type Timeouts struct {
	Poll            time.Duration `yaml:"poll"`
	OptionPanel     time.Duration `yaml:"option_panel"`     // custom choice panel to open
	PanelClose      time.Duration `yaml:"panel_close"`      // panel to close after a pick or dismissal
	ToggleFlip      time.Duration `yaml:"toggle_flip"`      // boolean control to change state after a click
	SecondaryDialog time.Duration `yaml:"secondary_dialog"` // terms dialog to appear
	DialogClose     time.Duration `yaml:"dialog_close"`     // terms dialog to disappear after confirming
	Submission      time.Duration `yaml:"submission"`       // form container to disappear after submitting
}

// DefaultTimeouts returns production wait bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Poll:            100 * time.Millisecond,
		OptionPanel:     3 * time.Second,
		PanelClose:      2 * time.Second,
		ToggleFlip:      1500 * time.Millisecond,
		SecondaryDialog: 5 * time.Second,
		DialogClose:     10 * time.Second,
		Submission:      15 * time.Second,
	}
}

// withDefaults fills zero durations from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Poll, d.Poll)
	fill(&t.OptionPanel, d.OptionPanel)
	fill(&t.PanelClose, d.PanelClose)
	fill(&t.ToggleFlip, d.ToggleFlip)
	fill(&t.SecondaryDialog, d.SecondaryDialog)
	fill(&t.DialogClose, d.DialogClose)
	fill(&t.Submission, d.Submission)
	return t
}

// DiagnosticSink receives markup snapshots of pages the engine could not read.
type DiagnosticSink interface {
	Snapshot(reason, markup string)
}

// Opts holds configuration options for the engine.
type Opts struct {
	Timeouts      Timeouts
	FallbackText  string
	OracleMode    string
	Instructions  string // appended to the built-in oracle instructions
	LabelSelector string
	Sink          DiagnosticSink
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithTimeouts sets the page wait bounds. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(o *Opts) { o.Timeouts = t }
}

// WithFallbackText sets the literal written into unanswerable mandatory text fields.
func WithFallbackText(text string) Option {
	return func(o *Opts) { o.FallbackText = text }
}

// WithOracleMode selects batch or sequential oracle calls.
func WithOracleMode(mode string) Option {
	return func(o *Opts) { o.OracleMode = mode }
}

// WithInstructions appends operator instructions to every oracle prompt.
func WithInstructions(instructions string) Option {
	return func(o *Opts) { o.Instructions = instructions }
}

// WithLabelSelector overrides the selector used to find field labels.
func WithLabelSelector(sel string) Option {
	return func(o *Opts) { o.LabelSelector = sel }
}

// WithDiagnosticSink sets where markup snapshots go.
func WithDiagnosticSink(sink DiagnosticSink) Option {
	return func(o *Opts) { o.Sink = sink }
}

// Settings is the YAML form of the engine tuning knobs.
type Settings struct {
	Timeouts      Timeouts `yaml:"timeouts"`
	FallbackText  string   `yaml:"fallback_text"`
	OracleMode    string   `yaml:"oracle_mode"`
	Instructions  string   `yaml:"instructions"`
	LabelSelector string   `yaml:"label_selector"`
}

// LoadSettings reads engine settings from a YAML file.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	switch s.OracleMode {
	case "", OracleModeBatch, OracleModeSequential:
	default:
		return s, fmt.Errorf("settings %s: unknown oracle_mode %q", path, s.OracleMode)
	}
	return s, nil
}

// Options converts settings into engine options; empty values keep the defaults.
func (s Settings) Options() []Option {
	opts := []Option{WithTimeouts(s.Timeouts)}
	if s.FallbackText != "" {
		opts = append(opts, WithFallbackText(s.FallbackText))
	}
	if s.OracleMode != "" {
		opts = append(opts, WithOracleMode(s.OracleMode))
	}
	if s.Instructions != "" {
		opts = append(opts, WithInstructions(s.Instructions))
	}
	if s.LabelSelector != "" {
		opts = append(opts, WithLabelSelector(s.LabelSelector))
	}
	return opts
}

func buildOpts(opts []Option) Opts {
	o := Opts{
		FallbackText:  DefaultFallbackText,
		OracleMode:    OracleModeBatch,
		LabelSelector: DefaultLabelSelector,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.Timeouts = o.Timeouts.withDefaults()
	return o
}
