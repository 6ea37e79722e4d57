package form

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page/pagetest"
)

func newTestCommitter() *Committer {
	r := NewResolver("")
	return NewCommitter(r, NewTermsHandler(testTimeouts()), testTimeouts())
}

func TestCommitText(t *testing.T) {
	pg := pagetest.New(`<div id="form"><div><label for="n">Name *</label><input id="n" value="old"></div></div>`)
	field := &models.FieldRequest{Identifier: "Name", Kind: models.FieldKindText, IsMandatory: true}
	r := models.NewResolution(field)
	r.Resolve(models.TextAnswer("Ada"), models.SourceProfile)

	if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := pg.MustFind("#n").Value(); got != "Ada" {
		t.Errorf("value = %q, want Ada", got)
	}
}

func TestCommitReResolvesStaleHandle(t *testing.T) {
	pg := pagetest.New(`<div id="form"><div><label for="n">Name</label><input id="n"></div><input id="other"></div>`)
	field := &models.FieldRequest{Identifier: "Name", Kind: models.FieldKindText, Element: pg.MustFind("#other")}
	r := models.NewResolution(field)
	r.Resolve(models.TextAnswer("Ada"), models.SourceOracle)

	if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if pg.MustFind("#n").Value() != "Ada" || pg.MustFind("#other").Value() != "" {
		t.Error("commit should write into the re-resolved field, not the captured handle")
	}
}

func TestCommitMissingField(t *testing.T) {
	pg := pagetest.New(`<div id="form"></div>`)
	r := models.NewResolution(&models.FieldRequest{Identifier: "Gone", Kind: models.FieldKindText})
	r.Resolve(models.TextAnswer("x"), models.SourceOracle)

	err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil)
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("Commit error = %v, want ErrElementNotFound", err)
	}
}

func TestCommitNativeSingleChoice(t *testing.T) {
	pg := pagetest.New(`<div id="form"><div><label for="s">Pick one</label>
	  <select id="s"><option value="">Select...</option><option>A</option><option>B</option><option>C</option></select></div></div>`)
	field := &models.FieldRequest{Identifier: "Pick one", Kind: models.FieldKindSingleChoice, Options: []string{"A", "B", "C"}}
	r := models.NewResolution(field)
	r.Resolve(models.SingleAnswer("B"), models.SourceOracle)

	if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := pg.MustFind("#s").SelectedOption(); got != "B" {
		t.Errorf("selected = %q, want exactly B", got)
	}
}

// inertSelect accepts every selection and changes nothing.
type inertSelect struct{ *pagetest.Element }

func (inertSelect) SelectOption(ctx context.Context, labels ...string) error { return nil }

func TestCommitNativeSingleChoiceNotTaken(t *testing.T) {
	pg := pagetest.New(`<div id="form"><div><label for="s">Pick one</label>
	  <select id="s"><option>A</option><option selected>B</option></select></div></div>`)
	field := &models.FieldRequest{Identifier: "Pick one", Kind: models.FieldKindSingleChoice, Options: []string{"A", "B"}}

	err := newTestCommitter().commitSingle(context.Background(), pg, field, inertSelect{pg.MustFind("#s")}, "A")
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("commitSingle error = %v, want ErrElementNotFound", err)
	}
	if err := newTestCommitter().commitSingle(context.Background(), pg, field, inertSelect{pg.MustFind("#s")}, "B"); err != nil {
		t.Errorf("already selected option: %v", err)
	}
}

const customChoiceMarkup = `<div id="form">
  <div class="field"><label>Pick one</label>
    <div id="pick" role="combobox" aria-haspopup="listbox" data-opens="pick-list">Select an option</div></div>
  <div id="pick-list" role="listbox" data-for="pick" hidden>
    <div id="oa" role="option">A</div><div id="ob" role="option">B</div><div id="oc" role="option">C (sold out)</div>
  </div>
  <div class="field"><label>Topics</label>
    <div id="topics" role="combobox" aria-haspopup="listbox" aria-multiselectable="true" data-opens="topics-list">Select one or more</div></div>
  <div id="topics-list" role="listbox" data-for="topics" data-multi hidden>
    <div id="ox" role="option">X</div><div id="oy" role="option">Y</div>
  </div>
</div>`

func TestCommitCustomSingleChoice(t *testing.T) {
	tests := []struct {
		name   string
		choice string
		want   string
	}{
		{"exact", "B", "B"},
		{"prefix", "C", "C (sold out)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg := pagetest.New(customChoiceMarkup)
			field := &models.FieldRequest{Identifier: "Pick one", Kind: models.FieldKindSingleChoice, IsDirectTrigger: true, Element: pg.MustFind("#pick")}
			r := models.NewResolution(field)
			r.Resolve(models.SingleAnswer(tt.choice), models.SourceOracle)

			if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if got := pg.MustFind("#pick").Attr("data-value"); got != tt.want {
				t.Errorf("selected = %q, want %q", got, tt.want)
			}
			if pg.MustFind("#pick-list").IsVisible() {
				t.Error("panel left open after selection")
			}
		})
	}
}

func TestCommitMultiChoiceAttemptsAll(t *testing.T) {
	pg := pagetest.New(customChoiceMarkup)
	field := &models.FieldRequest{Identifier: "Topics", Kind: models.FieldKindMultiChoice, IsDirectTrigger: true, Options: []string{"X", "Y"}, Element: pg.MustFind("#topics")}
	r := models.NewResolution(field)
	r.Resolve(models.MultiAnswer("X", "Y"), models.SourceOracle)

	if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := pg.MustFind("#topics").Attr("data-value"); got != "X|Y" {
		t.Errorf("selected = %q, want X|Y", got)
	}
	if pg.MustFind("#topics-list").IsVisible() {
		t.Error("multi-choice panel left open")
	}
}

func TestCommitMultiChoicePartialSuccess(t *testing.T) {
	pg := pagetest.New(customChoiceMarkup)
	field := &models.FieldRequest{Identifier: "Topics", Kind: models.FieldKindMultiChoice, IsDirectTrigger: true, Element: pg.MustFind("#topics")}
	r := models.NewResolution(field)
	r.Resolve(models.MultiAnswer("X", "Missing"), models.SourceOracle)

	if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
		t.Fatalf("one committed option should be enough, got %v", err)
	}
	if got := pg.MustFind("#topics").Attr("data-value"); got != "X" {
		t.Errorf("selected = %q, want X", got)
	}
}

func TestCommitCustomSingleChoiceNotTaken(t *testing.T) {
	pg := pagetest.New(customChoiceMarkup)
	// The widget swallows option clicks without selecting anything.
	pg.OnClick(func(p *pagetest.Page, el *pagetest.Element) bool {
		return el.Attr("role") == "option"
	})
	field := &models.FieldRequest{Identifier: "Pick one", Kind: models.FieldKindSingleChoice, IsDirectTrigger: true, IsMandatory: true, Element: pg.MustFind("#pick")}
	r := models.NewResolution(field)
	r.Resolve(models.SingleAnswer("B"), models.SourceOracle)

	err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil)
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("Commit error = %v, want ErrElementNotFound", err)
	}
	if got := pg.MustFind("#pick").Attr("data-value"); got != "" {
		t.Errorf("data-value = %q, want nothing selected", got)
	}
	if pg.MustFind("#pick-list").IsVisible() {
		t.Error("panel left open after a failed pick")
	}
}

func TestCommitNativeMultiChoice(t *testing.T) {
	pg := pagetest.New(`<div id="form"><div><label for="langs">Languages</label>
	  <select id="langs" multiple><option>Go</option><option>Rust</option><option>Zig</option></select></div></div>`)
	field := &models.FieldRequest{Identifier: "Languages", Kind: models.FieldKindMultiChoice, Options: []string{"Go", "Rust", "Zig"}}
	r := models.NewResolution(field)
	r.Resolve(models.MultiAnswer("go", "Zig", "Cobol"), models.SourceOracle)

	if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := pg.MustFind("#langs").SelectedOptions(); !reflect.DeepEqual(got, []string{"Go", "Zig"}) {
		t.Errorf("selected = %v, want [Go Zig]", got)
	}

	r.Resolve(models.MultiAnswer("Cobol"), models.SourceOracle)
	err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil)
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("Commit with no offered option = %v, want ErrElementNotFound", err)
	}
}

func TestCommitPlaceholderFieldBesideSimilarLabel(t *testing.T) {
	pg := pagetest.New(`<div id="form">
	  <div class="field"><label for="work">Work email</label><input id="work" type="email"></div>
	  <input id="plain" type="email" placeholder="Email">
	</div>`)
	field := &models.FieldRequest{Identifier: "Email", Kind: models.FieldKindText, ByPlaceholder: true}
	r := models.NewResolution(field)
	r.Resolve(models.TextAnswer("ada@example.com"), models.SourceOracle)

	if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := pg.MustFind("#plain").Value(); got != "ada@example.com" {
		t.Errorf("#plain = %q, want the email", got)
	}
	if got := pg.MustFind("#work").Value(); got != "" {
		t.Errorf("#work = %q, want untouched", got)
	}
}

func TestCommitBoolean(t *testing.T) {
	tests := []struct {
		name   string
		markup string
	}{
		{"label for", `<div id="form"><div><input id="cb" type="checkbox"><label for="cb">Subscribe</label></div></div>`},
		{"wrapping label", `<div id="form"><label>Subscribe <input id="cb" type="checkbox"></label></div>`},
		{"custom switch", `<div id="form"><div><span class="label">Subscribe</span><div id="cb" role="switch" aria-checked="false"></div></div></div>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg := pagetest.New(tt.markup)
			r := models.NewResolution(&models.FieldRequest{Identifier: "Subscribe", Kind: models.FieldKindBoolean})
			r.Resolve(models.BoolAnswer(true), models.SourceOracle)

			if err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, nil); err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if !pg.MustFind("#cb").IsChecked() {
				t.Error("control not checked")
			}
		})
	}
}

const termsMarkup = `<div id="form">
  <div class="field"><input id="terms" type="checkbox" data-stubborn data-opens="sign"><label for="terms">I accept the terms *</label></div>
  <button type="submit" data-closes="form">Register</button>
</div>
<div id="sign" role="dialog" hidden>
  <p>Please sign</p>
  <input id="signature" type="text" placeholder="Type your full name">
  <button id="cancel" data-closes="sign-never">Cancel</button>
  <button id="do-sign" data-closes="sign">Sign</button>
</div>`

func TestCommitBooleanTermsSubflow(t *testing.T) {
	pg := pagetest.New(termsMarkup)
	r := models.NewResolution(&models.FieldRequest{Identifier: "I accept the terms", Kind: models.FieldKindBoolean, IsMandatory: true})
	r.Resolve(models.BoolAnswer(true), models.SourceFallback)

	err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, mockProfile{name: "Ada Lovelace"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := pg.MustFind("#signature").Value(); got != "Ada Lovelace" {
		t.Errorf("signature = %q, want Ada Lovelace", got)
	}
	if pg.MustFind("#sign").IsVisible() {
		t.Error("terms dialog still open")
	}
}

func TestCommitBooleanTermsFailures(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		profile Profile
		wantErr error
	}{
		{
			name:    "no dialog",
			markup:  `<div id="form"><div><input id="terms" type="checkbox" data-stubborn><label for="terms">I accept the terms *</label></div></div>`,
			profile: mockProfile{name: "Ada Lovelace"},
			wantErr: ErrSecondaryDialogTimeout,
		},
		{
			name:    "no full name",
			markup:  termsMarkup,
			profile: mockProfile{},
			wantErr: ErrMandatoryUnresolved,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg := pagetest.New(tt.markup)
			r := models.NewResolution(&models.FieldRequest{Identifier: "I accept the terms", Kind: models.FieldKindBoolean, IsMandatory: true})
			r.Resolve(models.BoolAnswer(true), models.SourceFallback)

			err := newTestCommitter().Commit(context.Background(), pg, pg.MustFind("#form"), r, tt.profile)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Commit error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
