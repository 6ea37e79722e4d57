package oracle_test

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FormPipe/internal/form"
	"github.com/BTreeMap/FormPipe/internal/genai"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/oracle"
	"github.com/BTreeMap/FormPipe/internal/page/pagetest"
)

type cannedCompleter struct {
	reply  string
	prompt string
}

func (c *cannedCompleter) Complete(ctx context.Context, messages []genai.Message) (string, error) {
	c.prompt = messages[len(messages)-1].Content
	return c.reply, nil
}

type profile map[string]string

func (p profile) Lookup(identifier string) (string, bool) {
	for k, v := range p {
		if form.SameIdentifier(k, identifier) {
			return v, true
		}
	}
	return "", false
}

func (p profile) FullName() (string, bool) { return "", false }

func (p profile) Summary() map[string]string { return p }

func TestEngineWithOracle(t *testing.T) {
	pg := pagetest.New(`<div id="form" role="dialog">
	  <div class="field"><label for="f1">field1 *</label><input id="f1" type="text"></div>
	  <div class="field"><label for="f2">field2</label><input id="f2" type="text"></div>
	  <div class="field"><label>choice *</label>
	    <div id="choice" role="combobox" aria-haspopup="listbox" data-opens="choice-list">Select an option</div>
	  </div>
	  <div id="choice-list" role="listbox" data-for="choice" hidden>
	    <div role="option">Option1</div><div role="option">Option2</div><div role="option">Option3</div>
	  </div>
	  <button type="submit" data-closes="form">Register</button>
	</div>`)
	completer := &cannedCompleter{reply: `{"field1":"NULL","field2":"<ignored>","choice":"Option2"}`}
	engine := form.NewEngine(oracle.New(completer, oracle.WithBackoff(0)), form.WithTimeouts(form.Timeouts{
		Poll:            time.Millisecond,
		OptionPanel:     60 * time.Millisecond,
		PanelClose:      60 * time.Millisecond,
		ToggleFlip:      20 * time.Millisecond,
		SecondaryDialog: 60 * time.Millisecond,
		DialogClose:     60 * time.Millisecond,
		Submission:      60 * time.Millisecond,
	}))

	out, err := engine.Run(context.Background(), pg, pg.MustFind("#form"), profile{"field2": "profile value"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := models.ResolutionResult{"field1": "N/A", "field2": "profile value", "choice": "Option2"}
	if !reflect.DeepEqual(out.Values, want) {
		t.Errorf("values = %#v, want %#v", out.Values, want)
	}
	if strings.Contains(completer.prompt, `"field2"`) {
		t.Error("profile-resolved field was sent to the oracle")
	}
	if !strings.Contains(completer.prompt, `"Option1", "Option2", "Option3"`) {
		t.Errorf("extracted options missing from prompt:\n%s", completer.prompt)
	}
	if pg.MustFind("#form").IsVisible() {
		t.Error("form not submitted")
	}
}
