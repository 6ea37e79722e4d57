package oracle

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FormPipe/internal/genai"
	"github.com/BTreeMap/FormPipe/internal/models"
)

func testFields() []*models.FieldRequest {
	return []*models.FieldRequest{
		{Identifier: "field1", Kind: models.FieldKindText, IsMandatory: true},
		{Identifier: "choice", Kind: models.FieldKindSingleChoice, IsMandatory: true, Options: []string{"Option1", "Option2", "Option3"}},
		{Identifier: "Topics", Kind: models.FieldKindMultiChoice, Options: []string{"Go", "Rust"}},
		{Identifier: "I agree", Kind: models.FieldKindBoolean, IsMandatory: true},
	}
}

func newTestOracle(c genai.Completer, opts ...Option) *Oracle {
	return New(c, append([]Option{WithBackoff(0)}, opts...)...)
}

func TestResolveBatch_Success(t *testing.T) {
	mock := &mockCompleter{replies: []string{
		"```json\n" + `{"field1":"NULL","field2":"<ignored>","choice":"Option2","topics":["Rust"],"I agree":true}` + "\n```",
	}}
	got := newTestOracle(mock).ResolveBatch(context.Background(), testFields(), mockProfile{"Email": "ada@example.com"}, "")

	want := map[string]any{"choice": "Option2", "Topics": []string{"Rust"}, "I agree": true}
	if len(got) != len(want) {
		t.Fatalf("answers = %v, want %v", got, want)
	}
	for id, v := range want {
		a, ok := got[id]
		if !ok {
			t.Errorf("missing answer for %q", id)
			continue
		}
		if !reflect.DeepEqual(a.Value(), v) {
			t.Errorf("%q = %#v, want %#v", id, a.Value(), v)
		}
	}
	if _, ok := got["field1"]; ok {
		t.Error("NULL sentinel decoded as an answer")
	}
	if _, ok := got["field2"]; ok {
		t.Error("unrequested key was merged")
	}
	if mock.calls != 1 {
		t.Errorf("calls = %d, want 1", mock.calls)
	}
}

func TestResolveBatch_RetriesUntilParsable(t *testing.T) {
	mock := &mockCompleter{
		errs:    []error{errors.New("502 bad gateway")},
		replies: []string{"", "I am not sure.", `{"field1":"Ada"}`},
	}
	got := newTestOracle(mock).ResolveBatch(context.Background(), testFields(), nil, "")
	if mock.calls != 3 {
		t.Errorf("calls = %d, want 3", mock.calls)
	}
	if got["field1"].Text != "Ada" {
		t.Errorf("field1 = %v, want Ada", got["field1"])
	}
}

func TestResolveBatch_ExhaustedReturnsEmpty(t *testing.T) {
	mock := &mockCompleter{replies: []string{"no json here"}}
	got := newTestOracle(mock).ResolveBatch(context.Background(), testFields(), nil, "")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil map, got %v", got)
	}
	if mock.calls != DefaultAttempts {
		t.Errorf("calls = %d, want %d", mock.calls, DefaultAttempts)
	}
}

func TestResolveBatch_AttemptTimeout(t *testing.T) {
	b := &blockingCompleter{}
	start := time.Now()
	got := newTestOracle(b, WithAttempts(2), WithAttemptTimeout(10*time.Millisecond)).
		ResolveBatch(context.Background(), testFields(), nil, "")
	if len(got) != 0 {
		t.Errorf("expected no answers, got %v", got)
	}
	if b.calls != 2 {
		t.Errorf("calls = %d, want 2", b.calls)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("attempt timeout not applied")
	}
}

func TestResolveBatch_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &mockCompleter{errs: []error{context.Canceled, context.Canceled, context.Canceled}}
	got := New(mock, WithBackoff(time.Hour)).ResolveBatch(ctx, testFields(), nil, "")
	if len(got) != 0 {
		t.Errorf("expected no answers, got %v", got)
	}
	if mock.calls != 1 {
		t.Errorf("calls = %d, want 1", mock.calls)
	}
}

func TestResolveBatch_NoFieldsOrCompleter(t *testing.T) {
	mock := &mockCompleter{replies: []string{`{}`}}
	if got := newTestOracle(mock).ResolveBatch(context.Background(), nil, nil, ""); len(got) != 0 || mock.calls != 0 {
		t.Errorf("empty batch should not call the model: %v, calls %d", got, mock.calls)
	}
	if got := newTestOracle(nil).ResolveBatch(context.Background(), testFields(), nil, ""); got == nil || len(got) != 0 {
		t.Errorf("nil completer should answer nothing, got %v", got)
	}
}

func TestResolveSequential(t *testing.T) {
	mock := &mockCompleter{replies: []string{`Answers: ["Ada", "option3", null]`}}
	got := newTestOracle(mock).ResolveSequential(context.Background(), testFields(), nil, "be brief")

	if got["field1"].Text != "Ada" {
		t.Errorf("field1 = %v", got["field1"])
	}
	if choice := got["choice"]; choice.Value() != "Option3" {
		t.Errorf("choice = %v", choice.Value())
	}
	if _, ok := got["Topics"]; ok {
		t.Error("null element decoded as an answer")
	}
	if _, ok := got["I agree"]; ok {
		t.Error("missing trailing element decoded as an answer")
	}
	user := mock.messages[0][1].Content
	if !strings.Contains(user, "1. field1") || !strings.Contains(user, "be brief") {
		t.Errorf("sequential prompt malformed:\n%s", user)
	}
}
