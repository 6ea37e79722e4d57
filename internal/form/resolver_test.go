package form

import (
	"context"
	"testing"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/page"
	"github.com/BTreeMap/FormPipe/internal/page/pagetest"
)

const resolverMarkup = `<div id="form">
  <div class="field"><label for="name">Full Name *</label><input id="name" type="text"></div>
  <div class="field"><label>Email <input id="email" type="email"></label></div>
  <div class="field"><span class="field-label">Company</span><input id="company" type="text"></div>
  <div class="row"><div class="q"><label>Phone</label></div><div class="a"><input id="phone" type="tel"></div></div>
  <label>City</label><input id="city" type="text">
  <label>Zip</label><input id="zip" type="text">
  <input id="linkedin" type="url" placeholder="Your LinkedIn URL">
  <div class="field"><label for="token">Token</label><input id="token" type="hidden"></div>
  <div class="field"><input id="agree" type="checkbox"><label for="agree">I agree to the terms</label></div>
  <div class="field"><label>Your work email address</label><input id="work" type="email"></div>
</div>`

func TestResolverStrategies(t *testing.T) {
	pg := pagetest.New(resolverMarkup)
	container := pg.MustFind("#form")
	r := NewResolver("")
	ctx := context.Background()

	tests := []struct {
		identifier string
		hint       models.FieldKind
		wantID     string
		strategy   Strategy
	}{
		{"Full Name", models.FieldKindText, "name", StrategyFor},
		{"Email", models.FieldKindText, "email", StrategyNested},
		{"Company", models.FieldKindText, "company", StrategySharedParent},
		{"Phone", models.FieldKindText, "phone", StrategyParentSibling},
		{"City", models.FieldKindText, "city", StrategySharedParent},
		{"Zip", "", "zip", StrategySharedParent},
		{"LinkedIn URL", models.FieldKindText, "linkedin", StrategyPlaceholder},
		{"I agree to the terms", models.FieldKindBoolean, "agree", StrategyFor},
		{"work email", models.FieldKindText, "work", StrategySharedParent},
	}
	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			m, ok := r.Resolve(ctx, container, tt.identifier, tt.hint)
			if !ok {
				t.Fatalf("Resolve(%q) found nothing", tt.identifier)
			}
			if got := m.Field.(*pagetest.Element).Attr("id"); got != tt.wantID {
				t.Errorf("Resolve(%q) = #%s, want #%s", tt.identifier, got, tt.wantID)
			}
			if m.Strategy != tt.strategy {
				t.Errorf("Resolve(%q) strategy = %s, want %s", tt.identifier, m.Strategy, tt.strategy)
			}
			if tt.strategy == StrategyPlaceholder && m.Label != nil {
				t.Error("placeholder match should not carry a label")
			}
		})
	}
}

func TestResolverNotFound(t *testing.T) {
	pg := pagetest.New(resolverMarkup)
	container := pg.MustFind("#form")
	r := NewResolver("")
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
		hint       models.FieldKind
	}{
		{"unknown label", "Favourite colour", ""},
		{"hidden input", "Token", ""},
		{"kind mismatch", "I agree to the terms", models.FieldKindText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m, ok := r.Resolve(ctx, container, tt.identifier, tt.hint); ok {
				t.Errorf("Resolve(%q) = %+v, want not found", tt.identifier, m)
			}
		})
	}
}

func TestResolverPrefersExactLabel(t *testing.T) {
	pg := pagetest.New(`<div id="form">
	  <div><label for="a">Email address</label><input id="a"></div>
	  <div><label for="b">Email</label><input id="b"></div>
	</div>`)
	m, ok := NewResolver("").Resolve(context.Background(), pg.MustFind("#form"), "Email", models.FieldKindText)
	if !ok {
		t.Fatal("expected a match")
	}
	if got := m.Field.(*pagetest.Element).Attr("id"); got != "b" {
		t.Errorf("matched #%s, want exact label #b", got)
	}
}

func TestResolverExactPlaceholderBeatsPartialLabel(t *testing.T) {
	pg := pagetest.New(`<div id="form">
	  <div><label for="work">Work email</label><input id="work" type="email"></div>
	  <input id="plain" type="email" placeholder="Email">
	</div>`)
	r := NewResolver("")
	container := pg.MustFind("#form")
	ctx := context.Background()

	for name, resolve := range map[string]func(context.Context, page.Element, string, models.FieldKind) (Match, bool){
		"Resolve":            r.Resolve,
		"ResolvePlaceholder": r.ResolvePlaceholder,
	} {
		m, ok := resolve(ctx, container, "Email", models.FieldKindText)
		if !ok {
			t.Fatalf("%s found nothing", name)
		}
		if got := m.Field.(*pagetest.Element).Attr("id"); got != "plain" || m.Strategy != StrategyPlaceholder {
			t.Errorf("%s = #%s (%s), want #plain by placeholder", name, got, m.Strategy)
		}
	}

	if _, ok := r.ResolvePlaceholder(ctx, container, "Work email", models.FieldKindText); ok {
		t.Error("ResolvePlaceholder matched a labelled field")
	}
	if m, ok := r.Resolve(ctx, container, "Work email", models.FieldKindText); !ok || m.Field.(*pagetest.Element).Attr("id") != "work" {
		t.Error("Resolve should still find the labelled field")
	}
}
