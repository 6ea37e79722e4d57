package form

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" Full Name * ", "Full Name"},
		{"Full Name*", "Full Name"},
		{"Email:", "Email"},
		{"What's your role?", "What's your role"},
		{"🎉 Ticket   type *", "Ticket type"},
		{"Dietary\u200d restrictions\ufe0f", "Dietary restrictions"},
		{"Company, Inc.", "Company, Inc"},
		{"Café name", "Café name"},
		{"***", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{" Full Name * ", "✨ LinkedIn  URL ?!", "a.b.c...", "Name *:", "  ", "ÉQUIPE 🚀 *"}
	for _, in := range inputs {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestHasMandatoryMarker(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Full Name *", true},
		{"Full Name*", true},
		{"Full Name *:", true},
		{"Full Name", false},
		{"* Full Name", false},
	}
	for _, tt := range tests {
		if got := HasMandatoryMarker(tt.in); got != tt.want {
			t.Errorf("HasMandatoryMarker(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSameIdentifier(t *testing.T) {
	if !SameIdentifier("Full Name", "full name *") {
		t.Error("expected case-insensitive match after sanitizing")
	}
	if SameIdentifier("Full Name", "Name") {
		t.Error("partial text must not match")
	}
}

func TestIsRegisteredStatus(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"You're in", true},
		{"You’re going 🎉", true},
		{"PENDING APPROVAL", true},
		{"On the waitlist.", true},
		{"Registered", true},
		{"Register", false},
		{"Not registered", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRegisteredStatus(tt.in); got != tt.want {
			t.Errorf("IsRegisteredStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
