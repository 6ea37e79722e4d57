package oracle

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/form"
	"github.com/BTreeMap/FormPipe/internal/genai"
	"github.com/BTreeMap/FormPipe/internal/models"
)

// NullSentinel is the literal the model may use for "no answer" on optional fields.
const NullSentinel = "NULL"

const batchRules = `You fill in event registration forms on behalf of the person described by the profile.
Rules:
- Reply with a single JSON object and nothing else. No prose, no markdown.
- Use every field identifier exactly as given, character for character, as a key.
- Text fields take a string. Single-choice fields take exactly one of the listed options, copied verbatim.
- Multi-choice fields take a JSON array of listed options, copied verbatim.
- Boolean fields take true or false.
- For an optional field you cannot answer, use "` + NullSentinel + `".
- Never use "` + NullSentinel + `" or null for a mandatory field; give the most plausible value instead.`

const sequentialRules = `You fill in event registration forms on behalf of the person described by the profile.
Rules:
- Reply with a single JSON array and nothing else, one element per question, in question order.
- Text questions take a string. Single-choice questions take exactly one of the listed options, copied verbatim.
- Multi-choice questions take a JSON array of listed options, copied verbatim.
- Boolean questions take true or false.
- For an optional question you cannot answer, use "` + NullSentinel + `".
- Never use "` + NullSentinel + `" or null for a mandatory question.`

// BatchPrompt builds the keyed-batch conversation. The output depends only on its inputs: profile
// keys are sorted and fields keep discovery order.
func BatchPrompt(fields []*models.FieldRequest, profile form.Profile, instructions string) []genai.Message {
	var b strings.Builder
	writeProfile(&b, profile)
	b.WriteString("Fields:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s: %s\n", quote(f.Identifier), describe(f))
	}
	writeInstructions(&b, instructions)
	b.WriteString("\nReply with the JSON object now.")
	return []genai.Message{
		{Role: genai.RoleSystem, Content: batchRules},
		{Role: genai.RoleUser, Content: b.String()},
	}
}

// SequentialPrompt builds the ordered question-list conversation.
func SequentialPrompt(fields []*models.FieldRequest, profile form.Profile, instructions string) []genai.Message {
	var b strings.Builder
	writeProfile(&b, profile)
	b.WriteString("Questions:\n")
	for i, f := range fields {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, f.Identifier, describe(f))
	}
	writeInstructions(&b, instructions)
	fmt.Fprintf(&b, "\nReply with a JSON array of exactly %d elements now.", len(fields))
	return []genai.Message{
		{Role: genai.RoleSystem, Content: sequentialRules},
		{Role: genai.RoleUser, Content: b.String()},
	}
}

func writeProfile(b *strings.Builder, profile form.Profile) {
	b.WriteString("Profile:\n")
	if profile == nil {
		b.WriteString("(empty)\n\n")
		return
	}
	summary := profile.Summary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, summary[k])
	}
	b.WriteString("\n")
}

func writeInstructions(b *strings.Builder, instructions string) {
	if s := strings.TrimSpace(instructions); s != "" {
		b.WriteString("\nAdditional instructions:\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
}

func describe(f *models.FieldRequest) string {
	need := "optional"
	if f.IsMandatory {
		need = "mandatory"
	}
	var kind string
	switch f.Kind {
	case models.FieldKindSingleChoice:
		kind = "single choice"
	case models.FieldKindMultiChoice:
		kind = "multiple choice"
	case models.FieldKindBoolean:
		kind = "boolean"
	default:
		kind = "text"
	}
	s := kind + ", " + need
	if f.Kind.IsChoice() && len(f.Options) > 0 {
		opts := make([]string, len(f.Options))
		for i, o := range f.Options {
			opts[i] = quote(o)
		}
		s += ", options: [" + strings.Join(opts, ", ") + "]"
	}
	return s
}

func quote(s string) string { return strconv.Quote(s) }
