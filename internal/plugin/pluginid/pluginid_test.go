package pluginid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Greeter", "greeter"},
		{"spaces", "My Cool Plugin", "my_cool_plugin"},
		{"punctuation runs", "Hello -- World!!", "hello_world"},
		{"leading and trailing", "  __Audit Log__ ", "audit_log"},
		{"digits kept", "Plugin 2000", "plugin_2000"},
		{"underscores collapse", "a___b", "a_b"},
		{"unicode dropped", "Café Ünïcode", "caf_n_code"},
		{"empty", "", Fallback},
		{"only symbols", "!!!", Fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.True(t, IsValid(got))
		})
	}
}

func TestGenerate_Truncates(t *testing.T) {
	got := Generate(strings.Repeat("ab ", 40))
	assert.LessOrEqual(t, len(got), MaxLength)
	assert.True(t, IsValid(got))
	assert.False(t, strings.HasSuffix(got, "_"))
}

func TestGenerate_Idempotent(t *testing.T) {
	inputs := []string{
		"Greeter",
		"My Cool Plugin",
		"  weird__Name--42 ",
		"",
		strings.Repeat("x y ", 30),
		"ALL CAPS",
		"already_valid_id",
	}

	for _, in := range inputs {
		once := Generate(in)
		assert.Equal(t, once, Generate(once), "input %q", in)
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"greeter", true},
		{"audit_log_2", true},
		{"_leading", true},
		{"Greeter", false},
		{"with-dash", false},
		{"with space", false},
		{"", false},
		{strings.Repeat("a", MaxLength), true},
		{strings.Repeat("a", MaxLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValid(tt.id))
		})
	}
}
