//go:build cgo

package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedSource(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		lang string
		code string
	}{
		{"bash", "ls -la | grep go > out.txt"},
		{"sh", `echo "hello world" && printf '%s\n' done`},
		{"python3", "def f(x):\n    return x * 2\n"},
		{"go", "package main\n\nfunc main() {}\n"},
		{"node", "const x = [1, 2].map(n => n + 1);\nconsole.log(x);\n"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			res, err := v.Validate(tt.code, tt.lang)
			require.NoError(t, err)
			assert.True(t, res.Valid, "errors: %s", res.Summary())
			assert.Equal(t, len(tt.code), res.ParsedBytes)
		})
	}
}

func TestValidateRejectsMalformedSource(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		lang string
		code string
	}{
		{"bash", `echo "unterminated`},
		{"bash", "if [ -f x ]; then echo y"},
		{"python", "def f(:\n    pass\n"},
		{"go", "package main\nfunc main( {\n"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			res, err := v.Validate(tt.code, tt.lang)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Errors)
			assert.NotEmpty(t, res.Summary())
		})
	}
}

func TestValidateEmptyAndUnsupported(t *testing.T) {
	v := NewValidator()

	res, err := v.Validate("   \n", "ruby")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, err = v.Validate("puts 1", "ruby")
	assert.Error(t, err)
	assert.False(t, v.SupportsLanguage("ruby"))
	assert.True(t, v.SupportsLanguage("golang"))
}

func TestCommandNames(t *testing.T) {
	v := NewValidator()

	names, err := v.CommandNames("echo a | cat\n(rm -f x) && { \"sudo\" id; }\ntrue & echo $(nc -l 1)")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "cat", "rm", "sudo", "true", "echo", "nc"}, names)

	names, err = v.CommandNames("")
	require.NoError(t, err)
	assert.Empty(t, names)
}
