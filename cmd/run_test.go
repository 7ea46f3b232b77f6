package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAddress_Valid(t *testing.T) {
	tests := map[string]string{
		"203.0.113.5":        "203.0.113.5",
		"::ffff:203.0.113.5": "203.0.113.5",
		"10.0.0.0/8":         "10.0.0.0/8",
		"10.0.0.1/8":         "10.0.0.0/8",
		"2001:db8::1":        "2001:db8::1",
		"2001:db8::/32":      "2001:db8::/32",
	}
	for in, want := range tests {
		got, err := parseAddress(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	for _, in := range []string{"not-an-ip", "10.0.0.1/33", "2001:db8::/129", ""} {
		_, err := parseAddress(in)
		assert.Error(t, err, in)
	}
}

func TestValidateScope(t *testing.T) {
	for _, scope := range validScopes {
		assert.NoError(t, validateScope(scope))
	}
	assert.Error(t, validateScope("sideways"))
}

func TestValidateKind(t *testing.T) {
	for _, kind := range validKinds {
		assert.NoError(t, validateKind(kind))
	}
	assert.Error(t, validateKind("maybe"))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	expected := []string{"run", "version", "deny", "allow", "temp", "status"}
	for _, name := range expected {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		assert.Truef(t, found, "subcommand %q registered", name)
	}
}
