package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomctl/loom/internal/ir"
)

func TestColorize(t *testing.T) {
	// When noColor is false, colorize should return the code
	noColor = false
	assert.Equal(t, "\033[31m", colorize("\033[31m"))

	// When noColor is true, colorize should return empty string
	noColor = true
	assert.Equal(t, "", colorize("\033[31m"))

	// Reset
	noColor = false
}

func TestActionSymbol(t *testing.T) {
	tests := []struct {
		action   ir.Action
		expected string
	}{
		{ir.ActionCreate, "+"},
		{ir.ActionDestroy, "-"},
		{ir.ActionReplace, "-/+"},
		{ir.ActionUpdate, "~"},
		{ir.ActionRead, "<="},
		{ir.ActionNoOp, " "},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, actionSymbol(tt.action))
	}
}

func TestPastTense(t *testing.T) {
	tests := []struct {
		action   ir.Action
		expected string
	}{
		{ir.ActionCreate, "created"},
		{ir.ActionUpdate, "updated"},
		{ir.ActionReplace, "replaced"},
		{ir.ActionDestroy, "destroyed"},
		{ir.ActionRead, "refreshed in state"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, pastTense(tt.action))
	}
}

func TestActionColor_NoColor(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	assert.Equal(t, "", actionColor(ir.ActionCreate))
	assert.Equal(t, "", actionColor(ir.ActionDestroy))
	assert.Equal(t, "", actionColor(ir.ActionUpdate))
}

func TestProviderFromType(t *testing.T) {
	tests := []struct {
		typ      string
		expected string
	}{
		{"docker_container", "docker"},
		{"null_resource", "null"},
		{"aws_s3_bucket", "aws"},
		{"plain", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, providerFromType(tt.typ))
	}
}
