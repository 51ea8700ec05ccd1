package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type listArgs struct {
	Limit int `arg:"--limit" default:"10"`
}

type testArgs struct {
	List *listArgs `arg:"subcommand:list"`
}

func TestParseArgs(t *testing.T) {
	var out bytes.Buffer
	var args testArgs
	code, consumed := ParseArgs(&out, "mailvault", []string{"list", "--limit", "3"}, &args)
	assert.False(t, consumed)
	assert.Equal(t, 0, code)
	if assert.NotNil(t, args.List) {
		assert.Equal(t, 3, args.List.Limit)
	}
	assert.Empty(t, out.String())
}

func TestParseArgsHelp(t *testing.T) {
	var out bytes.Buffer
	code, consumed := ParseArgs(&out, "mailvault", []string{"--help"}, &testArgs{})
	assert.True(t, consumed)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Usage: mailvault")
}

func TestParseArgsBadArgs(t *testing.T) {
	var out bytes.Buffer
	code, consumed := ParseArgs(&out, "mailvault", []string{"list", "--limit", "many"}, &testArgs{})
	assert.True(t, consumed)
	assert.Equal(t, 255, code)
	assert.Contains(t, out.String(), "error:")
}

func TestParseArgsMissingCommand(t *testing.T) {
	var out bytes.Buffer
	code, consumed := ParseArgs(&out, "mailvault", nil, &testArgs{})
	assert.True(t, consumed)
	assert.Equal(t, 255, code)
	assert.Contains(t, out.String(), "list")
}
