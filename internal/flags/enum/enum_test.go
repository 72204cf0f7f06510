package enum

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlag(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Var(flags, "format", []string{"table", "json"}, "output format")

	value, err := Get(flags, "format")
	require.NoError(t, err)
	assert.Equal(t, "table", value, "first allowed value is the default")

	require.NoError(t, flags.Parse([]string{"--format", "json"}))
	value, err = Get(flags, "format")
	require.NoError(t, err)
	assert.Equal(t, "json", value)

	err = flags.Set("format", "yaml")
	require.ErrorContains(t, err, "must be one of [table, json]")
}

func TestGetErrors(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("plain", "", "not an enum")

	_, err := Get(flags, "missing")
	require.ErrorContains(t, err, "flag accessed but not defined")

	_, err = Get(flags, "plain")
	require.ErrorContains(t, err, "of flag of type")
}
