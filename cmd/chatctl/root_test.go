package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"sweep"},
		{"sessions", "revoke"},
		{"keys", "show"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestRequiresDatabaseURL(t *testing.T) {
	_, err := run(t, "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestFlagValidation(t *testing.T) {
	_, err := run(t, "sweep", "--grace", "-1m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--grace")

	_, err = run(t, "sessions", "revoke", "--user", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user must be a UUID")

	_, err = run(t, "keys", "show")
	require.Error(t, err)
}
