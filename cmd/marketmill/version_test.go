package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCommandDisplaysBuildInfo(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "marketmill dev")
	require.Contains(t, out, "commit: none")
	require.Contains(t, out, "built: unknown")
}
