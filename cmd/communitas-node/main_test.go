package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiStringFlagSetAppends(t *testing.T) {
	var m multiStringFlag
	require.NoError(t, m.Set("a"))
	require.NoError(t, m.Set("b"))
	require.Equal(t, "a,b", m.String())
}

func TestRunDryRunClaimsIdentityAndOpensContainer(t *testing.T) {
	dir := t.TempDir()
	var out, errOut bytes.Buffer

	code := run([]string{
		"--dry-run",
		"--datadir", dir,
		"--words", "ocean-forest-moon-star",
		"--log-level", "info",
	}, &out, &errOut)
	require.Equal(t, 0, code, "stderr=%s", errOut.String())
	require.NotEmpty(t, out.String())
	require.Contains(t, out.String(), "identity:")
	require.Contains(t, out.String(), "tip:")
}

func TestRunDryRunReusesExistingIdentityOnSecondInvocation(t *testing.T) {
	dir := t.TempDir()
	var out1, errOut1 bytes.Buffer
	code := run([]string{"--dry-run", "--datadir", dir, "--words", "amber-winter-harbor-meadow"}, &out1, &errOut1)
	require.Equal(t, 0, code, "stderr=%s", errOut1.String())

	var out2, errOut2 bytes.Buffer
	code = run([]string{"--dry-run", "--datadir", dir}, &out2, &errOut2)
	require.Equal(t, 0, code, "stderr=%s", errOut2.String())
	require.Contains(t, out2.String(), "identity:")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"--datadir", "", "--dry-run"}, &out, &errOut)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), "invalid config")
}
