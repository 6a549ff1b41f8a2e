package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runVersion(t *testing.T, version, commit, date string) string {
	t.Helper()

	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() {
		Version, GitCommit, BuildDate = origVersion, origCommit, origDate
	})
	Version, GitCommit, BuildDate = version, commit, date

	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestVersionCommand(t *testing.T) {
	out := runVersion(t, "1.4.0", "9f2c1e7", "2026-09-30T08:00:00Z")

	for _, want := range []string{
		"Space Places Server",
		"Version:    1.4.0",
		"Git commit: 9f2c1e7",
		"Build date: 2026-09-30T08:00:00Z",
		"Go version:",
		"Platform:",
	} {
		assert.Contains(t, out, want)
	}
}

func TestVersionCommandDefaultValues(t *testing.T) {
	out := runVersion(t, "dev", "unknown", "unknown")

	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Git commit: unknown")
}
