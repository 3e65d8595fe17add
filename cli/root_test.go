package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planYAML = `WaitToStart: No
Messages:
  - file name: start\.bin
    repeat: 0
  - file name: graph\..*\.bin
    delay: 200
    repeat: 0
    waitCount: 1
  - file name: ping\.bin
    repeat: -2
    waitCount: 1
  - file name: missing\.bin
    waitCount: 3
`

// writeRuleDoc creates a rule document and its payload files in a temp dir.
func writeRuleDoc(t *testing.T, doc string, payloads map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range payloads {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("test")
	require.NotNil(t, cmd)
	assert.Equal(t, "devsim", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	commands := []string{"run", "ui", "plan", "validate", "import", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")

	for _, name := range []string{"config", "log-level", "log-file", "log-json"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "false", cmd.PersistentFlags().Lookup("log-json").DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand("test")
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"network", "dir", "receive-timeout", "response-timeout", "read-buffer", "metrics-addr", "tui", "wait-to-start"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "unix", runCmd.Flags().Lookup("network").DefValue)
}

func TestVersion(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand("1.2.3")
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "devsim 1.2.3\n", buf.String())
}

func TestBadSettingsFileIsCommandError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsim.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	cmd := NewRootCommand("test")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "version"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	inner := errors.New("inner")
	wrapped := WrapExitError(ExitFailure, "outer", inner)
	assert.ErrorIs(t, wrapped, inner)
	assert.Equal(t, "outer: inner", wrapped.Error())
}
