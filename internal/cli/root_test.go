package cli

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args in a temporary working
// directory and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "contactsd", cmd.Use)
	assert.Contains(t, cmd.Long, "address books")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"init", "version", "insert", "query", "changes", "test"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"db", "config", "as", "metrics-file"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
}

func TestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	insert, _, err := cmd.Find([]string{"insert"})
	require.NoError(t, err)
	file := insert.Flags().Lookup("file")
	require.NotNil(t, file)
	assert.Equal(t, "f", file.Shorthand)

	changes, _, err := cmd.Find([]string{"changes"})
	require.NoError(t, err)
	assert.NotNil(t, changes.Flags().Lookup("view"))
	assert.Equal(t, "0", changes.Flags().Lookup("since").DefValue)
	assert.Equal(t, "0", changes.Flags().Lookup("address-book").DefValue)

	test, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)
	assert.NotNil(t, test.Flags().Lookup("filter"))
	assert.NotNil(t, test.Flags().Lookup("update"))
}

func TestInvalidFormat(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "version", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBadConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "version", "--config", "missing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
