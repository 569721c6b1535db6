package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := NewRunner().LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestExecRunner_CapturesStreams(t *testing.T) {
	requireBinary(t, "sh")

	out, err := NewRunner().Run(context.Background(), Command{
		Name:  "sh",
		Args:  []string{"-c", "cat; echo oops >&2"},
		Stdin: []byte("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out.Stdout))
	assert.Equal(t, "oops\n", string(out.Stderr))
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecRunner_ExitCode(t *testing.T) {
	requireBinary(t, "sh")

	out, err := NewRunner().Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}})
	require.Error(t, err)
	assert.Equal(t, 3, out.ExitCode)
}

func TestExecRunner_DirAndEnv(t *testing.T) {
	requireBinary(t, "sh")

	dir := t.TempDir()
	out, err := NewRunner().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "pwd; echo $TASKLOOM_TEST"},
		Dir:  dir,
		Env:  []string{"TASKLOOM_TEST=yes"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(out.Stdout), "yes")
}
