package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskloom/internal/exec"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.NewRunner().LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestPythonSandbox_Success(t *testing.T) {
	requirePython(t)

	sb := NewPython(PythonConfig{WorkDir: t.TempDir()}, nil, nil)
	res := sb.Execute(context.Background(), "print('total', sum(values))\ntotal = sum(values)\nlabel = 'n=' + str(len(values))\nmarker = object()", Environment{
		Variables: map[string]json.RawMessage{"values": json.RawMessage(`[1, 2, 3]`)},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "total 6\n", res.Output)
	assert.Equal(t, KindJSON, res.Variables["total"].Kind)
	assert.JSONEq(t, `6`, string(res.Variables["total"].JSON))
	assert.JSONEq(t, `"n=3"`, string(res.Variables["label"].JSON))
	assert.JSONEq(t, `[1, 2, 3]`, string(res.Variables["values"].JSON))
	assert.Equal(t, KindOpaque, res.Variables["marker"].Kind)
	assert.Contains(t, res.Variables["marker"].Repr, "object")
}

func TestPythonSandbox_Exception(t *testing.T) {
	requirePython(t)

	sb := NewPython(PythonConfig{WorkDir: t.TempDir()}, nil, nil)
	res := sb.Execute(context.Background(), "print('before')\nraise ValueError('bad column')", Environment{})

	assert.False(t, res.Success)
	assert.Equal(t, "ValueError: bad column", res.Error)
	assert.Contains(t, res.StackTrace, "Traceback")
	assert.Contains(t, res.StackTrace, "<generated>")
	assert.Equal(t, "before\n", res.Output)
	assert.Nil(t, res.Variables)
}

func TestPythonSandbox_SyntaxError(t *testing.T) {
	requirePython(t)

	sb := NewPython(PythonConfig{WorkDir: t.TempDir()}, nil, nil)
	res := sb.Execute(context.Background(), "def broken(:\n", Environment{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "SyntaxError")
}

func TestPythonSandbox_Timeout(t *testing.T) {
	requirePython(t)

	sb := NewPython(PythonConfig{WorkDir: t.TempDir(), Timeout: 500 * time.Millisecond}, nil, nil)
	start := time.Now()
	res := sb.Execute(context.Background(), "while True:\n    pass\n", Environment{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestPythonSandbox_Tools(t *testing.T) {
	requirePython(t)

	tools := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tools, "double.py"), []byte("def double(v):\n    return v * 2\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tools, "secret.py"), []byte("def secret():\n    return 1\n"), 0644))

	sb := NewPython(PythonConfig{WorkDir: t.TempDir(), ToolsDir: tools}, nil, nil)

	res := sb.Execute(context.Background(), "result = double(21)", Environment{Tools: []string{"double"}})
	require.True(t, res.Success, res.Error)
	assert.JSONEq(t, `42`, string(res.Variables["result"].JSON))
	_, leaked := res.Variables["double"]
	assert.False(t, leaked, "tool definitions are not bindings")

	res = sb.Execute(context.Background(), "result = secret()", Environment{Tools: []string{"double"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "NameError")
}

func TestPythonSandbox_ToolErrors(t *testing.T) {
	sb := NewPython(PythonConfig{}, nil, nil)
	res := sb.Execute(context.Background(), "x = 1", Environment{Tools: []string{"double"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no tools directory")

	sb = NewPython(PythonConfig{ToolsDir: t.TempDir()}, nil, nil)
	res = sb.Execute(context.Background(), "x = 1", Environment{Tools: []string{"../etc/passwd"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid tool name")

	res = sb.Execute(context.Background(), "x = 1", Environment{Tools: []string{"missing"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "load tool missing")
}

type fakeRunner struct {
	cmd exec.Command
	out exec.Output
	err error
}

func (f *fakeRunner) Run(_ context.Context, c exec.Command) (exec.Output, error) {
	f.cmd = c
	return f.out, f.err
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func TestPythonSandbox_DockerCommand(t *testing.T) {
	runner := &fakeRunner{
		out: exec.Output{Stderr: []byte("docker: image not found"), ExitCode: 125},
		err: errors.New("exit status 125"),
	}
	sb := NewPython(PythonConfig{
		WorkDir: t.TempDir(),
		Docker:  DockerConfig{Enabled: true, Memory: "256m", CPUs: 0.5},
	}, runner, nil)

	res := sb.Execute(context.Background(), "x = 1", Environment{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "image not found")
	assert.Equal(t, "docker", runner.cmd.Name)
	assert.Subset(t, runner.cmd.Args, []string{"--network", "none", "--memory", "256m", "--cpus", "0.5", "python:3.12-slim"})
	assert.Equal(t, "/work/runner.py", runner.cmd.Args[len(runner.cmd.Args)-2])
}

func TestRunnerResult_ImageDecoding(t *testing.T) {
	rr := runnerResult{
		Success: true,
		Variables: map[string]runnerValue{
			"chart":  {Kind: KindImage, Image: "iVBORw0KGgo="},
			"broken": {Kind: KindImage, Image: "!!!"},
		},
	}
	res := rr.toResult()
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, res.Variables["chart"].Image)
	assert.Equal(t, KindOpaque, res.Variables["broken"].Kind)
}

func TestTruncate_KeepsValidUTF8(t *testing.T) {
	msg := "Fehler: ungültige Größe ✗ "
	for n := 0; n < len(msg); n++ {
		got := truncate(msg, n)
		assert.True(t, utf8.ValidString(got), "truncate at %d", n)
	}
	assert.Equal(t, "Fehler: ungü...", truncate(msg, 12))
	assert.Equal(t, msg, truncate(msg, 100))
}
