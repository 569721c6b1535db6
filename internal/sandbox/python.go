package sandbox

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/taskloom/internal/exec"
)

//go:embed runner.py
var runnerScript []byte

// DefaultTimeout bounds one execution when none is configured.
const DefaultTimeout = 60 * time.Second

// maxStderr caps the interpreter error text copied into a result.
const maxStderr = 4000

var toolName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DockerConfig wraps the interpreter in a container.
type DockerConfig struct {
	Enabled bool
	Image   string
	Memory  string
	CPUs    float64
}

// PythonConfig configures PythonSandbox.
type PythonConfig struct {
	// Interpreter is the python binary. Defaults to python3.
	Interpreter string
	// Timeout is the hard limit for one execution.
	Timeout time.Duration
	// ToolsDir holds <name>.py helper snippets.
	ToolsDir string
	// WorkDir is where per-execution scratch directories are created.
	// Empty uses the system temp dir.
	WorkDir string
	Docker  DockerConfig
}

// PythonSandbox runs generated Python in a separate interpreter process.
type PythonSandbox struct {
	cfg    PythonConfig
	runner exec.CommandRunner
	logger *slog.Logger
}

// NewPython creates a Python sandbox. A nil runner uses os/exec.
func NewPython(cfg PythonConfig, runner exec.CommandRunner, logger *slog.Logger) *PythonSandbox {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Docker.Enabled && cfg.Docker.Image == "" {
		cfg.Docker.Image = "python:3.12-slim"
	}
	if runner == nil {
		runner = exec.NewRunner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PythonSandbox{cfg: cfg, runner: runner, logger: logger.With("component", "sandbox")}
}

type runnerRequest struct {
	Code      string                     `json:"code"`
	Variables map[string]json.RawMessage `json:"variables"`
	Images    map[string]string          `json:"images"`
	Tools     map[string]string          `json:"tools"`
}

type runnerValue struct {
	Kind  ValueKind       `json:"kind"`
	JSON  json.RawMessage `json:"json,omitempty"`
	Image string          `json:"image,omitempty"`
	Repr  string          `json:"repr,omitempty"`
}

type runnerResult struct {
	Success    bool                   `json:"success"`
	Output     string                 `json:"output"`
	Variables  map[string]runnerValue `json:"variables"`
	Error      string                 `json:"error"`
	StackTrace string                 `json:"stack_trace"`
}

// Execute implements Executor.
func (s *PythonSandbox) Execute(ctx context.Context, code string, env Environment) Result {
	tools, err := s.loadTools(env.Tools)
	if err != nil {
		return Failure(err.Error(), "")
	}

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "taskloom-sandbox-")
	if err != nil {
		return Failure(fmt.Sprintf("create sandbox dir: %v", err), "")
	}
	defer os.RemoveAll(dir)

	req := runnerRequest{
		Code:      code,
		Variables: env.Variables,
		Images:    make(map[string]string, len(env.Images)),
		Tools:     tools,
	}
	for name, data := range env.Images {
		req.Images[name] = base64.StdEncoding.EncodeToString(data)
	}
	reqData, err := json.Marshal(req)
	if err != nil {
		return Failure(fmt.Sprintf("encode sandbox request: %v", err), "")
	}
	if err := os.WriteFile(filepath.Join(dir, "request.json"), reqData, 0600); err != nil {
		return Failure(fmt.Sprintf("write sandbox request: %v", err), "")
	}
	if err := os.WriteFile(filepath.Join(dir, "runner.py"), runnerScript, 0600); err != nil {
		return Failure(fmt.Sprintf("write sandbox runner: %v", err), "")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, runErr := s.runner.Run(runCtx, s.command(dir))
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("execution timed out", "timeout", s.cfg.Timeout)
		return Failure(fmt.Sprintf("execution timed out after %v", s.cfg.Timeout), "")
	}
	if ctx.Err() != nil {
		return Failure(fmt.Sprintf("execution cancelled: %v", ctx.Err()), "")
	}

	data, err := os.ReadFile(filepath.Join(dir, "result.json"))
	if err != nil {
		msg := strings.TrimSpace(string(out.Stderr))
		if msg == "" && runErr != nil {
			msg = runErr.Error()
		}
		return Failure("interpreter failed: "+truncate(msg, maxStderr), "")
	}

	var rr runnerResult
	if err := json.Unmarshal(data, &rr); err != nil {
		return Failure(fmt.Sprintf("decode sandbox result: %v", err), "")
	}

	s.logger.Debug("execution finished", "success", rr.Success, "elapsed", elapsed, "bindings", len(rr.Variables))
	return rr.toResult()
}

func (rr runnerResult) toResult() Result {
	res := Result{
		Success:    rr.Success,
		Output:     rr.Output,
		Error:      rr.Error,
		StackTrace: rr.StackTrace,
	}
	if !rr.Success {
		return res
	}

	res.Variables = make(map[string]Value, len(rr.Variables))
	for name, v := range rr.Variables {
		val := Value{Kind: v.Kind, JSON: v.JSON, Repr: v.Repr}
		if v.Kind == KindImage {
			img, err := base64.StdEncoding.DecodeString(v.Image)
			if err != nil {
				val = Value{Kind: KindOpaque, Repr: "<undecodable image>"}
			} else {
				val.Image = img
			}
		}
		res.Variables[name] = val
	}
	return res
}

func (s *PythonSandbox) command(dir string) exec.Command {
	if !s.cfg.Docker.Enabled {
		return exec.Command{
			Name: s.cfg.Interpreter,
			Args: []string{filepath.Join(dir, "runner.py"), dir},
			Dir:  dir,
		}
	}

	args := []string{"run", "--rm", "--network", "none", "-v", dir + ":/work", "-w", "/work"}
	if s.cfg.Docker.Memory != "" {
		args = append(args, "--memory", s.cfg.Docker.Memory)
	}
	if s.cfg.Docker.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(s.cfg.Docker.CPUs, 'f', -1, 64))
	}
	args = append(args, s.cfg.Docker.Image, "python3", "/work/runner.py", "/work")
	return exec.Command{Name: "docker", Args: args}
}

// loadTools reads the whitelisted helper snippets.
func (s *PythonSandbox) loadTools(names []string) (map[string]string, error) {
	tools := make(map[string]string, len(names))
	if len(names) == 0 {
		return tools, nil
	}
	if s.cfg.ToolsDir == "" {
		return nil, fmt.Errorf("tools requested but no tools directory is configured: %s", strings.Join(names, ", "))
	}
	for _, name := range names {
		if !toolName.MatchString(name) {
			return nil, fmt.Errorf("invalid tool name %q", name)
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.ToolsDir, name+".py"))
		if err != nil {
			return nil, fmt.Errorf("load tool %s: %w", name, err)
		}
		tools[name] = string(data)
	}
	return tools, nil
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

var _ Executor = (*PythonSandbox)(nil)
