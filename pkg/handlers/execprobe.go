package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/types"
)

// ExecProbe runs a host command with a timeout and captures its output.
// Adapted from the teacher's ExecChecker, dropping its container-exec
// branch since jobs here run as plain OS processes, not containers.
type ExecProbe struct{}

const execOutputTruncateLen = 4096

func (e *ExecProbe) Validate(spec types.Spec) error {
	cmd, ok := spec["command"].(string)
	if !ok || cmd == "" {
		return fmt.Errorf("exec_probe: missing required string field command")
	}
	if args, ok := spec["args"]; ok {
		if _, ok := args.([]interface{}); !ok {
			return fmt.Errorf("exec_probe: args must be an array of strings")
		}
	}
	return nil
}

func (e *ExecProbe) Execute(ctx context.Context, rc registry.RunContext, spec types.Spec) (types.Result, error) {
	command := spec["command"].(string)
	var args []string
	if raw, ok := spec["args"].([]interface{}); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}
	timeout := 30 * time.Second
	if v, ok := toFloat(spec["timeout_seconds"]); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc.ReportProgress(0, "running")
	cmd := exec.CommandContext(cmdCtx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	rc.ReportProgress(1, "done")

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec_probe: run %s: %w", command, runErr)
		}
	}

	return types.Result{
		"exit_code": exitCode,
		"stdout":    truncate(stdout.String(), execOutputTruncateLen),
		"stderr":    truncate(stderr.String(), execOutputTruncateLen),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
