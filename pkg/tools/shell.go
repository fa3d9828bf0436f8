package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// RunCommandDefinition is the schema advertised for the shell execution tool.
func RunCommandDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "run_command",
		Description: "Execute a shell command on the host and return its output. Use for file inspection, system queries and short scripts.",
		Parameters: map[string]ParamSpec{
			"command": {
				Type:        "string",
				Description: "The shell command to execute",
				Required:    true,
			},
		},
	}
}

// NewRunCommand builds the run_command tool with a wall-clock timeout. The
// command runs under `sh -c`; on timeout the process is killed and an error
// payload is returned instead of a Go error, so the model sees the failure.
func NewRunCommand(timeout time.Duration) ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		command, ok := args["command"].(string)
		if !ok || command == "" {
			return nil, errors.New("missing string parameter 'command'")
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "sh", "-c", command)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()

		if runCtx.Err() == context.DeadlineExceeded {
			return map[string]any{
				"status": "error",
				"error":  "command timed out",
			}, nil
		}

		returnCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				returnCode = exitErr.ExitCode()
			} else {
				return map[string]any{
					"status": "error",
					"error":  err.Error(),
				}, nil
			}
		}

		status := "success"
		if returnCode != 0 {
			status = "error"
		}
		return map[string]any{
			"status":      status,
			"output":      stdout.String(),
			"error":       stderr.String(),
			"return_code": returnCode,
		}, nil
	}
}
