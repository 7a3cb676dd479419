// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

const (
	// DefaultShellTimeout bounds a command when neither the caller nor the
	// config sets one.
	DefaultShellTimeout = 2 * time.Minute

	// MaxShellTimeout caps the timeout parameter.
	MaxShellTimeout = 30 * time.Minute

	// maxShellOutput is the combined stdout/stderr size kept in a result.
	maxShellOutput = 64 * 1024

	// shellWaitDelay is how long Wait waits for pipes after the process
	// group is killed.
	shellWaitDelay = 2 * time.Second
)

// blockedCommands are never run, whatever the permission policy.
var blockedCommands = []string{
	"rm -rf /", "rm -rf /*", "rm -rf ~", "rm -rf $HOME", "rm -fr /",
	"rm --no-preserve-root",
	"mkfs", "mke2fs", "fdisk", "wipefs", "dd of=/dev",
	":(){:|:&};:", ":(){ :|:& };:",
	"chmod -R 777 /", "chmod 777 /",
	"shutdown", "poweroff", "reboot", "halt", "init 0", "init 6",
	"curl | bash", "curl | sh", "curl|bash", "curl|sh",
	"wget | bash", "wget | sh", "wget|bash", "wget|sh",
	"bash -i >& /dev/tcp", "nc -e", "ncat -e",
	"cat /etc/shadow", ".ssh/id_rsa", ".ssh/id_ed25519",
	"history -c",
}

// blockedPatterns catch piping into an interpreter.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\|\s*(sudo\s+)?(ba|z|k|da)?sh\b`),
	regexp.MustCompile(`\|\s*(python3?|perl|ruby)\b`),
	regexp.MustCompile(`(ba)?sh\s+<\(\s*(curl|wget)`),
}

// dangerousEnvVars are stripped from the child environment.
var dangerousEnvVars = map[string]bool{
	"BASH_ENV": true, "ENV": true, "SHELLOPTS": true, "BASHOPTS": true,
	"CDPATH": true, "GLOBIGNORE": true, "IFS": true, "PROMPT_COMMAND": true,
	"PYTHONSTARTUP": true, "PERL5OPT": true, "RUBYOPT": true, "NODE_OPTIONS": true,
	"JAVA_TOOL_OPTIONS": true, "_JAVA_OPTIONS": true,
	"GIT_SSH": true, "GIT_SSH_COMMAND": true, "GIT_EXEC_PATH": true,
	"SSH_AUTH_SOCK": true, "GPG_AGENT_INFO": true,
}

// ShellExecutor runs commands in the workspace through a POSIX shell.
type ShellExecutor struct {
	// Timeout applies when the task does not set one
	Timeout time.Duration

	// environ is swapped in tests
	environ func() []string
}

// ShellTool returns the shell capability.
func ShellTool(timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return &Tool{
		Name: "shell",
		Description: `Run a shell command in the workspace.
The active environment's bin directory is first on PATH. Non-zero exit status fails the task.`,
		Schema: Schema{Parameters: []Parameter{
			{Name: "command", Type: TypeString, Required: true, Description: "Command line to run"},
			{Name: "timeout", Type: TypeInteger, Description: "Timeout in seconds", Default: int(timeout.Seconds())},
		}},
		PermissionGroup: permission.GroupShellExecution,
		IsDefault:       true,
		Executor:        &ShellExecutor{Timeout: timeout},
	}
}

// Execute implements ToolExecutor.
func (e *ShellExecutor) Execute(ctx context.Context, params map[string]any, ec *ExecutionContext) (Result, error) {
	command := norm.NFKC.String(strings.TrimSpace(stringParam(params, "command", "")))
	if command == "" {
		return Fail("command is empty"), nil
	}
	if reason := blockedReason(command); reason != "" {
		return Fail("command blocked: %s", reason), nil
	}

	timeout := e.Timeout
	if secs := intParam(params, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	if timeout > MaxShellTimeout {
		timeout = MaxShellTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, args := shellCommand(command)
	cmd := exec.CommandContext(runCtx, shell, args...)
	if ec != nil && ec.Workspace != nil {
		cmd.Dir = ec.Workspace.Root
	}
	cmd.Env = e.buildEnv(ec)
	cmd.WaitDelay = shellWaitDelay
	configureProcessGroup(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	output, truncated := util.TruncateMiddle(out.String(), maxShellOutput)

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Result{}, Transient(fmt.Errorf("command timed out after %s", timeout))
	}

	if ec != nil && ec.Logger != nil {
		ec.Logger.Debug("shell command finished", "elapsed", elapsed, "bytes", out.Len())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Result{
				Success:   false,
				Output:    fmt.Sprintf("exit status %d\n%s", exitErr.ExitCode(), output),
				Truncated: truncated,
			}, nil
		}
		return Fail("failed to run command: %v", runErr), nil
	}
	return Result{Success: true, Output: output, Truncated: truncated}, nil
}

func (e *ShellExecutor) buildEnv(ec *ExecutionContext) []string {
	environ := e.environ
	if environ == nil {
		environ = os.Environ
	}
	env := sanitizeEnvironment(environ())

	if ec == nil || ec.ActiveEnvironment == "" || ec.Workspace == nil {
		return env
	}
	dir, err := ec.Workspace.EnvPath(ec.ActiveEnvironment)
	if err != nil {
		return env
	}
	bin := filepath.Join(dir, "bin")
	replaced := false
	for i, kv := range env {
		if strings.HasPrefix(strings.ToUpper(kv), "PATH=") {
			env[i] = "PATH=" + bin + string(os.PathListSeparator) + kv[len("PATH="):]
			replaced = true
		}
	}
	if !replaced {
		env = append(env, "PATH="+bin)
	}
	return append(env, "RIGRUN_ENV="+ec.ActiveEnvironment)
}

func sanitizeEnvironment(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToUpper(kv[:idx])
		if dangerousEnvVars[key] ||
			strings.HasPrefix(key, "LD_") ||
			strings.HasPrefix(key, "DYLD_") ||
			strings.HasPrefix(key, "BASH_FUNC_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func blockedReason(command string) string {
	lower := strings.ToLower(strings.Join(strings.Fields(command), " "))
	for _, b := range blockedCommands {
		if strings.Contains(lower, strings.ToLower(b)) {
			return "contains " + b
		}
	}
	for _, re := range blockedPatterns {
		if m := re.FindString(lower); m != "" {
			return "pipes into an interpreter: " + m
		}
	}
	return ""
}
