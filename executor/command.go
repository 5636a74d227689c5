package executor

import (
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command is a fully built task invocation.
type Command struct {
	Binary string
	Args   []string
}

// Argv returns binary followed by args.
func (c Command) Argv() []string {
	return append([]string{c.Binary}, c.Args...)
}

// String returns the shell-escaped command line.
func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// BuildCommand encodes a request as CLI arguments. The result depends only
// on its inputs.
//
// Continuation is exactly one of -r <id>, --continue, or neither. The
// permission bypass flag wins over tool lists, and the permission prompt
// tool is dropped when continuing a session.
func BuildCommand(binary string, req TaskRequest) Command {
	if binary == "" {
		binary = DefaultBinary
	}
	opts := req.Options
	var args []string

	switch {
	case opts.ResumeSessionID != "":
		args = append(args, "-r", opts.ResumeSessionID)
	case opts.Continue:
		args = append(args, "--continue")
	}

	args = append(args, "-p", req.Prompt)

	if model := strings.TrimSpace(req.Model); model != "" && model != ModelAuto {
		args = append(args, "--model", model)
	}
	if opts.OutputFormat != "" {
		args = append(args, "--output-format", opts.OutputFormat)
	}
	if opts.MaxTurns > 0 && opts.MaxTurns != DefaultMaxTurns {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}

	if opts.BypassPermissions || opts.AllowAllTools {
		args = append(args, "--dangerously-skip-permissions")
	} else {
		if len(opts.AllowedTools) > 0 {
			args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
		}
		if len(opts.DisallowedTools) > 0 {
			args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
		}
	}

	if opts.MCPConfig != "" {
		args = append(args, "--mcp-config", opts.MCPConfig)
	}
	if opts.PermissionPromptTool != "" && !opts.IsContinuation() {
		args = append(args, "--permission-prompt-tool", opts.PermissionPromptTool)
	}

	return Command{Binary: binary, Args: args}
}
