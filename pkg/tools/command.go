package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// ============================================================================
// COMMAND TOOL - ALLOWLISTED SHELL COMMAND EXECUTION
// ============================================================================

// CommandToolConfig configures the command tool.
type CommandToolConfig struct {
	AllowedCommands  []string      `yaml:"allowed_commands" mapstructure:"allowed_commands"`
	WorkingDirectory string        `yaml:"working_directory" mapstructure:"working_directory"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" mapstructure:"max_execution_time"`
	MaxOutputBytes   int           `yaml:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// SetDefaults applies secure defaults.
func (c *CommandToolConfig) SetDefaults() {
	if len(c.AllowedCommands) == 0 {
		c.AllowedCommands = []string{
			"cat", "head", "tail", "ls", "find", "grep", "wc", "pwd",
			"echo", "date",
		}
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = 30 * time.Second
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = 64 * 1024
	}
}

type commandArgs struct {
	Command    string `json:"command" jsonschema:"required,description=Command line to run; the executable must be allowlisted"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"description=Optional working directory"`
}

// CommandTool runs allowlisted shell commands with timeout protection.
type CommandTool struct {
	config *CommandToolConfig
}

// NewCommandTool creates a command tool with secure defaults.
func NewCommandTool(cfg *CommandToolConfig) *CommandTool {
	if cfg == nil {
		cfg = &CommandToolConfig{}
	}
	cfg.SetDefaults()
	return &CommandTool{config: cfg}
}

func (t *CommandTool) GetName() string { return "execute_command" }

func (t *CommandTool) GetDescription() string {
	return "Executes an allowlisted shell command and returns its output"
}

func (t *CommandTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "execute_command",
		Description: t.GetDescription(),
		Operations: []OperationInfo{
			{
				Name:        "run",
				Description: "Runs the command and captures stdout and stderr",
				Args:        &commandArgs{},
			},
		},
		DefaultOperation: "run",
	}
}

func (t *CommandTool) ValidateParams(operation string, params map[string]any) error {
	command, ok := params["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return execution.NewError(execution.CodeValidation, "execute_command", operation,
			"parameter 'command' is required; pass the full command line as a string", nil)
	}
	return t.validateCommand(command)
}

func (t *CommandTool) Execute(ctx context.Context, operation string, params map[string]any) (ToolResult, error) {
	start := time.Now()

	command, _ := params["command"].(string)
	if err := t.validateCommand(command); err != nil {
		return errorResult("execute_command", operation, err.Error(), time.Since(start)), err
	}

	workingDir, _ := params["working_dir"].(string)
	if workingDir == "" {
		workingDir = t.config.WorkingDirectory
	}

	if t.config.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.MaxExecutionTime)
		defer cancel()
	}

	fields := strings.Fields(command)
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = workingDir

	output, runErr := cmd.CombinedOutput()
	if len(output) > t.config.MaxOutputBytes {
		output = append(output[:t.config.MaxOutputBytes], []byte("\n... (output truncated)")...)
	}

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err := execution.NewError(execution.CodeTimeout, "execute_command", "run",
				fmt.Sprintf("command exceeded %s", t.config.MaxExecutionTime), runErr)
			return errorResult("execute_command", operation, err.Error(), time.Since(start)), err
		}
		err := execution.NewError(execution.CodeExecution, "execute_command", "run",
			fmt.Sprintf("command failed: %s", strings.TrimSpace(string(output))), runErr)
		return errorResult("execute_command", operation, err.Error(), time.Since(start)), err
	}

	return successResult("execute_command", operation, string(output), string(output), time.Since(start)), nil
}

// validateCommand enforces the allowlist and rejects shell metacharacters
// that would escape it.
func (t *CommandTool) validateCommand(command string) error {
	for _, ch := range []string{";", "&&", "||", "|", "`", "$(", ">", "<"} {
		if strings.Contains(command, ch) {
			return execution.NewError(execution.CodeValidation, "execute_command", "run",
				fmt.Sprintf("command contains forbidden sequence %q", ch), nil)
		}
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return execution.NewError(execution.CodeValidation, "execute_command", "run", "command is empty", nil)
	}

	executable := fields[0]
	for _, allowed := range t.config.AllowedCommands {
		if executable == allowed {
			return nil
		}
	}
	return execution.NewError(execution.CodeValidation, "execute_command", "run",
		fmt.Sprintf("command %q is not allowlisted (allowed: %s)", executable, strings.Join(t.config.AllowedCommands, ", ")), nil)
}
