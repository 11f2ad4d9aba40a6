// Command aexs runs agentic workflows from the command line.
//
// Usage:
//
//	aexs run workflow.json --config config.yaml
//	aexs validate workflow.yaml
//	aexs tools
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/config"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/dsl"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/logger"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/runtime"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Validate ValidateCmd `cmd:"" help:"Validate a workflow document without running it."`
	Run      RunCmd      `cmd:"" help:"Execute a workflow document."`
	Tools    ToolsCmd    `cmd:"" help:"List registered tools and their operations."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("aexs version %s\n", version)
	return nil
}

// ValidateCmd parses and validates a workflow document.
type ValidateCmd struct {
	Workflow string `arg:"" help:"Workflow document (JSON or YAML)." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	doc, err := readWorkflow(c.Workflow)
	if err != nil {
		return err
	}

	parsed := dsl.NewParser().ParseJSON(doc)
	if !parsed.Success {
		for _, msg := range parsed.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		}
		return execution.NewError(execution.CodeValidation, "CLI", "validate",
			fmt.Sprintf("%s: document does not parse", c.Workflow), nil)
	}
	for _, msg := range parsed.Warnings {
		fmt.Printf("warning: %s\n", msg)
	}

	registry := tools.NewToolRegistry()
	if err := registry.RegisterSource(context.Background(), tools.NewBuiltinToolSource(nil)); err != nil {
		return err
	}
	catalog := make([]string, 0, len(registry.ListTools()))
	for _, info := range registry.ListTools() {
		catalog = append(catalog, info.Name)
	}

	validator := dsl.NewValidator(dsl.ValidatorConfig{
		MaxExecutionDuration: cfg.DSL.MaxExecutionDuration.Seconds(),
		MaxParallelTasks:     cfg.DSL.MaxParallelTasks,
		DefaultTaskDuration:  cfg.DSL.DefaultTaskTimeout.Seconds(),
		ToolCatalog:          catalog,
	})
	result := validator.Validate(parsed.Root)

	for _, issue := range result.Issues {
		line := fmt.Sprintf("%s: %s", strings.ToLower(string(issue.Severity)), issue.Message)
		if issue.NodeID != "" {
			line += fmt.Sprintf(" (node %s)", issue.NodeID)
		}
		fmt.Println(line)
		if issue.Suggestion != "" {
			fmt.Printf("  suggestion: %s\n", issue.Suggestion)
		}
	}
	if !result.IsValid {
		return execution.NewError(execution.CodeValidation, "CLI", "validate",
			fmt.Sprintf("%s: validation failed", c.Workflow), nil)
	}

	fmt.Printf("%s: valid (%d nodes, depth %d", c.Workflow,
		parsed.Metadata.NodeCount, parsed.Metadata.MaxDepth)
	if result.EstimatedDuration > 0 {
		fmt.Printf(", estimated %.0fs", result.EstimatedDuration)
	}
	fmt.Println(")")
	if len(result.ExecutionOrder) > 0 {
		fmt.Printf("execution order: %s\n", strings.Join(result.ExecutionOrder, " -> "))
	}
	return nil
}

// RunCmd executes a workflow document and streams step results.
type RunCmd struct {
	Workflow string `arg:"" help:"Workflow document (JSON or YAML)." type:"path"`
	JSON     bool   `help:"Emit step results as JSON lines."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	doc, err := readWorkflow(c.Workflow)
	if err != nil {
		return err
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}
	defer func() { _ = rt.Shutdown(context.Background()) }()

	results, err := rt.RunWorkflow(ctx, doc)
	if err != nil {
		return err
	}

	var failed *execution.Result
	for result := range results {
		if err := printResult(result, c.JSON); err != nil {
			return err
		}
		if !result.Success && failed == nil {
			failed = result
		}
	}
	if ctx.Err() != nil {
		return execution.NewError(execution.CodeCancelled, "CLI", "run",
			"workflow interrupted", ctx.Err())
	}
	if failed != nil {
		return execution.NewError(failed.ErrorCode, "CLI", "run",
			fmt.Sprintf("step %s failed: %s", failed.StepID, failed.ErrorMessage), nil)
	}
	return nil
}

func printResult(result *execution.Result, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	if result.Success {
		fmt.Printf("ok   %-20s %v\n", result.StepID, result.Output)
		return nil
	}
	fmt.Printf("FAIL %-20s %s: %s\n", result.StepID, result.ErrorCode, result.ErrorMessage)
	return nil
}

// ToolsCmd lists the tools a runtime would register.
type ToolsCmd struct{}

func (c *ToolsCmd) Run(cli *CLI) error {
	registry := tools.NewToolRegistry()
	if err := registry.RegisterSource(context.Background(), tools.NewBuiltinToolSource(nil)); err != nil {
		return err
	}

	for _, info := range registry.ListTools() {
		fmt.Printf("%s - %s\n", info.Name, info.Description)
		for _, op := range info.Operations {
			marker := " "
			if op.Name == info.DefaultOperation {
				marker = "*"
			}
			fmt.Printf("  %s %s: %s\n", marker, op.Name, op.Description)
			for name, param := range op.Parameters {
				req := "optional"
				if param.Required {
					req = "required"
				}
				fmt.Printf("      %s (%s, %s) %s\n", name, param.Type, req, param.Description)
			}
		}
	}
	return nil
}

// loadConfig reads the config file when given, defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, execution.NewError(execution.CodeValidation, "CLI", "loadConfig",
			"failed to load config", err)
	}
	return cfg, nil
}

// readWorkflow loads a workflow document, normalizing YAML input to the
// JSON wire form the engine consumes.
func readWorkflow(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, execution.NewError(execution.CodeValidation, "CLI", "readWorkflow",
			"failed to read workflow", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, execution.NewError(execution.CodeValidation, "CLI", "readWorkflow",
				"invalid YAML workflow", err)
		}
		normalized, err := json.Marshal(doc)
		if err != nil {
			return nil, execution.NewError(execution.CodeValidation, "CLI", "readWorkflow",
				"workflow does not convert to JSON", err)
		}
		return normalized, nil
	}
	return data, nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("aexs"),
		kong.Description("aexs - agentic workflow execution platform"),
		kong.UsageOnError(),
	)

	cleanup, err := logger.Setup(logger.Options{
		Level:  cli.LogLevel,
		Format: cli.LogFormat,
		File:   cli.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(execution.ExitValidation)
	}

	err = ctx.Run(&cli)
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "aexs: %v\n", err)
		os.Exit(execution.ExitCode(err))
	}
}
