// Package runtime assembles a working execution environment from a
// configuration: tool registry and executor, LLM providers, agents, the DSL
// workflow engine, checkpointing, session context, and observability.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/agent"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/checkpoint"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/config"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/memory"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/observability"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/workflow"
)

// Runtime is an assembled execution environment. Construct with New, tear
// down with Shutdown.
type Runtime struct {
	cfg *config.Config

	toolRegistry *tools.ToolRegistry
	executor     *tools.Executor
	llmRegistry  *llms.LLMRegistry
	agents       *agent.AgentRegistry
	engine       *workflow.Engine

	checkpointer  checkpoint.Checkpointer
	contextEngine memory.ContextEngine
	obs           *observability.Manager
}

// Option customizes runtime assembly before agents are built.
type Option func(*options)

type options struct {
	providers map[string]llms.LLMProvider
	sources   []tools.ToolSource
	handlers  map[string]workflow.TaskHandler
}

// WithProvider registers an LLM provider under a name before agents bind
// to it. Without one, a scripted provider is installed as "scripted".
func WithProvider(name string, provider llms.LLMProvider) Option {
	return func(o *options) { o.providers[name] = provider }
}

// WithToolSource registers an extra tool source alongside the builtins.
func WithToolSource(source tools.ToolSource) Option {
	return func(o *options) { o.sources = append(o.sources, source) }
}

// WithTaskHandler binds a workflow task name to a handler.
func WithTaskHandler(name string, handler workflow.TaskHandler) Option {
	return func(o *options) { o.handlers[name] = handler }
}

// New assembles a runtime from the configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &options{
		providers: make(map[string]llms.LLMProvider),
		handlers:  make(map[string]workflow.TaskHandler),
	}
	for _, opt := range opts {
		opt(o)
	}

	r := &Runtime{cfg: cfg}

	obs, err := observability.NewManager(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to start observability: %w", err)
	}
	r.obs = obs

	if err := r.buildTools(ctx, o); err != nil {
		r.Shutdown(ctx)
		return nil, err
	}
	if err := r.buildLLMs(o); err != nil {
		r.Shutdown(ctx)
		return nil, err
	}
	if err := r.buildStores(); err != nil {
		r.Shutdown(ctx)
		return nil, err
	}
	if err := r.buildAgents(ctx); err != nil {
		r.Shutdown(ctx)
		return nil, err
	}

	r.engine = workflow.NewEngine(r.executor, workflow.EngineConfig{
		MaxParallelTasks:     cfg.DSL.MaxParallelTasks,
		MaxExecutionDuration: cfg.DSL.MaxExecutionDuration,
		DefaultTaskTimeout:   cfg.DSL.DefaultTaskTimeout,
	})
	for name, handler := range o.handlers {
		r.engine.RegisterHandler(name, handler)
	}

	slog.Info("Runtime assembled",
		"tools", r.toolRegistry.Count(),
		"agents", r.agents.Count(),
		"checkpoint_store", cfg.Checkpoint.Store)
	return r, nil
}

func (r *Runtime) buildTools(ctx context.Context, o *options) error {
	reg := tools.NewToolRegistry()
	if err := reg.RegisterSource(ctx, tools.NewBuiltinToolSource(nil)); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}
	for _, source := range o.sources {
		if err := reg.RegisterSource(ctx, source); err != nil {
			return fmt.Errorf("failed to register tool source %s: %w", source.GetName(), err)
		}
	}

	execCfg := tools.ExecutorConfig{
		CacheEnabled:     r.cfg.ToolCache.Enabled != nil && *r.cfg.ToolCache.Enabled,
		DefaultTTL:       r.cfg.ToolCache.DefaultTTL,
		MaxCacheSize:     r.cfg.ToolCache.MaxCacheSize,
		CleanupThreshold: r.cfg.ToolCache.CleanupThreshold,
		CleanupInterval:  r.cfg.ToolCache.CleanupInterval,
		RateLimitRPS:     r.cfg.RateLimitRPS,
		RateLimitBurst:   r.cfg.RateLimitBurst,
	}
	executor, err := tools.NewExecutor(reg, execCfg)
	if err != nil {
		return fmt.Errorf("failed to build tool executor: %w", err)
	}
	r.toolRegistry = reg
	r.executor = executor
	return nil
}

func (r *Runtime) buildLLMs(o *options) error {
	r.llmRegistry = llms.NewLLMRegistry()
	if len(o.providers) == 0 {
		o.providers["scripted"] = llms.NewScriptedProvider(r.cfg.LLM.Model)
	}
	for name, provider := range o.providers {
		if err := r.llmRegistry.RegisterLLM(name, provider); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) buildStores() error {
	r.contextEngine = memory.NewInMemoryEngine()

	if !r.cfg.Checkpoint.Enabled {
		return nil
	}
	switch r.cfg.Checkpoint.Store {
	case "sqlite":
		store, err := checkpoint.NewSQLiteStore(r.cfg.Checkpoint.Path)
		if err != nil {
			return err
		}
		r.checkpointer = store
	default:
		r.checkpointer = checkpoint.NewMemoryStore()
	}
	return nil
}

func (r *Runtime) buildAgents(ctx context.Context) error {
	r.agents = agent.NewAgentRegistry()

	providerName := r.cfg.LLM.Provider
	if providerName == "" {
		providerName = "scripted"
	}
	provider, err := r.llmRegistry.GetLLM(providerName)
	if err != nil {
		return fmt.Errorf("llm provider %q not registered: %w", providerName, err)
	}

	for name, spec := range r.cfg.Agents {
		built, err := r.buildAgent(name, spec, provider)
		if err != nil {
			return fmt.Errorf("failed to build agent %q: %w", name, err)
		}
		if err := r.agents.RegisterAgent(built); err != nil {
			return err
		}
	}

	// Agents activate after registration so peers resolve during startup.
	for _, a := range r.agents.List() {
		if init, ok := a.(interface{ Initialize(context.Context) error }); ok {
			if err := init.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to initialize agent %s: %w", a.Name(), err)
			}
		}
	}
	return nil
}

func (r *Runtime) buildAgent(name string, spec *config.AgentConfig, provider llms.LLMProvider) (agent.Agent, error) {
	agentCfg := agent.Config{
		Name:             spec.Name,
		Description:      spec.Description,
		Capabilities:     spec.Capabilities,
		Model:            spec.Model,
		Temperature:      spec.Temperature,
		MaxTokens:        spec.MaxTokens,
		MaxIterations:    spec.MaxIterations,
		MaxParallelTools: spec.MaxParallelTools,
		LearningEnabled:  spec.LearningEnabled,
		Limits: agent.ResourceLimits{
			EnforceLimits:         r.cfg.EnforceLimits,
			MaxConcurrentTasks:    r.cfg.MaxConcurrentTasks,
			MaxTokensPerMinute:    r.cfg.MaxTokensPerMinute,
			MaxToolCallsPerMinute: r.cfg.MaxToolCallsPerMinute,
		},
	}

	switch spec.Type {
	case config.AgentTypeTool:
		return agent.NewToolAgent(agentCfg, r.executor, provider)
	case config.AgentTypeLLM:
		return agent.NewLLMAgent(agentCfg, provider)
	case config.AgentTypeHybrid:
		opts := []agent.HybridOption{
			agent.WithPeers(r.agents),
			agent.WithContextEngine(r.contextEngine, name),
		}
		if spec.SystemPrompt != "" {
			opts = append(opts, agent.WithSystemPrompt(spec.SystemPrompt))
		}
		if r.checkpointer != nil {
			opts = append(opts, agent.WithCheckpointer(r.checkpointer, name))
		}
		return agent.NewHybridAgent(agentCfg, r.executor, provider, opts...)
	default:
		return nil, fmt.Errorf("unknown agent type %q", spec.Type)
	}
}

// Executor returns the tool executor.
func (r *Runtime) Executor() *tools.Executor { return r.executor }

// Tools returns the tool registry.
func (r *Runtime) Tools() *tools.ToolRegistry { return r.toolRegistry }

// LLMs returns the provider registry.
func (r *Runtime) LLMs() *llms.LLMRegistry { return r.llmRegistry }

// Agents returns the agent registry.
func (r *Runtime) Agents() *agent.AgentRegistry { return r.agents }

// Engine returns the DSL workflow engine.
func (r *Runtime) Engine() *workflow.Engine { return r.engine }

// Checkpointer returns the configured checkpoint store, nil when disabled.
func (r *Runtime) Checkpointer() checkpoint.Checkpointer { return r.checkpointer }

// ContextEngine returns the session context engine.
func (r *Runtime) ContextEngine() memory.ContextEngine { return r.contextEngine }

// GetAgentByName finds a registered agent by its configured name.
func (r *Runtime) GetAgentByName(name string) (agent.Agent, error) {
	for _, a := range r.agents.List() {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, execution.NewError(execution.CodeValidation, "Runtime", "GetAgentByName",
		fmt.Sprintf("agent %q not configured", name), nil)
}

// RunWorkflow validates and executes a DSL document, streaming step results.
func (r *Runtime) RunWorkflow(ctx context.Context, doc []byte) (<-chan *execution.Result, error) {
	return r.engine.ExecuteDocument(ctx, doc, execution.NewContext(nil))
}

// Shutdown stops agents and releases stores. Safe on a partially
// constructed runtime.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if r.agents != nil {
		for _, a := range r.agents.List() {
			if closer, ok := a.(interface{ Shutdown(context.Context) error }); ok {
				if err := closer.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if r.llmRegistry != nil {
		if err := r.llmRegistry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.checkpointer != nil {
		if err := r.checkpointer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.contextEngine != nil {
		if err := r.contextEngine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.obs != nil {
		if err := r.obs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
