package deepsearch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CodactAgent is the code-acting loop: the model emits a Python block,
// the sandbox executes it with the run state, and the captured output
// becomes the observation. Tools are callables inside the sandbox
// namespace.
type CodactAgent struct {
	core      loopCore
	registry  *Registry
	sandbox   SandboxGateway
	validator *CodeValidator
	imports   []string
	name      string
	desc      string
	verbosity int

	prepared    bool
	sandboxErrs int
}

// NewCodactAgent builds a CodeAct loop over the given model, registry
// and sandbox backend. When both structured outputs and a reranker are
// configured, grammar wins and structured outputs are disabled.
func NewCodactAgent(model Model, registry *Registry, sandbox SandboxGateway, opts ...AgentOption) *CodactAgent {
	cfg := buildAgentConfig(opts)
	if cfg.name == "" {
		cfg.name = "codact"
	}
	structured := cfg.structuredOutputs
	if structured && cfg.rerankerType != "" {
		cfg.logger.Warn("reranker grammar mode active, disabling structured outputs",
			"agent", cfg.name, "reranker", cfg.rerankerType)
		structured = false
	}
	imports := SanitizeImports(cfg.authorizedImports)

	a := &CodactAgent{
		registry:  registry,
		sandbox:   sandbox,
		validator: NewCodeValidator(),
		imports:   imports,
		name:      cfg.name,
		desc:      cfg.description,
		verbosity: cfg.verbosityLevel,
	}
	a.core = loopCore{
		name:             cfg.name,
		kind:             AgentCodact,
		router:           model,
		modelInfo:        modelInfoOf(model),
		memory:           NewMemory(cfg.initialState),
		prompts:          BindPrompts(AgentCodact, registry, PromptOptions{AuthorizedImports: imports}),
		maxSteps:         cfg.maxSteps,
		planningInterval: cfg.planningInterval,
		jsonOutput:       structured,
		act:              a.act,
		logger:           cfg.logger,
		tracer:           cfg.tracer,
	}
	return a
}

func (a *CodactAgent) Kind() AgentKind     { return AgentCodact }
func (a *CodactAgent) Name() string        { return a.name }
func (a *CodactAgent) Description() string { return a.desc }
func (a *CodactAgent) Memory() *Memory     { return a.core.memory }

func (a *CodactAgent) Execute(ctx context.Context, task string) *RunResult {
	return a.execute(ctx, task, nil)
}

func (a *CodactAgent) ExecuteStream(ctx context.Context, task string, events chan<- Event) *RunResult {
	return a.execute(ctx, task, events)
}

func (a *CodactAgent) execute(ctx context.Context, task string, events chan<- Event) *RunResult {
	if a.core.memory.Len() > 0 {
		if err := a.Reset(ctx); err != nil {
			return ErrResult(err.Error(), "", Usage{}, nil)
		}
	} else if err := a.prepare(ctx); err != nil {
		return ErrResult(ErrRunSandboxUnavailable, "", Usage{}, nil)
	}
	a.registry.Freeze()
	a.sandboxErrs = 0
	return a.core.run(ctx, task, events)
}

// Reset rebuilds memory AND re-prepares the sandbox namespace, so a
// fresh run sees fresh tool shims and state.
func (a *CodactAgent) Reset(ctx context.Context) error {
	a.core.memory.Reset()
	a.prepared = false
	return a.prepare(ctx)
}

// Close tears the sandbox backend down.
func (a *CodactAgent) Close() error {
	return a.sandbox.Close()
}

func (a *CodactAgent) prepare(ctx context.Context) error {
	if a.prepared {
		return nil
	}
	namespace := make(map[string]Tool, a.registry.Len())
	for _, name := range a.registry.Names() {
		tool, _ := a.registry.Get(name)
		namespace[name] = tool
	}
	if err := a.sandbox.Prepare(ctx, namespace, a.imports); err != nil {
		a.core.logger.Error("sandbox prepare failed", "agent", a.name, "err", err)
		return err
	}
	a.prepared = true
	return nil
}

// Invoke satisfies AgentHandle for manager delegation.
func (a *CodactAgent) Invoke(ctx context.Context, task string) (string, error) {
	res := a.Execute(ctx, task)
	if !res.Success() {
		return "", &ToolError{Kind: ErrKindToolError, Tool: a.name, Message: res.Error}
	}
	return res.FinalAnswer, nil
}

// act is the CodeAct acting stage: extract, validate, execute, merge
// state, detect final_answer.
func (a *CodactAgent) act(ctx context.Context, step *ActionStep, resp ChatResponse) (*FinalAnswer, error) {
	code := ExtractCodeBlock(resp.Content)
	if code == "" {
		// Free thinking, no action taken.
		return nil, nil
	}

	obs := Observation{CallID: NewID(), Tool: "python"}
	start := time.Now()

	if verr := a.validator.Validate(code); verr != nil {
		obs.Err = &ToolError{Kind: ToolErrorKind(verr.Kind), Tool: "python", Message: verr.Message, Cause: verr}
		obs.ErrText = verr.Error()
		obs.Duration = time.Since(start)
		step.Observations = []Observation{obs}
		a.core.logger.Warn("unsafe code rejected", "agent", a.name)
		return nil, nil
	}

	exec, err := a.sandbox.Execute(ctx, code, a.core.memory.State())
	obs.Duration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		serr := &SandboxError{Kind: ErrKindSandboxError, Message: err.Error(), Cause: err}
		obs.Err = &ToolError{Kind: ToolErrorKind(serr.Kind), Tool: "python", Message: serr.Message, Cause: serr}
		obs.ErrText = serr.Error()
		step.Observations = []Observation{obs}
		a.sandboxErrs++
		if a.sandboxErrs >= maxConsecutiveSandboxErrors {
			return nil, &fatalLoopError{code: ErrRunSandboxUnavailable, cause: err}
		}
		return nil, nil
	}
	a.sandboxErrs = 0

	if exec.UpdatedState != nil {
		a.core.memory.State().Merge(exec.UpdatedState)
	}
	obs.Value = formatExecution(exec, a.verbosity)
	if exec.Error != "" {
		obs.ErrText = exec.Error
	}
	step.Observations = []Observation{obs}

	if args, ok := exec.FinalAnswerArgs(); ok {
		fa, err := ParseFinalAnswer(args)
		if err != nil {
			obs.Err = &ToolError{Kind: ErrKindToolError, Tool: "final_answer",
				Message: "final_answer requires title, content, sources"}
			obs.ErrText = obs.Err.Error()
			step.Observations = []Observation{obs}
			return nil, nil
		}
		return &fa, nil
	}
	return nil, nil
}

// formatExecution renders a sandbox execution for the model. Verbosity
// above zero includes stderr even on success.
func formatExecution(exec *Execution, verbosity int) string {
	var b strings.Builder
	if exec.Stdout != "" {
		b.WriteString(exec.Stdout)
	}
	if exec.Stderr != "" && (verbosity > 0 || exec.Error != "") {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(exec.Stderr)
	}
	if exec.ReturnValue != nil {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "return: %v", exec.ReturnValue)
	}
	if exec.Error != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("error: ")
		b.WriteString(exec.Error)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}

// ExtractCodeBlock returns the first <code>…</code> block from model
// output, falling back to the legacy fenced ```python form. Empty when
// the message carries no code.
func ExtractCodeBlock(content string) string {
	if i := strings.Index(content, "<code>"); i >= 0 {
		rest := content[i+len("<code>"):]
		if j := strings.Index(rest, "</code>"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
	}
	if block := extractFence(content, "```python"); block != "" {
		return block
	}
	return ""
}

var (
	_ Agent       = (*CodactAgent)(nil)
	_ AgentHandle = (*CodactAgent)(nil)
)
