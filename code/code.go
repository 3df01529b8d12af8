// Package code implements the SandboxGateway backends for the
// code-acting loop: a local python3 subprocess, a docker container and
// a remote HTTP executor. All three honor the same contract: Prepare
// installs the tool shims and import allow-list, Execute runs one code
// block with the run state echoed in and out, and the recorded
// tool-call log lets the loop detect final_answer.
package code

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deepsearch-ai/deepsearch"
)

// Option configures a sandbox backend.
type Option func(*runnerConfig)

type runnerConfig struct {
	// Shared options.
	timeout   time.Duration
	maxOutput int

	// LocalSandbox options.
	pythonBin      string
	workspace      string
	envVars        map[string]string
	envPassthrough bool

	// DockerSandbox options.
	image     string
	portSpecs []string

	// E2BSandbox options.
	apiKey       string
	callbackAddr string
	maxRetries   int
	retryDelay   time.Duration
}

func defaultConfig() runnerConfig {
	return runnerConfig{
		timeout:      30 * time.Second,
		maxOutput:    64 * 1024,
		pythonBin:    "python3",
		image:        "python:3.12-slim",
		callbackAddr: "127.0.0.1:0", // OS-assigned port
		maxRetries:   3,
		retryDelay:   500 * time.Millisecond,
	}
}

// WithTimeout sets the per-Execute deadline. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *runnerConfig) { c.timeout = d }
}

// WithMaxOutput sets the captured output cap in bytes. Output beyond
// the limit is truncated. Default: 64KB.
func WithMaxOutput(bytes int) Option {
	return func(c *runnerConfig) { c.maxOutput = bytes }
}

// WithPythonBin sets the interpreter binary for LocalSandbox.
// Default: "python3".
func WithPythonBin(bin string) Option {
	return func(c *runnerConfig) { c.pythonBin = bin }
}

// WithWorkspace sets the interpreter's working directory.
// Default: the OS temp dir.
func WithWorkspace(dir string) Option {
	return func(c *runnerConfig) { c.workspace = dir }
}

// WithEnv adds environment variables to the interpreter process.
func WithEnv(vars map[string]string) Option {
	return func(c *runnerConfig) { c.envVars = vars }
}

// WithEnvPassthrough forwards the host environment to the interpreter
// instead of the minimal default set.
func WithEnvPassthrough() Option {
	return func(c *runnerConfig) { c.envPassthrough = true }
}

// WithImage sets the container image for DockerSandbox.
// Default: "python:3.12-slim".
func WithImage(image string) Option {
	return func(c *runnerConfig) { c.image = image }
}

// WithPublishedPorts publishes container ports for DockerSandbox using
// docker-style specs (e.g. "127.0.0.1:9000:8000/tcp"), so sandboxed
// code can serve artifacts back to the host.
func WithPublishedPorts(specs ...string) Option {
	return func(c *runnerConfig) { c.portSpecs = specs }
}

// WithAPIKey sets the bearer key for E2BSandbox requests.
func WithAPIKey(key string) Option {
	return func(c *runnerConfig) { c.apiKey = key }
}

// WithCallbackAddr sets the listen address for the E2BSandbox tool
// callback server. Default: "127.0.0.1:0" (OS-assigned port).
func WithCallbackAddr(addr string) Option {
	return func(c *runnerConfig) { c.callbackAddr = addr }
}

// WithMaxRetries sets the total number of attempts for runner HTTP
// requests. 1 means no retry. Default: 3.
func WithMaxRetries(n int) Option {
	return func(c *runnerConfig) {
		if n < 1 {
			n = 1
		}
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial backoff between retries; it doubles
// on each subsequent retry. Default: 500ms.
func WithRetryDelay(d time.Duration) Option {
	return func(c *runnerConfig) { c.retryDelay = d }
}

// --- Protocol wire types ---

// command is a host→interpreter message on the newline-JSON protocol.
type command struct {
	Type              string         `json:"type"` // prepare | exec | tool_result | close
	ID                string         `json:"id,omitempty"`
	Code              string         `json:"code,omitempty"`
	State             map[string]any `json:"state,omitempty"`
	Tools             []string       `json:"tools,omitempty"`
	AuthorizedImports []string       `json:"authorized_imports,omitempty"`
	MaxOutput         int            `json:"max_output,omitempty"`
	Data              string         `json:"data,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// event is an interpreter→host message.
type event struct {
	Type        string                       `json:"type"` // ready | tool_call | result
	ID          string                       `json:"id,omitempty"`
	Name        string                       `json:"name,omitempty"`
	Args        map[string]any               `json:"args,omitempty"`
	Stdout      string                       `json:"stdout,omitempty"`
	Stderr      string                       `json:"stderr,omitempty"`
	ReturnValue any                          `json:"return_value,omitempty"`
	State       map[string]any               `json:"state,omitempty"`
	ToolCalls   []deepsearch.SandboxToolCall `json:"tool_calls,omitempty"`
	Error       string                       `json:"error,omitempty"`
}

// --- Protocol session ---

// session drives the line protocol with one interpreter. A reader
// goroutine owns the interpreter's stdout; commands go out through
// stdin. LocalSandbox and DockerSandbox share it; only the transport
// differs.
type session struct {
	stdin     io.Writer
	events    chan event
	tools     map[string]deepsearch.Tool
	maxOutput int
	kill      func()
}

func newSession(stdin io.Writer, stdout io.Reader, maxOutput int, kill func()) *session {
	s := &session{
		stdin:     stdin,
		events:    make(chan event, 16),
		maxOutput: maxOutput,
		kill:      kill,
	}
	go s.readLoop(stdout)
	return s
}

func (s *session) readLoop(stdout io.Reader) {
	defer close(s.events)
	limit := 4 * s.maxOutput
	if limit < 1<<20 {
		limit = 1 << 20
	}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), limit)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Stray prints must not break the protocol.
			continue
		}
		s.events <- ev
	}
}

func (s *session) send(cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// awaitReady blocks until the interpreter announces itself.
func (s *session) awaitReady(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return errors.New("interpreter exited before ready")
			}
			if ev.Type == "ready" {
				return nil
			}
		case <-ctx.Done():
			s.kill()
			return ctx.Err()
		}
	}
}

// prepare installs the tool shims and import allow-list in the
// interpreter namespace and waits for the acknowledgment.
func (s *session) prepare(ctx context.Context, tools map[string]deepsearch.Tool, imports []string) error {
	s.tools = tools
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	cmd := command{
		Type:              "prepare",
		Tools:             names,
		AuthorizedImports: imports,
		MaxOutput:         s.maxOutput,
	}
	if err := s.send(cmd); err != nil {
		return err
	}
	return s.awaitReady(ctx)
}

// execute runs one code block, answering tool calls inline until the
// interpreter reports the result.
func (s *session) execute(ctx context.Context, code string, state map[string]any) (*deepsearch.Execution, error) {
	if err := s.send(command{Type: "exec", ID: deepsearch.NewID(), Code: code, State: state}); err != nil {
		return nil, err
	}
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return nil, errors.New("interpreter exited mid-execution")
			}
			switch ev.Type {
			case "tool_call":
				if err := s.send(s.dispatch(ctx, ev)); err != nil {
					return nil, err
				}
			case "result":
				return &deepsearch.Execution{
					Stdout:       ev.Stdout,
					Stderr:       ev.Stderr,
					ReturnValue:  ev.ReturnValue,
					UpdatedState: ev.State,
					ToolCalls:    ev.ToolCalls,
					Error:        ev.Error,
				}, nil
			}
		case <-ctx.Done():
			s.kill()
			return nil, ctx.Err()
		}
	}
}

// dispatch answers one tool_call event. Failures travel back as
// protocol errors; the interpreter raises them inside user code.
func (s *session) dispatch(ctx context.Context, ev event) command {
	reply := command{Type: "tool_result", ID: ev.ID}
	tool, ok := s.tools[ev.Name]
	if !ok {
		reply.Error = "unknown tool: " + ev.Name
		return reply
	}
	value, err := tool.Invoke(ctx, ev.Args)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Data = marshalValue(value, s.maxOutput)
	return reply
}

// marshalValue renders a tool result for the interpreter. Oversized
// payloads are clipped; the interpreter falls back to the raw string
// when the clipped form no longer parses as JSON.
func marshalValue(v any, max int) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	if max > 0 && len(data) > max {
		return string(data[:max]) + "... (truncated)"
	}
	return string(data)
}

// envSlice renders env vars in deterministic order.
func envSlice(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// outputCap limits captured interpreter stderr to max bytes.
type outputCap struct {
	mu  sync.Mutex
	buf strings.Builder
	max int
}

func (c *outputCap) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() < c.max {
		remaining := c.max - c.buf.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *outputCap) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
