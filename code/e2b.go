package code

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deepsearch-ai/deepsearch"
)

const dispatchPath = "/deepsearch/dispatch"

// E2BSandbox executes code on a remote E2B-style runner over HTTP. The
// runner keeps the interpreter session; tool calls come back as POSTs
// to a small callback server hosted here.
type E2BSandbox struct {
	cfg     runnerConfig
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	tools     map[string]deepsearch.Tool
	sessionID string
	srv       *http.Server
	addr      string
}

var _ deepsearch.SandboxGateway = (*E2BSandbox)(nil)

// NewE2BSandbox targets the runner at baseURL (e.g.
// "https://runner.example.dev"). The bearer key comes from WithAPIKey
// or the E2B_API_KEY environment variable.
func NewE2BSandbox(baseURL string, opts ...Option) *E2BSandbox {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("E2B_API_KEY")
	}
	return &E2BSandbox{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Prepare opens a fresh runner session with the tool roster and import
// allow-list, starting the callback server on first use.
func (e *E2BSandbox) Prepare(ctx context.Context, tools map[string]deepsearch.Tool, authorizedImports []string) error {
	if err := e.ensureCallback(); err != nil {
		return err
	}
	e.mu.Lock()
	e.tools = tools
	e.sessionID = deepsearch.NewID()
	session := e.sessionID
	e.mu.Unlock()

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	req := runnerPrepareRequest{
		SessionID:         session,
		Tools:             names,
		AuthorizedImports: authorizedImports,
		CallbackURL:       e.callbackURL(),
	}
	return e.post(ctx, "/prepare", req, nil)
}

func (e *E2BSandbox) Execute(ctx context.Context, code string, state map[string]any) (*deepsearch.Execution, error) {
	e.mu.Lock()
	session := e.sessionID
	e.mu.Unlock()
	if session == "" {
		return nil, errors.New("sandbox not prepared")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.timeout)
	defer cancel()

	req := runnerExecRequest{
		SessionID:   session,
		ExecutionID: deepsearch.NewID(),
		Code:        code,
		State:       state,
		CallbackURL: e.callbackURL(),
		TimeoutSecs: int(e.cfg.timeout.Seconds()),
	}
	var resp runnerExecResponse
	if err := e.post(ctx, "/execute", req, &resp); err != nil {
		return nil, err
	}
	return &deepsearch.Execution{
		Stdout:       resp.Stdout,
		Stderr:       resp.Stderr,
		ReturnValue:  resp.ReturnValue,
		UpdatedState: resp.State,
		ToolCalls:    resp.ToolCalls,
		Error:        resp.Error,
	}, nil
}

// Close shuts the callback server down with a bounded drain timeout.
func (e *E2BSandbox) Close() error {
	e.mu.Lock()
	srv := e.srv
	e.srv = nil
	e.sessionID = ""
	e.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// ensureCallback lazily starts the tool callback server.
func (e *E2BSandbox) ensureCallback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", e.cfg.callbackAddr)
	if err != nil {
		return fmt.Errorf("callback listener: %w", err)
	}
	e.addr = ln.Addr().String()
	mux := http.NewServeMux()
	mux.HandleFunc(dispatchPath, e.handleDispatch)
	e.srv = &http.Server{Handler: mux}
	go e.srv.Serve(ln)
	return nil
}

func (e *E2BSandbox) callbackURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return "http://" + e.addr + dispatchPath
}

// handleDispatch serves tool calls POSTed back by the runner while it
// executes code. Tool failures travel in the body, not the status:
// the runner raises them inside user code.
func (e *E2BSandbox) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req runnerDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, runnerDispatchResponse{Error: "invalid request: " + err.Error()})
		return
	}
	e.mu.Lock()
	tool, ok := e.tools[req.Name]
	e.mu.Unlock()
	if !ok {
		writeJSONResponse(w, http.StatusOK, runnerDispatchResponse{Error: "unknown tool: " + req.Name})
		return
	}
	value, err := tool.Invoke(r.Context(), req.Args)
	if err != nil {
		writeJSONResponse(w, http.StatusOK, runnerDispatchResponse{Error: err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, runnerDispatchResponse{Data: marshalValue(value, e.cfg.maxOutput)})
}

// --- runner wire types ---

type runnerPrepareRequest struct {
	SessionID         string   `json:"session_id"`
	Tools             []string `json:"tools"`
	AuthorizedImports []string `json:"authorized_imports,omitempty"`
	CallbackURL       string   `json:"callback_url"`
}

type runnerExecRequest struct {
	SessionID   string         `json:"session_id"`
	ExecutionID string         `json:"execution_id"`
	Code        string         `json:"code"`
	State       map[string]any `json:"state,omitempty"`
	CallbackURL string         `json:"callback_url"`
	TimeoutSecs int            `json:"timeout"`
}

type runnerExecResponse struct {
	Stdout      string                       `json:"stdout"`
	Stderr      string                       `json:"stderr"`
	ReturnValue any                          `json:"return_value,omitempty"`
	State       map[string]any               `json:"state,omitempty"`
	ToolCalls   []deepsearch.SandboxToolCall `json:"tool_calls,omitempty"`
	Error       string                       `json:"error,omitempty"`
}

type runnerDispatchRequest struct {
	ExecutionID string         `json:"execution_id"`
	Name        string         `json:"name"`
	Args        map[string]any `json:"args"`
}

type runnerDispatchResponse struct {
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// post sends one runner request with transient-failure retry and
// doubling backoff.
func (e *E2BSandbox) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var lastErr error
	delay := e.cfg.retryDelay
	for attempt := 0; attempt < e.cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := e.postOnce(ctx, path, body, out)
		if err == nil {
			return nil
		}
		if !transientRunnerErr(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("runner unreachable after %d attempts: %w", e.cfg.maxRetries, lastErr)
}

func (e *E2BSandbox) postOnce(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return &runnerError{code: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runner returned %d: %s", resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// runnerError is a 5xx response from the runner.
type runnerError struct {
	code int
	body string
}

func (e *runnerError) Error() string {
	return fmt.Sprintf("runner returned %d: %s", e.code, e.body)
}

// transientRunnerErr reports whether err is worth retrying.
func transientRunnerErr(err error) bool {
	var rerr *runnerError
	if errors.As(err, &rerr) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

func writeJSONResponse(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
