package code

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/deepsearch-ai/deepsearch"
)

//go:embed prelude.py
var preludeSource string

// LocalSandbox runs a persistent python3 interpreter as a child
// process. One interpreter per sandbox; Prepare (re)starts it, so a
// loop Reset lands in a fresh namespace.
type LocalSandbox struct {
	cfg runnerConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	sess   *session
	stderr *outputCap
}

var _ deepsearch.SandboxGateway = (*LocalSandbox)(nil)

func NewLocalSandbox(opts ...Option) *LocalSandbox {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &LocalSandbox{cfg: cfg}
}

// Prepare starts a fresh interpreter and installs the tool shims and
// import allow-list. Any previous interpreter is torn down first.
func (l *LocalSandbox) Prepare(ctx context.Context, tools map[string]deepsearch.Tool, authorizedImports []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()

	cmd := exec.Command(l.cfg.pythonBin, "-u", "-c", preludeSource)
	cmd.Dir = l.resolveWorkspace()
	cmd.Env = l.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("sandbox stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("sandbox stdout: %w", err)
	}
	l.stderr = &outputCap{max: l.cfg.maxOutput}
	cmd.Stderr = l.stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.cfg.pythonBin, err)
	}
	sess := newSession(stdin, stdout, l.cfg.maxOutput, func() { _ = cmd.Process.Kill() })

	if err := sess.awaitReady(ctx); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("interpreter not ready: %w (stderr: %s)", err, l.stderr.String())
	}
	if err := sess.prepare(ctx, tools, authorizedImports); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("install tool shims: %w", err)
	}
	l.cmd, l.sess = cmd, sess
	return nil
}

// Execute runs one code block in the persistent namespace. A wedged or
// timed-out interpreter is killed; the sandbox stays unusable until the
// next Prepare.
func (l *LocalSandbox) Execute(ctx context.Context, code string, state map[string]any) (*deepsearch.Execution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess == nil {
		return nil, errors.New("sandbox not prepared")
	}
	execCtx, cancel := context.WithTimeout(ctx, l.cfg.timeout)
	defer cancel()

	res, err := l.sess.execute(execCtx, code, state)
	if err != nil {
		stderr := l.stderr.String()
		l.stopLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if execCtx.Err() != nil {
			return nil, fmt.Errorf("execution timed out after %s (stderr: %s)", l.cfg.timeout, stderr)
		}
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}
	return res, nil
}

func (l *LocalSandbox) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return nil
}

// stopLocked asks the interpreter to exit, then kills it after a short
// grace period. Callers hold l.mu.
func (l *LocalSandbox) stopLocked() {
	if l.cmd == nil {
		return
	}
	if l.sess != nil {
		_ = l.sess.send(command{Type: "close"})
	}
	cmd := l.cmd
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
	l.cmd, l.sess = nil, nil
}

func (l *LocalSandbox) resolveWorkspace() string {
	if l.cfg.workspace != "" {
		return l.cfg.workspace
	}
	return os.TempDir()
}

func (l *LocalSandbox) buildEnv() []string {
	var env []string
	if l.cfg.envPassthrough {
		env = os.Environ()
	} else {
		// Minimal environment for the interpreter to work.
		env = []string{
			"PATH=" + os.Getenv("PATH"),
			"HOME=" + os.Getenv("HOME"),
			"LANG=en_US.UTF-8",
		}
	}
	return append(env, envSlice(l.cfg.envVars)...)
}
