package code

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/deepsearch-ai/deepsearch"
)

// DockerSandbox runs the interpreter inside a container and speaks the
// same line protocol over the attached stdio streams. The container is
// created with AutoRemove, so stopping it cleans up.
type DockerSandbox struct {
	cfg runnerConfig

	mu          sync.Mutex
	cli         *client.Client
	containerID string
	attach      types.HijackedResponse
	sess        *session
	stderr      *outputCap
}

var _ deepsearch.SandboxGateway = (*DockerSandbox)(nil)

func NewDockerSandbox(opts ...Option) *DockerSandbox {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &DockerSandbox{cfg: cfg}
}

// Prepare creates and starts a fresh container, then installs the tool
// shims and import allow-list over the attached streams.
func (d *DockerSandbox) Prepare(ctx context.Context, tools map[string]deepsearch.Tool, authorizedImports []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	if d.cli == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("docker client: %w", err)
		}
		d.cli = cli
	}

	// Best effort: ContainerCreate reports a missing image anyway.
	if rc, err := d.cli.ImagePull(ctx, d.cfg.image, image.PullOptions{}); err == nil {
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	}

	var (
		exposed  nat.PortSet
		bindings nat.PortMap
	)
	if len(d.cfg.portSpecs) > 0 {
		var err error
		exposed, bindings, err = nat.ParsePortSpecs(d.cfg.portSpecs)
		if err != nil {
			return fmt.Errorf("parse port specs: %w", err)
		}
	}

	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        d.cfg.image,
			Cmd:          []string{"python3", "-u", "-c", preludeSource},
			Env:          envSlice(d.cfg.envVars),
			OpenStdin:    true,
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			AutoRemove:   true,
			PortBindings: bindings,
		},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	d.containerID = created.ID

	attach, err := d.cli.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		d.stopLocked()
		return fmt.Errorf("attach container: %w", err)
	}
	d.attach = attach

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		d.stopLocked()
		return fmt.Errorf("start container: %w", err)
	}

	// Demultiplex the attach stream into protocol stdout and capped
	// stderr.
	d.stderr = &outputCap{max: d.cfg.maxOutput}
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, d.stderr, attach.Reader)
		pw.CloseWithError(err)
	}()

	id := created.ID
	cli := d.cli
	sess := newSession(attach.Conn, pr, d.cfg.maxOutput, func() {
		_ = cli.ContainerKill(context.Background(), id, "KILL")
	})
	if err := sess.awaitReady(ctx); err != nil {
		d.stopLocked()
		return fmt.Errorf("container interpreter not ready: %w (stderr: %s)", err, d.stderr.String())
	}
	if err := sess.prepare(ctx, tools, authorizedImports); err != nil {
		d.stopLocked()
		return fmt.Errorf("install tool shims: %w", err)
	}
	d.sess = sess
	return nil
}

func (d *DockerSandbox) Execute(ctx context.Context, code string, state map[string]any) (*deepsearch.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return nil, errors.New("sandbox not prepared")
	}
	execCtx, cancel := context.WithTimeout(ctx, d.cfg.timeout)
	defer cancel()

	res, err := d.sess.execute(execCtx, code, state)
	if err != nil {
		stderr := d.stderr.String()
		d.stopLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if execCtx.Err() != nil {
			return nil, fmt.Errorf("execution timed out after %s (stderr: %s)", d.cfg.timeout, stderr)
		}
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}
	return res, nil
}

func (d *DockerSandbox) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	if d.cli != nil {
		err := d.cli.Close()
		d.cli = nil
		return err
	}
	return nil
}

// stopLocked tears the container down. AutoRemove handles cleanup once
// the container stops. Callers hold d.mu.
func (d *DockerSandbox) stopLocked() {
	if d.sess != nil {
		_ = d.sess.send(command{Type: "close"})
	}
	if d.attach.Conn != nil {
		d.attach.Close()
	}
	if d.containerID != "" && d.cli != nil {
		timeout := 2
		_ = d.cli.ContainerStop(context.Background(), d.containerID, container.StopOptions{Timeout: &timeout})
	}
	d.containerID, d.sess = "", nil
	d.attach = types.HijackedResponse{}
}
