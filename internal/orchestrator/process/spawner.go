package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/shared/logging"
)

// Environment variables every spawned worker receives.
const (
	EnvWorkerID     = "CXE_WORKER_ID"
	EnvWorkerKind   = "CXE_WORKER_KIND"
	EnvWorkerModule = "CXE_WORKER_MODULE"
)

const defaultExitTimeout = 10 * time.Second

// ErrNotExited is returned by Terminate when the process outlives the kill.
var ErrNotExited = errors.New("process did not exit")

// Options configure a Spawner.
type Options struct {
	// Command is the argv template. {kind}, {module}, {workdir} and {id}
	// are substituted in every element.
	Command []string
	// Commands overrides Command per job kind.
	Commands map[core.JobKind][]string
	// Env is appended to the parent environment of every worker.
	Env map[string]string
	// StopGrace is the time between SIGTERM and SIGKILL.
	StopGrace time.Duration
	// ExitTimeout bounds the wait for exit after SIGKILL.
	ExitTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// Spawner starts worker processes with os/exec.
type Spawner struct {
	opts   Options
	logger logging.Logger
}

func NewSpawner(opts Options, logger logging.Logger) *Spawner {
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = defaultExitTimeout
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Spawner{opts: opts, logger: logger}
}

func (s *Spawner) Spawn(ctx context.Context, spec core.WorkerSpec) (core.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	template := s.opts.Command
	if override := s.opts.Commands[spec.Kind]; len(override) > 0 {
		template = override
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("no worker command configured for %s", spec.Kind)
	}

	id := uuid.New().String()
	argv := expand(template, map[string]string{
		"{kind}":    spec.Kind.String(),
		"{module}":  spec.Module,
		"{workdir}": spec.WorkDir,
		"{id}":      id,
	})

	// Not CommandContext: the worker must outlive ctx until Terminate runs.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = buildEnv(os.Environ(), s.opts.Env, spec.Params, map[string]string{
		EnvWorkerID:     id,
		EnvWorkerKind:   spec.Kind.String(),
		EnvWorkerModule: spec.Module,
	})
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	configureProcess(cmd)

	s.logger.Info("Starting worker", "worker_id", id, "kind", spec.Kind, "module", spec.Module, "command", argv)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", argv[0], err)
	}

	p := &Process{
		id:          id,
		kind:        spec.Kind,
		cmd:         cmd,
		done:        make(chan struct{}),
		stopGrace:   s.opts.StopGrace,
		exitTimeout: s.opts.ExitTimeout,
		logger:      s.logger,
	}
	go p.wait()

	s.logger.Info("Worker started", "worker_id", id, "pid", cmd.Process.Pid)
	return p, nil
}

// Process is a running worker.
type Process struct {
	id          string
	kind        core.JobKind
	cmd         *exec.Cmd
	done        chan struct{}
	exitErr     error
	stopGrace   time.Duration
	exitTimeout time.Duration
	logger      logging.Logger

	terminateOnce sync.Once
	terminateErr  error
}

func (p *Process) ID() string {
	return p.id
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the process exit error. Only valid after Done is closed.
func (p *Process) ExitErr() error {
	return p.exitErr
}

func (p *Process) wait() {
	p.exitErr = p.cmd.Wait()
	close(p.done)
}

// Terminate signals the whole process group, waits up to the grace period,
// then kills it and waits for the exit to be observed. A worker that already
// exited still has its group killed, so converters it left behind go too.
func (p *Process) Terminate() error {
	p.terminateOnce.Do(func() {
		select {
		case <-p.done:
			p.logger.Debug("Worker already exited", "worker_id", p.id, "error", p.exitErr)
			killGroup(p.cmd.Process.Pid)
			return
		default:
		}

		p.logger.Info("Terminating worker", "worker_id", p.id, "kind", p.kind, "pid", p.cmd.Process.Pid)
		terminateProcess(p.cmd, p.stopGrace, p.done)

		select {
		case <-p.done:
		case <-time.After(p.exitTimeout):
			p.terminateErr = fmt.Errorf("%w: pid %d after %s", ErrNotExited, p.cmd.Process.Pid, p.exitTimeout)
		}
	})
	return p.terminateErr
}

func expand(template []string, values map[string]string) []string {
	argv := make([]string, len(template))
	for i, arg := range template {
		for placeholder, value := range values {
			arg = strings.ReplaceAll(arg, placeholder, value)
		}
		argv[i] = arg
	}
	return argv
}

// buildEnv appends the overlays to base in order; later keys win.
func buildEnv(base []string, overlays ...map[string]string) []string {
	env := slices.Clone(base)
	for _, overlay := range overlays {
		for _, key := range slices.Sorted(maps.Keys(overlay)) {
			env = append(env, key+"="+overlay[key])
		}
	}
	return env
}
