package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nemanja-m/cxehelper/internal/shared/logging"
	"github.com/nemanja-m/cxehelper/internal/shared/task"
	"github.com/nemanja-m/cxehelper/internal/worker/core"
)

// Environment variables a converter command receives.
const (
	EnvEarliest       = "CVE_LAST_MODIFIED_EARLIEST"
	EnvLatest         = "CVE_LAST_MODIFIED_LATEST"
	EnvResultsPerPage = "RESULTS_PER_PAGE"
	EnvAPIKey         = "NVD_API_KEY"
	EnvObjectsFolder  = "STIX2_OBJECTS_FOLDER"
	EnvBundlesFolder  = "STIX2_BUNDLES_FOLDER"
	EnvBundleFilename = "BUNDLE_FILENAME"
)

const stderrTail = 2048

// ConverterError is a converter run that did not exit cleanly.
type ConverterError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ConverterError) Error() string {
	msg := fmt.Sprintf("converter %s exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ConverterError) Unwrap() error {
	return e.Err
}

// ExecutorOptions configure a CommandExecutor.
type ExecutorOptions struct {
	// Command is the converter argv. {start}, {end}, {objects}, {bundles}
	// and {filename} are substituted from the task, {module} from Module.
	Command []string
	Module  string
	WorkDir string
	// ResultsPerPage applies when the task carries none.
	ResultsPerPage int
	// Timeout bounds one conversion. Zero means none.
	Timeout time.Duration
	Stdout  io.Writer
}

// CommandExecutor runs the external converter once per task.
type CommandExecutor struct {
	opts   ExecutorOptions
	logger logging.Logger
}

func NewCommandExecutor(opts ExecutorOptions, logger logging.Logger) *CommandExecutor {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &CommandExecutor{opts: opts, logger: logger}
}

var _ core.TaskExecutor = (*CommandExecutor)(nil)

func (e *CommandExecutor) Execute(ctx context.Context, msg *task.Message) error {
	if len(e.opts.Command) == 0 {
		return errors.New("no converter command configured")
	}
	if dir := msg.Config.Stix2ObjectsFolder; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to prepare objects folder: %w", err)
		}
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	argv := expandArgs(e.opts.Command, e.opts.Module, msg)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.opts.WorkDir
	cmd.Env = append(os.Environ(), e.env(msg)...)
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stdout = e.opts.Stdout
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderr)

	started := time.Now()
	e.logger.Debug("Running converter", "task_id", msg.ID, "command", argv)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return &ConverterError{
			Command:  argv[0],
			ExitCode: exitCode,
			Stderr:   tail(stderr.String(), stderrTail),
			Err:      err,
		}
	}

	e.logger.Info("Converter finished",
		"task_id", msg.ID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (e *CommandExecutor) env(msg *task.Message) []string {
	pageSize := msg.Config.ResultsPerPage
	if pageSize <= 0 {
		pageSize = e.opts.ResultsPerPage
	}

	env := []string{
		EnvEarliest + "=" + msg.Config.StartDate,
		EnvLatest + "=" + msg.Config.EndDate,
		EnvObjectsFolder + "=" + msg.Config.Stix2ObjectsFolder,
		EnvBundlesFolder + "=" + msg.Config.Stix2BundlesFolder,
		EnvBundleFilename + "=" + msg.Filename,
	}
	if pageSize > 0 {
		env = append(env, EnvResultsPerPage+"="+strconv.Itoa(pageSize))
	}
	if msg.Config.NVDAPIKey != "" {
		env = append(env, EnvAPIKey+"="+msg.Config.NVDAPIKey)
	}
	return env
}

func expandArgs(template []string, module string, msg *task.Message) []string {
	r := strings.NewReplacer(
		"{module}", module,
		"{start}", msg.Config.StartDate,
		"{end}", msg.Config.EndDate,
		"{objects}", msg.Config.Stix2ObjectsFolder,
		"{bundles}", msg.Config.Stix2BundlesFolder,
		"{filename}", msg.Filename,
	)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = r.Replace(arg)
	}
	return argv
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
