package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Probe names accepted by worker.probe.
const (
	ProbeDelay = "delay"
	ProbeGRPC  = "grpc"
	ProbeHTTP  = "http"
)

// HelperConfig contains all configuration for the helper process.
type HelperConfig struct {
	Output  OutputConfig  `mapstructure:"output"`
	Run     RunConfig     `mapstructure:"run"`
	Worker  WorkerProcess `mapstructure:"worker"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NVD     NVDConfig     `mapstructure:"nvd"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// OutputConfig describes the output tree: <dir>/objects and <dir>/bundles.
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	KeepObjects bool   `mapstructure:"keep_objects"`
	Clean       bool   `mapstructure:"clean"`
	ReportFile  string `mapstructure:"report_file"`
}

// RunConfig contains orchestration limits.
type RunConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// WorkerProcess describes how worker processes are launched and when they
// count as ready.
type WorkerProcess struct {
	Command       []string      `mapstructure:"command"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	Probe         string        `mapstructure:"probe"`
	GRPCAddr      string        `mapstructure:"grpc_addr"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	StopGrace     time.Duration `mapstructure:"stop_grace"`
}

// JobsConfig contains the per-kind pipeline settings.
type JobsConfig struct {
	CVE JobConfig `mapstructure:"cve"`
	CPE JobConfig `mapstructure:"cpe"`
}

// JobConfig contains one conversion pipeline's settings. ResultsPerPage stays
// a string so that a malformed value only fails when its kind is enabled.
type JobConfig struct {
	Module         string   `mapstructure:"module"`
	WorkDir        string   `mapstructure:"workdir"`
	ResultsPerPage string   `mapstructure:"results_per_page"`
	Command        []string `mapstructure:"command"`
}

// NVDConfig holds the upstream credential handed to every task.
type NVDConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LoadHelper loads the helper configuration from the given path.
// If configPath is empty, it looks for helper.yaml in the config/ directory.
// Environment variables with CXE_HELPER_ prefix override config file values;
// CVE2STIX_RESULTS_PER_PAGE, CPE2STIX_RESULTS_PER_PAGE, NVD_API_KEY and
// KEEP_OBJECTS_DIR are honoured as well.
func LoadHelper(configPath string) (*HelperConfig, error) {
	v := viper.New()

	v.SetDefault("output.dir", "./output")
	v.SetDefault("output.keep_objects", false)
	v.SetDefault("output.clean", false)
	v.SetDefault("output.report_file", "run-report.yaml")
	v.SetDefault("run.concurrency", 1)
	v.SetDefault("run.task_timeout", time.Duration(0))
	v.SetDefault("worker.command", []string{"cxe-worker", "-kind", "{kind}", "-module", "{module}", "-workdir", "{workdir}"})
	v.SetDefault("worker.settle_delay", 10*time.Second)
	v.SetDefault("worker.probe", ProbeDelay)
	v.SetDefault("worker.grpc_addr", "127.0.0.1:50051")
	v.SetDefault("worker.http_addr", "127.0.0.1:8081")
	v.SetDefault("worker.probe_interval", 500*time.Millisecond)
	v.SetDefault("worker.probe_timeout", 2*time.Second)
	v.SetDefault("worker.stop_grace", 2*time.Second)
	v.SetDefault("jobs.cve.module", "cve2stix.celery")
	v.SetDefault("jobs.cve.workdir", "cve2stix")
	v.SetDefault("jobs.cve.results_per_page", "500")
	v.SetDefault("jobs.cve.command", []string{})
	v.SetDefault("jobs.cpe.module", "cpe2stix.celery")
	v.SetDefault("jobs.cpe.workdir", "cpe2stix")
	v.SetDefault("jobs.cpe.results_per_page", "500")
	v.SetDefault("jobs.cpe.command", []string{})
	v.SetDefault("nvd.api_key", "")
	setRedisDefaults(v)
	setLoggingDefaults(v)

	if err := readConfig(v, configPath, "helper", "CXE_HELPER"); err != nil {
		return nil, err
	}

	legacyEnv := map[string]string{
		"jobs.cve.results_per_page": "CVE2STIX_RESULTS_PER_PAGE",
		"jobs.cpe.results_per_page": "CPE2STIX_RESULTS_PER_PAGE",
		"nvd.api_key":               "NVD_API_KEY",
		"output.keep_objects":       "KEEP_OBJECTS_DIR",
	}
	for key, env := range legacyEnv {
		prefixed := "CXE_HELPER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	var cfg HelperConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Job returns the settings of the named pipeline.
func (c *HelperConfig) Job(kind string) (JobConfig, bool) {
	switch kind {
	case "cve":
		return c.Jobs.CVE, true
	case "cpe":
		return c.Jobs.CPE, true
	default:
		return JobConfig{}, false
	}
}

// PageSize parses ResultsPerPage.
func (j JobConfig) PageSize() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(j.ResultsPerPage))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("results_per_page should be a positive int, got %q", j.ResultsPerPage)
	}
	return n, nil
}

// Validate checks the settings the given enabled kinds depend on.
func (c *HelperConfig) Validate(kinds ...string) error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("%w: output.dir is required", ErrInvalidConfig)
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("%w: run.concurrency must be >= 1, got %d", ErrInvalidConfig, c.Run.Concurrency)
	}
	if c.Run.TaskTimeout < 0 {
		return fmt.Errorf("%w: run.task_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Worker.SettleDelay < 0 {
		return fmt.Errorf("%w: worker.settle_delay must not be negative", ErrInvalidConfig)
	}
	if len(c.Worker.Command) == 0 {
		return fmt.Errorf("%w: worker.command is required", ErrInvalidConfig)
	}

	switch c.Worker.Probe {
	case ProbeDelay:
	case ProbeGRPC, ProbeHTTP:
		if c.Run.Concurrency > 1 {
			return fmt.Errorf("%w: worker.probe %q needs run.concurrency 1, workers would share one address", ErrInvalidConfig, c.Worker.Probe)
		}
		if c.Worker.ProbeInterval <= 0 {
			return fmt.Errorf("%w: worker.probe_interval must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown worker.probe %q", ErrInvalidConfig, c.Worker.Probe)
	}

	for _, kind := range kinds {
		job, ok := c.Job(kind)
		if !ok {
			return fmt.Errorf("%w: unknown job kind %q", ErrInvalidConfig, kind)
		}
		if _, err := job.PageSize(); err != nil {
			return fmt.Errorf("%w: jobs.%s.%v", ErrInvalidConfig, kind, err)
		}
	}
	return nil
}
