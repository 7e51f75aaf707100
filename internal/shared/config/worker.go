package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig contains all configuration for the worker process.
type WorkerConfig struct {
	ID             string          `mapstructure:"id"`
	Kind           string          `mapstructure:"kind"`
	Module         string          `mapstructure:"module"`
	WorkDir        string          `mapstructure:"workdir"`
	ResultsPerPage int             `mapstructure:"results_per_page"`
	GRPC           WorkerGRPC      `mapstructure:"grpc"`
	HTTP           WorkerHTTP      `mapstructure:"http"`
	Queue          QueueConfig     `mapstructure:"queue"`
	Converter      ConverterConfig `mapstructure:"converter"`
	Redis          RedisConfig     `mapstructure:"redis"`
	Logging        LoggingConfig   `mapstructure:"logging"`
}

// WorkerGRPC contains the health server configuration. An empty address
// disables it.
type WorkerGRPC struct {
	Addr string `mapstructure:"addr"`
}

// WorkerHTTP contains the status API configuration. An empty address
// disables it.
type WorkerHTTP struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueueConfig contains task consumption settings.
type QueueConfig struct {
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	Purge       bool          `mapstructure:"purge"`
}

// ConverterConfig names the external command that performs the conversion.
// Commands overrides Command per job kind.
type ConverterConfig struct {
	Command  []string            `mapstructure:"command"`
	Commands map[string][]string `mapstructure:"commands"`
	Timeout  time.Duration       `mapstructure:"timeout"`
}

// ConverterCommand returns the converter argv for the worker's kind.
func (c *WorkerConfig) ConverterCommand() []string {
	if command := c.Converter.Commands[c.Kind]; len(command) > 0 {
		return command
	}
	return c.Converter.Command
}

// LoadWorker loads the worker configuration from the given path.
// If configPath is empty, it looks for worker.yaml in the config/ directory.
// Environment variables with CXE_WORKER_ prefix override config file values;
// RESULTS_PER_PAGE is honoured as well.
func LoadWorker(configPath string) (*WorkerConfig, error) {
	v := viper.New()

	v.SetDefault("id", "")
	v.SetDefault("kind", "")
	v.SetDefault("module", "")
	v.SetDefault("workdir", ".")
	v.SetDefault("results_per_page", 500)
	v.SetDefault("grpc.addr", "")
	v.SetDefault("http.addr", "")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("queue.poll_timeout", 5*time.Second)
	v.SetDefault("queue.purge", true)
	v.SetDefault("converter.command", []string{})
	v.SetDefault("converter.timeout", time.Duration(0))
	setRedisDefaults(v)
	setLoggingDefaults(v)

	if err := readConfig(v, configPath, "worker", "CXE_WORKER"); err != nil {
		return nil, err
	}

	if err := v.BindEnv("results_per_page", "CXE_WORKER_RESULTS_PER_PAGE", "RESULTS_PER_PAGE"); err != nil {
		return nil, fmt.Errorf("error binding RESULTS_PER_PAGE: %w", err)
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
