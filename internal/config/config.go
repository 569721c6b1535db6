// Package config handles configuration loading and management for taskloom.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for taskloom.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	// Provider is anthropic, openai or ollama.
	Provider string `mapstructure:"provider"`
	// Model empty uses the provider default.
	Model       string `mapstructure:"model"`
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	MaxTokens   int    `mapstructure:"max_tokens"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	// Bedrock routes Anthropic requests through AWS Bedrock.
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// StoreConfig holds the durable store settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
	// Recovery is applied to RUNNING tasks at startup: fail or requeue.
	Recovery string `mapstructure:"recovery"`
}

// ArtifactsConfig holds the artifact store location.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ProcessorConfig tunes the background processor.
type ProcessorConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WorkerConfig tunes the worker execution loop.
type WorkerConfig struct {
	MaxRetry        int      `mapstructure:"max_retry"`
	RepeatThreshold int      `mapstructure:"repeat_threshold"`
	SiblingResults  int      `mapstructure:"sibling_results"`
	MaxOutput       int      `mapstructure:"max_output"`
	Tools           []string `mapstructure:"tools"`
	// PolicyFile overrides the default malicious code rules.
	PolicyFile string `mapstructure:"policy_file"`
}

// SandboxConfig holds the code execution settings.
type SandboxConfig struct {
	Interpreter string        `mapstructure:"interpreter"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ToolsDir    string        `mapstructure:"tools_dir"`
	MaxRows     int           `mapstructure:"max_rows"`
	Docker      DockerConfig  `mapstructure:"docker"`
}

// DockerConfig runs the sandbox inside a container when enabled.
type DockerConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Image   string  `mapstructure:"image"`
	Memory  string  `mapstructure:"memory"`
	CPUs    float64 `mapstructure:"cpus"`
}

// EventsConfig holds lifecycle event publishing settings.
// An empty NATSURL disables publishing.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig holds the Prometheus endpoint settings.
// An empty Addr disables the endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TASKLOOM_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.taskloom.yaml in current directory or parent)
// 3. User config (~/.config/taskloom/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("TASKLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("llm.provider", cfg.LLM.Provider)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("llm.api_key", cfg.LLM.APIKey)
	v.Set("llm.base_url", cfg.LLM.BaseURL)
	v.Set("llm.max_tokens", cfg.LLM.MaxTokens)
	v.Set("llm.max_attempts", cfg.LLM.MaxAttempts)
	v.Set("llm.bedrock", cfg.LLM.Bedrock)
	v.Set("llm.aws_region", cfg.LLM.AWSRegion)
	v.Set("llm.aws_profile", cfg.LLM.AWSProfile)
	v.Set("store.path", cfg.Store.Path)
	v.Set("store.recovery", cfg.Store.Recovery)
	v.Set("artifacts.dir", cfg.Artifacts.Dir)
	v.Set("processor.batch_size", cfg.Processor.BatchSize)
	v.Set("processor.concurrency", cfg.Processor.Concurrency)
	v.Set("processor.poll_interval", cfg.Processor.PollInterval.String())
	v.Set("worker.max_retry", cfg.Worker.MaxRetry)
	v.Set("worker.repeat_threshold", cfg.Worker.RepeatThreshold)
	v.Set("worker.sibling_results", cfg.Worker.SiblingResults)
	v.Set("worker.max_output", cfg.Worker.MaxOutput)
	v.Set("worker.tools", cfg.Worker.Tools)
	v.Set("worker.policy_file", cfg.Worker.PolicyFile)
	v.Set("sandbox.interpreter", cfg.Sandbox.Interpreter)
	v.Set("sandbox.timeout", cfg.Sandbox.Timeout.String())
	v.Set("sandbox.tools_dir", cfg.Sandbox.ToolsDir)
	v.Set("sandbox.max_rows", cfg.Sandbox.MaxRows)
	v.Set("sandbox.docker.enabled", cfg.Sandbox.Docker.Enabled)
	v.Set("sandbox.docker.image", cfg.Sandbox.Docker.Image)
	v.Set("sandbox.docker.memory", cfg.Sandbox.Docker.Memory)
	v.Set("sandbox.docker.cpus", cfg.Sandbox.Docker.CPUs)
	v.Set("events.nats_url", cfg.Events.NATSURL)
	v.Set("events.subject_prefix", cfg.Events.SubjectPrefix)
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DataDir returns the XDG data directory for taskloom.
func DataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "taskloom")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "taskloom")
	}
	return filepath.Join(home, ".local", "share", "taskloom")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.max_attempts", d.LLM.MaxAttempts)
	v.SetDefault("llm.bedrock", false)
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.aws_profile", "")

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.recovery", d.Store.Recovery)
	v.SetDefault("artifacts.dir", d.Artifacts.Dir)

	v.SetDefault("processor.batch_size", d.Processor.BatchSize)
	v.SetDefault("processor.concurrency", d.Processor.Concurrency)
	v.SetDefault("processor.poll_interval", d.Processor.PollInterval.String())

	v.SetDefault("worker.max_retry", d.Worker.MaxRetry)
	v.SetDefault("worker.repeat_threshold", d.Worker.RepeatThreshold)
	v.SetDefault("worker.sibling_results", d.Worker.SiblingResults)
	v.SetDefault("worker.max_output", d.Worker.MaxOutput)
	v.SetDefault("worker.tools", d.Worker.Tools)
	v.SetDefault("worker.policy_file", "")

	v.SetDefault("sandbox.interpreter", d.Sandbox.Interpreter)
	v.SetDefault("sandbox.timeout", d.Sandbox.Timeout.String())
	v.SetDefault("sandbox.tools_dir", d.Sandbox.ToolsDir)
	v.SetDefault("sandbox.max_rows", d.Sandbox.MaxRows)
	v.SetDefault("sandbox.docker.enabled", false)
	v.SetDefault("sandbox.docker.image", d.Sandbox.Docker.Image)
	v.SetDefault("sandbox.docker.memory", d.Sandbox.Docker.Memory)
	v.SetDefault("sandbox.docker.cpus", d.Sandbox.Docker.CPUs)

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")

	v.BindEnv("llm.api_key", "TASKLOOM_LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")
}

// getUserConfigDir returns the XDG config directory for taskloom.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskloom")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskloom")
	}
	return filepath.Join(home, ".config", "taskloom")
}

// findProjectConfig searches for .taskloom.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".taskloom.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			MaxTokens:   4096,
			MaxAttempts: 3,
		},
		Store: StoreConfig{
			Path:     filepath.Join(dataDir, "taskloom.db"),
			Recovery: "fail",
		},
		Artifacts: ArtifactsConfig{
			Dir: filepath.Join(dataDir, "artifacts"),
		},
		Processor: ProcessorConfig{
			BatchSize:    10,
			PollInterval: time.Second,
		},
		Worker: WorkerConfig{
			MaxRetry:        5,
			RepeatThreshold: 3,
			SiblingResults:  10,
			MaxOutput:       4000,
			Tools:           []string{},
		},
		Sandbox: SandboxConfig{
			Interpreter: "python3",
			Timeout:     60 * time.Second,
			ToolsDir:    filepath.Join(dataDir, "tools"),
			MaxRows:     1000,
			Docker: DockerConfig{
				Image:  "python:3.12-slim",
				Memory: "512m",
				CPUs:   1,
			},
		},
		Events: EventsConfig{
			SubjectPrefix: "taskloom",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
