package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify taskloom configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/taskloom/config.yaml
Project-specific overrides can be placed in .taskloom.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

func saveConfig(cfg *config.Config) error {
	if configPath != "" {
		return config.SaveTo(cfg, configPath)
	}
	return config.Save(cfg)
}

// configField binds a dot-notation key to a config value.
type configField struct {
	get func(*config.Config) string
	set func(*config.Config, string) error
}

func stringField(ptr func(*config.Config) *string) configField {
	return configField{
		get: func(c *config.Config) string { return *ptr(c) },
		set: func(c *config.Config, v string) error { *ptr(c) = v; return nil },
	}
}

func intField(ptr func(*config.Config) *int) configField {
	return configField{
		get: func(c *config.Config) string { return strconv.Itoa(*ptr(c)) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			*ptr(c) = n
			return nil
		},
	}
}

func boolField(ptr func(*config.Config) *bool) configField {
	return configField{
		get: func(c *config.Config) string { return strconv.FormatBool(*ptr(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", v, err)
			}
			*ptr(c) = b
			return nil
		},
	}
}

func durationField(ptr func(*config.Config) *time.Duration) configField {
	return configField{
		get: func(c *config.Config) string { return ptr(c).String() },
		set: func(c *config.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", v, err)
			}
			*ptr(c) = d
			return nil
		},
	}
}

var configFields = map[string]configField{
	"llm.provider":     stringField(func(c *config.Config) *string { return &c.LLM.Provider }),
	"llm.model":        stringField(func(c *config.Config) *string { return &c.LLM.Model }),
	"llm.api_key":      stringField(func(c *config.Config) *string { return &c.LLM.APIKey }),
	"llm.base_url":     stringField(func(c *config.Config) *string { return &c.LLM.BaseURL }),
	"llm.max_tokens":   intField(func(c *config.Config) *int { return &c.LLM.MaxTokens }),
	"llm.max_attempts": intField(func(c *config.Config) *int { return &c.LLM.MaxAttempts }),
	"llm.bedrock":      boolField(func(c *config.Config) *bool { return &c.LLM.Bedrock }),
	"llm.aws_region":   stringField(func(c *config.Config) *string { return &c.LLM.AWSRegion }),
	"llm.aws_profile":  stringField(func(c *config.Config) *string { return &c.LLM.AWSProfile }),

	"store.path":     stringField(func(c *config.Config) *string { return &c.Store.Path }),
	"store.recovery": stringField(func(c *config.Config) *string { return &c.Store.Recovery }),
	"artifacts.dir":  stringField(func(c *config.Config) *string { return &c.Artifacts.Dir }),

	"processor.batch_size":    intField(func(c *config.Config) *int { return &c.Processor.BatchSize }),
	"processor.concurrency":   intField(func(c *config.Config) *int { return &c.Processor.Concurrency }),
	"processor.poll_interval": durationField(func(c *config.Config) *time.Duration { return &c.Processor.PollInterval }),

	"worker.max_retry":        intField(func(c *config.Config) *int { return &c.Worker.MaxRetry }),
	"worker.repeat_threshold": intField(func(c *config.Config) *int { return &c.Worker.RepeatThreshold }),
	"worker.sibling_results":  intField(func(c *config.Config) *int { return &c.Worker.SiblingResults }),
	"worker.max_output":       intField(func(c *config.Config) *int { return &c.Worker.MaxOutput }),
	"worker.policy_file":      stringField(func(c *config.Config) *string { return &c.Worker.PolicyFile }),
	"worker.tools": {
		get: func(c *config.Config) string { return strings.Join(c.Worker.Tools, ",") },
		set: func(c *config.Config, v string) error {
			c.Worker.Tools = nil
			for _, t := range strings.Split(v, ",") {
				if t = strings.TrimSpace(t); t != "" {
					c.Worker.Tools = append(c.Worker.Tools, t)
				}
			}
			return nil
		},
	},

	"sandbox.interpreter":    stringField(func(c *config.Config) *string { return &c.Sandbox.Interpreter }),
	"sandbox.timeout":        durationField(func(c *config.Config) *time.Duration { return &c.Sandbox.Timeout }),
	"sandbox.tools_dir":      stringField(func(c *config.Config) *string { return &c.Sandbox.ToolsDir }),
	"sandbox.max_rows":       intField(func(c *config.Config) *int { return &c.Sandbox.MaxRows }),
	"sandbox.docker.enabled": boolField(func(c *config.Config) *bool { return &c.Sandbox.Docker.Enabled }),
	"sandbox.docker.image":   stringField(func(c *config.Config) *string { return &c.Sandbox.Docker.Image }),
	"sandbox.docker.memory":  stringField(func(c *config.Config) *string { return &c.Sandbox.Docker.Memory }),
	"sandbox.docker.cpus": {
		get: func(c *config.Config) string { return strconv.FormatFloat(c.Sandbox.Docker.CPUs, 'g', -1, 64) },
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", v, err)
			}
			c.Sandbox.Docker.CPUs = f
			return nil
		},
	},

	"events.nats_url":       stringField(func(c *config.Config) *string { return &c.Events.NATSURL }),
	"events.subject_prefix": stringField(func(c *config.Config) *string { return &c.Events.SubjectPrefix }),
	"metrics.addr":          stringField(func(c *config.Config) *string { return &c.Metrics.Addr }),
	"log.level":             stringField(func(c *config.Config) *string { return &c.Log.Level }),
	"log.file":              stringField(func(c *config.Config) *string { return &c.Log.File }),
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	keys := make([]string, 0, len(configFields))
	for k := range configFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, _ := getConfigValue(cfg, k)
		fmt.Printf("%s: %s\n", k, value)
	}

	fmt.Printf("\n(api key source: %s)\n", config.GetAPIKeySource(cfg))
	if path := config.GetProjectConfigPath(); path != "" {
		fmt.Printf("(project overrides: %s)\n", path)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
// The API key is always masked.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(key)
	field, ok := configFields[key]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	if key == "llm.api_key" {
		return config.MaskAPIKey(cfg.LLM.APIKey), nil
	}
	return field.get(cfg), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	field, ok := configFields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := field.set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

