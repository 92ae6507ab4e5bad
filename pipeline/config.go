package pipeline

import (
	"fmt"
	"strings"
	"time"

	chain "github.com/goliatone/go-chain"
)

// Set represents a collection of pipelines loaded from config.
type Set struct {
	Version   int            `json:"version" yaml:"version"`
	Pipelines []Definition   `json:"pipelines" yaml:"pipelines"`
	Options   Options        `json:"options,omitempty" yaml:"options,omitempty"`
	Meta      map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Validate performs basic structural validation.
func (s Set) Validate() error {
	seen := make(map[string]struct{}, len(s.Pipelines))
	for idx, def := range s.Pipelines {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("pipeline[%d]: %w", idx, err)
		}
		key := strings.ToLower(strings.TrimSpace(def.Name))
		if _, exists := seen[key]; exists {
			return fmt.Errorf("pipeline[%d]: duplicate pipeline %s", idx, def.Name)
		}
		seen[key] = struct{}{}
	}
	return s.Options.Validate()
}

// Definition describes a single pipeline: a named sequence of registered
// handlers with optional scheduling, retry and CLI exposure settings.
type Definition struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Mode        string       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Debug       bool         `json:"debug,omitempty" yaml:"debug,omitempty"`
	Metrics     string       `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Steps       []StepConfig `json:"steps" yaml:"steps"`
	CLI         *CLIConfig   `json:"cli,omitempty" yaml:"cli,omitempty"`
}

// Validate checks required fields for the pipeline definition.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := chain.ParseMode(d.Mode); err != nil {
		return fmt.Errorf("pipeline %s: %w", d.Name, err)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline %s requires steps", d.Name)
	}
	for idx, step := range d.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("pipeline %s step[%d]: %w", d.Name, idx, err)
		}
	}
	return nil
}

// StepConfig names the handlers bound to one queue slot. Handler and OnError
// reference registry entries; either may be empty but not both.
type StepConfig struct {
	Handler string       `json:"handler,omitempty" yaml:"handler,omitempty"`
	OnError string       `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	Spread  bool         `json:"spread,omitempty" yaml:"spread,omitempty"`
	Retry   *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Validate checks the step references at least one handler.
func (c StepConfig) Validate() error {
	if strings.TrimSpace(c.Handler) == "" && strings.TrimSpace(c.OnError) == "" {
		return fmt.Errorf("handler or on_error is required")
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RetryConfig tunes the retry wrapper applied to a step handler. Durations
// are nanoseconds when loaded from YAML/JSON.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BackoffBase   time.Duration `json:"backoff_base,omitempty" yaml:"backoff_base,omitempty"`
	BackoffFactor float64       `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
	MaxDelay      time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate rejects negative retry settings.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.BackoffBase < 0 || c.MaxDelay < 0 || c.Timeout < 0 {
		return fmt.Errorf("retry durations cannot be negative")
	}
	return nil
}

// Options captures set-wide defaults merged under each definition.
type Options struct {
	Mode  string       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Debug bool         `json:"debug,omitempty" yaml:"debug,omitempty"`
	Retry *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Validate checks the shared defaults.
func (o Options) Validate() error {
	if _, err := chain.ParseMode(o.Mode); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	if o.Retry != nil {
		return o.Retry.Validate()
	}
	return nil
}

// CLIConfig declares opt-in CLI exposure for a pipeline.
type CLIConfig struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Group       string   `json:"group,omitempty" yaml:"group,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Hidden      bool     `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// BuildTags renders the exposure settings as kong command tags.
func (c CLIConfig) BuildTags() []string {
	var tags []string
	if len(c.Aliases) > 0 {
		aliases := "aliases:" + strings.Join(c.Aliases, ",")
		tags = append(tags, aliases)
	}

	if c.Hidden {
		tags = append(tags, `hidden:""`)
	}

	return tags
}

// mergeDefinition folds set-wide defaults into a definition: explicit
// definition fields win, step retry settings win over the shared retry.
func mergeDefinition(defaults Options, def Definition) Definition {
	if strings.TrimSpace(def.Mode) == "" {
		def.Mode = defaults.Mode
	}
	if defaults.Debug {
		def.Debug = true
	}
	if defaults.Retry != nil {
		for idx := range def.Steps {
			if def.Steps[idx].Retry == nil {
				retry := *defaults.Retry
				def.Steps[idx].Retry = &retry
			}
		}
	}
	return def
}
