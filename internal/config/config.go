// Package config loads the chatia configuration file.
//
// Files are YAML, or JSON5 when the extension is .json or .json5. ${VAR} and
// ${VAR:-default} are expanded from the environment before parsing, unknown
// keys are rejected and the result is validated after defaults are applied.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the main configuration structure for chatia.
type Config struct {
	Version       int                 `yaml:"version" jsonschema:"description=Configuration file version"`
	LLM           LLMConfig           `yaml:"llm"`
	Session       SessionConfig       `yaml:"session"`
	Tools         ToolsConfig         `yaml:"tools"`
	Policy        PolicyConfig        `yaml:"policy"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	cfg.LLM.applyDefaults()
	cfg.Session.applyDefaults()
	cfg.Tools.applyDefaults()
	cfg.Policy.applyDefaults()
	cfg.Conversation.applyDefaults()
	cfg.Logging.applyDefaults()
	cfg.Observability.applyDefaults()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}

	var errs []error
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fieldError(fe))
		}
	}
	errs = append(errs, c.LLM.validate()...)
	errs = append(errs, c.Session.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s], got %v", path, fe.Param(), fe.Value())
	case "required", "required_unless", "required_if":
		return fmt.Errorf("%s: is required", path)
	case "gte", "lte", "gt", "lt":
		return fmt.Errorf("%s: must be %s %s", path, fe.Tag(), fe.Param())
	default:
		return fmt.Errorf("%s: failed %q validation", path, fe.Tag())
	}
}
