package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the GraphQL endpoint used when none is configured.
const DefaultEndpoint = "http://localhost:5000/graphql"

// Config holds the client settings. Every field can come from a YAML file
// and be overridden by command-line flags.
type Config struct {
	// Endpoint receives every GraphQL request.
	Endpoint string `yaml:"endpoint" validate:"required,url"`
	// Timeout applies to requests whose context has no deadline.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// MaxResponseBytes caps response bodies. 0 disables the limit.
	MaxResponseBytes int64 `yaml:"max_response_bytes" validate:"gte=0"`
	// Token is a bearer token for the initial login. Empty means anonymous.
	Token string `yaml:"token"`
	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`
	// DocumentCacheSize bounds the parsed document cache.
	DocumentCacheSize int `yaml:"document_cache_size" validate:"gte=0"`

	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
	Metrics   Metrics   `yaml:"metrics"`
}

type Log struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type Telemetry struct {
	// Endpoint of the OTLP gRPC collector. Empty disables tracing.
	Endpoint string `yaml:"endpoint" validate:"omitempty,hostname_port"`
	Service  string `yaml:"service"`
}

type Metrics struct {
	// Addr serves /metrics when set.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Endpoint:          DefaultEndpoint,
		Timeout:           10 * time.Second,
		MaxResponseBytes:  8 << 20,
		DocumentCacheSize: 256,
		Log:               Log{Level: "info"},
		Telemetry:         Telemetry{Service: "gqlenv"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration and reports every invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = formatFieldError(fe)
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Namespace())
	field = strings.TrimPrefix(field, "config.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
