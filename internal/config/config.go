// Package config defines the gateway's validated configuration shape and
// the file-over-env layering rule: YAML file values win over environment
// overrides, and the result is immutable after startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
)

// Provider names recognized by aiProvider / per-request overrides.
const (
	ProviderOpenAI     = "openai"
	ProviderCodex      = "codex"
	ProviderClaudeCode = "claudeCode"
)

// GatewayConfig controls inbound server behavior.
type GatewayConfig struct {
	APIMode          string        `yaml:"apiMode"`
	CLIMode          string        `yaml:"cliMode"`
	Port             int           `yaml:"port"`
	Host             string        `yaml:"host"`
	RequestTimeout   time.Duration `yaml:"-"`
	RequestTimeoutMS int           `yaml:"requestTimeout"`
	LogLevel         string        `yaml:"logLevel"`
	LogDir           string        `yaml:"logDir"`
	APIKey           string        `yaml:"apiKey"`
}

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	APIKey       string                 `yaml:"apiKey"`
	BaseURL      string                 `yaml:"baseURL"`
	Model        string                 `yaml:"model"`
	TimeoutMS    int                    `yaml:"timeout"`
	Organization string                 `yaml:"organization"`
	ExtraBody    map[string]interface{} `yaml:"extraBody"`
}

// ReasoningConfig carries Codex's reasoning-effort knobs.
type ReasoningConfig struct {
	Effort  string `yaml:"effort"`
	Summary string `yaml:"summary"`
}

// CodexConfig configures the ChatGPT-Codex "responses" adapter.
type CodexConfig struct {
	AuthMode      string          `yaml:"authMode"`
	APIKey        string          `yaml:"apiKey"`
	BaseURL       string          `yaml:"baseURL"`
	Model         string          `yaml:"model"`
	TimeoutMS     int             `yaml:"timeout"`
	Reasoning     ReasoningConfig `yaml:"reasoning"`
	TextVerbosity string          `yaml:"textVerbosity"`
}

// ClaudeCodeConfig configures the Anthropic-messages adapter.
type ClaudeCodeConfig struct {
	APIKey                       string            `yaml:"apiKey"`
	BaseURL                      string            `yaml:"baseURL"`
	Model                        string            `yaml:"model"`
	TimeoutMS                    int               `yaml:"timeout"`
	AnthropicVersion             string            `yaml:"anthropicVersion"`
	Beta                         []string          `yaml:"beta"`
	UserAgent                    string            `yaml:"userAgent"`
	XApp                         string            `yaml:"xApp"`
	DangerousDirectBrowserAccess bool              `yaml:"dangerousDirectBrowserAccess"`
	MaxOutputTokens              int               `yaml:"maxOutputTokens"`
	ExtraHeaders                 map[string]string `yaml:"extraHeaders"`
}

// Config is the fully validated, process-wide immutable configuration
// object, loaded once at startup.
type Config struct {
	AIProvider string           `yaml:"aiProvider"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Codex      CodexConfig      `yaml:"codex"`
	ClaudeCode ClaudeCodeConfig `yaml:"claudeCode"`
}

func defaults() Config {
	return Config{
		AIProvider: ProviderOpenAI,
		Gateway: GatewayConfig{
			APIMode:          "gemini",
			CLIMode:          "gemini",
			Port:             8080,
			Host:             "127.0.0.1",
			RequestTimeoutMS: 3_600_000,
			LogLevel:         "info",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Codex: CodexConfig{
			AuthMode: "ApiKey",
			BaseURL:  "https://chatgpt.com/backend-api/codex",
		},
		ClaudeCode: ClaudeCodeConfig{
			BaseURL:          "https://api.anthropic.com",
			AnthropicVersion: "2023-06-01",
			MaxOutputTokens:  4096,
		},
	}
}

// Load reads a YAML file at path (if non-empty and present) over the
// built-in defaults, then applies a small set of environment overrides;
// file values win over env. The focus is on producing and validating the
// shape the rest of the gateway consumes.
func Load(path string) (*Config, error) {
	cfg := defaults()

	applyEnv(&cfg)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, &gwerrors.ConfigError{Message: fmt.Sprintf("reading config file %s", path), Cause: err}
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &gwerrors.ConfigError{Message: fmt.Sprintf("parsing config file %s", path), Cause: err}
		}
	}

	cfg.Gateway.RequestTimeout = time.Duration(cfg.Gateway.RequestTimeoutMS) * time.Millisecond

	// The gateway-level shared secret seeds any upstream key left unset.
	if k := cfg.Gateway.APIKey; k != "" {
		if cfg.OpenAI.APIKey == "" {
			cfg.OpenAI.APIKey = k
		}
		if cfg.Codex.APIKey == "" {
			cfg.Codex.APIKey = k
		}
		if cfg.ClaudeCode.APIKey == "" {
			cfg.ClaudeCode.APIKey = k
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_AI_PROVIDER"); v != "" {
		cfg.AIProvider = v
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Gateway.Port)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.ClaudeCode.APIKey = v
	}
	if v := os.Getenv("CODEX_API_KEY"); v != "" {
		cfg.Codex.APIKey = v
	}
}

func validate(cfg *Config) error {
	ve := &gwerrors.ValidationError{}
	switch cfg.AIProvider {
	case ProviderOpenAI, ProviderCodex, ProviderClaudeCode:
	default:
		ve.Add("aiProvider", fmt.Sprintf("unrecognized provider %q", cfg.AIProvider))
	}
	switch cfg.Gateway.APIMode {
	case "gemini", "openai":
	default:
		ve.Add("gateway.apiMode", fmt.Sprintf("unrecognized mode %q", cfg.Gateway.APIMode))
	}
	switch cfg.Gateway.CLIMode {
	case "", "gemini", "opencode", "crush", "qwencode":
	default:
		ve.Add("gateway.cliMode", fmt.Sprintf("unrecognized mode %q", cfg.Gateway.CLIMode))
	}
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		ve.Add("gateway.port", "must be between 1 and 65535")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// Enabled reports whether the named provider has the auth material it
// needs to be dispatched to.
func (c *Config) Enabled(provider string) bool {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAI.APIKey != ""
	case ProviderCodex:
		if c.Codex.AuthMode == "ChatGPT" {
			return true // presence of the on-disk auth record is checked by chatgptauth at request time.
		}
		return c.Codex.APIKey != ""
	case ProviderClaudeCode:
		return c.ClaudeCode.APIKey != ""
	default:
		return false
	}
}
