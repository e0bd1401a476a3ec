// Package config handles loading and validating gateway configuration: the
// full surface spec.md section 6 names as "consumed, not defined here" —
// functions, variants, models, providers, embeddings, object-storage kind,
// and cache settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tzrouter/gateway/internal/credentials"
)

// Config is the top-level configuration for the llmrouter gateway.
type Config struct {
	Server        ServerConfig              `koanf:"server"`
	ObjectStorage ObjectStorageConfig        `koanf:"object_storage"`
	Cache         CacheConfig               `koanf:"cache"`
	Embeddings    EmbeddingsConfig          `koanf:"embeddings"`
	Providers     map[string]ProviderConfig `koanf:"providers"`
	Models        map[string]ModelConfig    `koanf:"models"`
	Functions     map[string]FunctionConfig `koanf:"functions"`

	// Templates maps a template name (as referenced by a VariantConfig's
	// SystemTemplate/UserTemplate/AssistantTemplate/EvaluatorTemplate
	// fields) to its text/template body.
	Templates map[string]string `koanf:"templates"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ObjectStorageConfig selects and configures the internal/storage backend
// for C1's file resolver.
type ObjectStorageConfig struct {
	Kind   string `koanf:"kind"` // "filesystem" | "s3" | "disabled" (default)
	Path   string `koanf:"path"`
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`
	Region string `koanf:"region"`
}

// CacheConfig configures C9's Redis-backed response cache.
type CacheConfig struct {
	Mode     string        `koanf:"mode"` // off (default) | write_only | read_only | on
	RedisURL string        `koanf:"redis_url"`
	TTL      time.Duration `koanf:"ttl"`
}

// EmbeddingsConfig configures the DICL variant's embedder + pgvector
// example store. Left zero-valued, no DICL variant can be built.
type EmbeddingsConfig struct {
	ModelPath         string `koanf:"model_path"`
	TokenizerPath     string `koanf:"tokenizer_path"`
	OnnxLibraryPath   string `koanf:"onnx_library_path"`
	Dimensions        int64  `koanf:"dimensions"`
	MaxSequenceTokens int    `koanf:"max_sequence_tokens"`
	PostgresDSN       string `koanf:"postgres_dsn"`
}

// ProviderConfig describes one upstream provider credential + endpoint.
type ProviderConfig struct {
	Kind    string `koanf:"kind"` // openai | anthropic | google | bedrock
	APIKey  any    `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Region  string `koanf:"region"` // bedrock only

	// ExtraBody/ExtraHeaders are decoded from the config file, but
	// buildProviders does not pass them to any adapter, so they have no
	// effect on the requests this provider sends.
	ExtraBody    []json.RawMessage `koanf:"extra_body"`
	ExtraHeaders map[string]string `koanf:"extra_headers"`

	// DiscardUnknownChunks is decoded from the config file, but no adapter
	// reads it: streaming behaves the same whichever value is set.
	DiscardUnknownChunks bool `koanf:"discard_unknown_chunks"`
}

// CredentialLocation parses the provider-credential option this field was
// configured with (spec.md section 6: Static/Dynamic/Missing/WithFallback).
func (p ProviderConfig) CredentialLocation() (credentials.Location, error) {
	return parseCredential(p.APIKey)
}

// parseCredential turns the raw decoded YAML value of an api_key field
// into a credentials.Location. A bare string is Static (after ${VAR}
// expansion, matching the teacher's existing api_key convention); a map
// selects one of the four credential kinds explicitly.
func parseCredential(raw any) (credentials.Location, error) {
	switch v := raw.(type) {
	case nil:
		return credentials.Missing(), nil
	case string:
		return credentials.Static(expandEnv(v)), nil
	case map[string]any:
		switch {
		case v["static"] != nil:
			s, _ := v["static"].(string)
			return credentials.Static(expandEnv(s)), nil
		case v["dynamic"] != nil:
			s, _ := v["dynamic"].(string)
			return credentials.Dynamic(s), nil
		case v["missing"] != nil:
			return credentials.Missing(), nil
		case v["with_fallback"] != nil:
			fb, ok := v["with_fallback"].(map[string]any)
			if !ok {
				return credentials.Location{}, fmt.Errorf("config: with_fallback must be a map with default/fallback")
			}
			def, err := parseCredential(fb["default"])
			if err != nil {
				return credentials.Location{}, fmt.Errorf("config: with_fallback.default: %w", err)
			}
			fallback, err := parseCredential(fb["fallback"])
			if err != nil {
				return credentials.Location{}, fmt.Errorf("config: with_fallback.fallback: %w", err)
			}
			return credentials.WithFallback(def, fallback), nil
		default:
			return credentials.Missing(), nil
		}
	default:
		return credentials.Location{}, fmt.Errorf("config: unrecognized api_key shape %T", raw)
	}
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// ModelConfig is one named model: an ordered provider fallback chain plus
// a cross-provider timeout (spec.md 4.3).
type ModelConfig struct {
	Timeout   time.Duration          `koanf:"timeout"`
	Providers []ModelProviderEntry   `koanf:"providers"`
}

// ModelProviderEntry binds a configured provider to the wire model name
// this model should send it.
type ModelProviderEntry struct {
	Provider  string `koanf:"provider"`
	ModelName string `koanf:"model_name"`
}

// FunctionConfig is one named function: its output shape, default tool/
// schema configuration, optional routing policy, and variants.
type FunctionConfig struct {
	Type              string                    `koanf:"type"` // chat | json
	OutputSchema      json.RawMessage           `koanf:"output_schema"`
	ToolConfig        *ToolConfigEntry          `koanf:"tool_config"`
	RoutingPolicyFile string                    `koanf:"routing_policy_file"`
	Variants          map[string]VariantConfig `koanf:"variants"`
}

// ToolConfigEntry mirrors content.ToolCallConfig in config-file shape.
type ToolConfigEntry struct {
	Tools               []ToolDefEntry `koanf:"tools"`
	ToolChoiceMode       string         `koanf:"tool_choice_mode"`
	ToolChoiceName       string         `koanf:"tool_choice_name"`
	ParallelToolCalls    bool           `koanf:"parallel_tool_calls"`
}

type ToolDefEntry struct {
	Name        string          `koanf:"name"`
	Description string          `koanf:"description"`
	Parameters  json.RawMessage `koanf:"parameters"`
	Strict      bool            `koanf:"strict"`
}

// VariantConfig is one configured variant of a function. Type selects
// which fields apply: "chat_completion", "dicl", "best_of_n", "mixture_of_n".
type VariantConfig struct {
	Type   string  `koanf:"type"`
	Weight float64 `koanf:"weight"`

	// chat_completion / dicl
	Model             string `koanf:"model"`
	SystemTemplate    string `koanf:"system_template"`
	UserTemplate      string `koanf:"user_template"`
	AssistantTemplate string `koanf:"assistant_template"`

	// dicl only
	K int `koanf:"k"`

	// best_of_n / mixture_of_n
	Candidates        []string `koanf:"candidates"`
	EvaluatorModel    string   `koanf:"evaluator_model"`
	EvaluatorTemplate string   `koanf:"evaluator_template"`

	Retry RetryConfig `koanf:"retry"`
}

type RetryConfig struct {
	NumRetries int           `koanf:"num_retries"`
	MaxDelay   time.Duration `koanf:"max_delay"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := k.Load(env.Provider("LLMROUTER_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMROUTER_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
