package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/tzrouter/gateway/internal/cache"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/coordinator"
	"github.com/tzrouter/gateway/internal/credentials"
	"github.com/tzrouter/gateway/internal/embed"
	"github.com/tzrouter/gateway/internal/provider"
	"github.com/tzrouter/gateway/internal/router"
	"github.com/tzrouter/gateway/internal/routing"
	"github.com/tzrouter/gateway/internal/storage"
	"github.com/tzrouter/gateway/internal/variant"
)

// Runtime is every component cmd/gateway needs after config has been
// loaded and resolved into live objects: providers constructed, models and
// functions wired into the coordinator, cache/storage/embedder attached.
type Runtime struct {
	Coordinator *coordinator.Coordinator
	Cache       *cache.Cache
	Store       content.ObjectStore
	Embedder    *embed.Embedder
	EmbedStore  *embed.Store

	policies []*routing.Policy
}

// Close releases the long-lived resources Build opened: the Postgres pool,
// the ONNX session and the compiled Lua policies. The cache's Redis client
// is not closed here.
func (r *Runtime) Close() {
	if r.Embedder != nil {
		r.Embedder.Close()
	}
	if r.EmbedStore != nil {
		r.EmbedStore.Close()
	}
	for _, p := range r.policies {
		p.Close()
	}
}

// Build constructs a Runtime from a loaded Config: providers, models,
// functions/variants, cache, object storage, and the DICL embedder/store
// when configured.
func Build(ctx context.Context, cfg *Config, obs coordinator.Observer) (*Runtime, error) {
	rt := &Runtime{}

	providers, err := buildProviders(ctx, cfg.Providers)
	if err != nil {
		return nil, err
	}

	models, err := buildModels(cfg.Models, providers)
	if err != nil {
		return nil, err
	}

	store, err := buildObjectStore(ctx, cfg.ObjectStorage)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	var c *cache.Cache
	cacheMode := cache.ModeOff
	if cfg.Cache.Mode != "" {
		cacheMode = cache.Mode(cfg.Cache.Mode)
	}
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("config: parsing cache.redis_url: %w", err)
		}
		c = cache.New(redis.NewClient(opts), cfg.Cache.TTL)
	}
	rt.Cache = c

	var emb variant.Embedder
	var exampleBase *embed.Store
	if cfg.Embeddings.ModelPath != "" {
		e, err := embed.NewEmbedder(embed.Config{
			ModelPath:         cfg.Embeddings.ModelPath,
			TokenizerPath:     cfg.Embeddings.TokenizerPath,
			OnnxLibraryPath:   cfg.Embeddings.OnnxLibraryPath,
			EmbeddingDims:     cfg.Embeddings.Dimensions,
			MaxSequenceTokens: cfg.Embeddings.MaxSequenceTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("config: building embedder: %w", err)
		}
		rt.Embedder = e
		emb = e
	}
	if cfg.Embeddings.PostgresDSN != "" {
		s, err := embed.NewStore(ctx, cfg.Embeddings.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("config: opening embeddings store: %w", err)
		}
		rt.EmbedStore = s
		exampleBase = s
	}

	functions, policies, err := buildFunctions(cfg.Functions, cfg.Templates, models, emb, exampleBase)
	if err != nil {
		return nil, err
	}
	rt.policies = policies

	rt.Coordinator = coordinator.New(
		functions,
		models,
		c,
		cacheMode,
		content.FetchContext{HTTPClient: http.DefaultClient, Store: store},
		obs,
		time.Now().UnixNano(),
	)
	return rt, nil
}

func buildObjectStore(ctx context.Context, cfg ObjectStorageConfig) (content.ObjectStore, error) {
	switch cfg.Kind {
	case "filesystem":
		return &storage.Filesystem{Root: cfg.Path}, nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("config: loading AWS config for object storage: %w", err)
		}
		return &storage.S3{Client: s3.NewFromConfig(awsCfg), Bucket: cfg.Bucket, Prefix: cfg.Prefix}, nil
	default:
		return storage.Disabled{}, nil
	}
}

func buildProviders(ctx context.Context, cfgs map[string]ProviderConfig) (map[string]provider.Provider, error) {
	out := make(map[string]provider.Provider, len(cfgs))
	for name, pc := range cfgs {
		loc, err := pc.CredentialLocation()
		if err != nil {
			return nil, fmt.Errorf("config: provider %q: %w", name, err)
		}
		apiKey, err := credentials.Resolve(loc)
		if err != nil && pc.Kind != "bedrock" {
			// A provider with no resolvable key still gets constructed,
			// with an empty key. The key is resolved only here, once at
			// build time; nothing re-resolves it per request.
			apiKey = ""
		}

		switch pc.Kind {
		case "openai":
			out[name] = provider.NewOpenAIProvider(name, apiKey, pc.BaseURL)
		case "anthropic":
			out[name] = provider.NewAnthropicProvider(name, apiKey, pc.BaseURL, http.DefaultClient)
		case "google":
			out[name] = provider.NewGoogleProvider(name, apiKey, pc.BaseURL, http.DefaultClient)
		case "bedrock":
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(pc.Region))
			if err != nil {
				return nil, fmt.Errorf("config: provider %q: loading AWS config: %w", name, err)
			}
			out[name] = provider.NewBedrockProvider(name, bedrockruntime.NewFromConfig(awsCfg))
		default:
			return nil, fmt.Errorf("config: provider %q has unknown kind %q", name, pc.Kind)
		}
	}
	return out, nil
}

func buildModels(cfgs map[string]ModelConfig, providers map[string]provider.Provider) (map[string]router.Model, error) {
	out := make(map[string]router.Model, len(cfgs))
	for name, mc := range cfgs {
		m := router.Model{Name: name, Timeout: mc.Timeout}
		for _, entry := range mc.Providers {
			p, ok := providers[entry.Provider]
			if !ok {
				return nil, fmt.Errorf("config: model %q references unknown provider %q", name, entry.Provider)
			}
			m.Providers = append(m.Providers, router.ProviderEntry{Provider: p, ModelName: entry.ModelName})
		}
		out[name] = m
	}
	return out, nil
}

func toToolConfig(tc *ToolConfigEntry) *content.ToolCallConfig {
	if tc == nil {
		return nil
	}
	out := &content.ToolCallConfig{ParallelToolCalls: tc.ParallelToolCalls}
	for _, t := range tc.Tools {
		out.Tools = append(out.Tools, content.ToolDefinition{Name: t.Name, Description: t.Description, Schema: t.Parameters})
	}
	mode := content.ToolChoiceAuto
	if tc.ToolChoiceMode != "" {
		mode = content.ToolChoiceMode(tc.ToolChoiceMode)
	}
	out.ToolChoice = content.ToolChoice{Mode: mode, Specific: tc.ToolChoiceName}
	return out
}

func toFunctionType(s string) content.FunctionType {
	if s == "json" {
		return content.FunctionJSON
	}
	return content.FunctionChat
}

func toRetryConfig(rc RetryConfig) variant.RetryConfig {
	return variant.RetryConfig{NumRetries: rc.NumRetries, MaxDelay: rc.MaxDelay}
}
