// Package cache implements fingerprinted memoization of non-streaming and
// streaming provider responses (spec.md 4.7).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/tzrouter/gateway/internal/content"
)

// Mode controls whether a cache lookup/write happens at all.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeWriteOnly Mode = "write_only"
	ModeReadOnly  Mode = "read_only"
	ModeOn        Mode = "on"
)

func (m Mode) canRead() bool  { return m == ModeReadOnly || m == ModeOn }
func (m Mode) canWrite() bool { return m == ModeWriteOnly || m == ModeOn }

// Fingerprint is the stable input to a cache key: everything about a
// request that determines its output, excluding volatile fields (request
// id, timestamps) — and excluding which provider in a model's fallback
// chain actually served the call, since that is an outcome of C5's
// routing, not an input the client controls. Two calls for the same model
// that happen to fail over to different providers must hash to the same
// cache key; the provider that actually served a cached entry is recorded
// in the stored entry itself, not the key.
type Fingerprint struct {
	ModelName     string
	Messages      []content.RequestMessage
	System        *string
	ToolConfig    *content.ToolCallConfig
	Temperature   *float32
	TopP          *float32
	MaxTokens     *int
	Seed          *int
	JSONMode      content.JSONMode
	OutputSchema  json.RawMessage
	ExtraCacheKey string
}

// Key hashes a Fingerprint into a stable cache key (spec.md 4.7).
func Key(fp Fingerprint) (string, error) {
	b, err := json.Marshal(fp)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "llmrouter:cache:" + hex.EncodeToString(sum[:]), nil
}

// entry is the JSON shape stored in Redis: enough to reconstruct a
// ModelInferenceResponse on a hit, with cached = true and latency zeroed.
type entry struct {
	ProviderName string                `json:"provider_name"`
	Output       []content.OutputBlock `json:"output"`
	Usage        content.Usage         `json:"usage"`
	FinishReason *content.FinishReason `json:"finish_reason,omitempty"`
	RawRequest   string                `json:"raw_request"`
	RawResponse  string                `json:"raw_response"`
}

// Cache fronts Redis with a singleflight group so at most one concurrent
// build runs per fingerprint — other callers racing the same miss join the
// in-flight result instead of all hitting the provider (spec.md 5).
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats returns the cumulative hit/miss counts since the Cache was
// created. internal/metrics polls this to publish a cache hit-rate gauge;
// plain int64 fields would race under concurrent Get calls from the
// coordinator's per-request goroutines, so these are atomic rather than
// guarded by a mutex that would otherwise only exist for this purpose.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// New creates a Cache backed by client. ttl of zero means entries never
// expire.
func New(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get looks up fp's entry. ok is false on a miss or when mode forbids
// reading.
func (c *Cache) Get(ctx context.Context, mode Mode, fp Fingerprint) (content.ModelInferenceResponse, bool, error) {
	var zero content.ModelInferenceResponse
	if !mode.canRead() {
		return zero, false, nil
	}

	key, err := Key(fp)
	if err != nil {
		return zero, false, err
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Inc()
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return zero, false, err
	}

	c.hits.Inc()
	return content.ModelInferenceResponse{
		ProviderInferenceResponse: content.ProviderInferenceResponse{
			Output:       e.Output,
			Usage:        e.Usage,
			FinishReason: e.FinishReason,
			RawRequest:   e.RawRequest,
			RawResponse:  e.RawResponse,
			Latency:      content.Latency{Kind: content.LatencyNonStreaming},
		},
		ModelProviderName: e.ProviderName,
		Cached:            true,
	}, true, nil
}

// Set writes resp under fp's key. No-op when mode forbids writing.
func (c *Cache) Set(ctx context.Context, mode Mode, fp Fingerprint, resp content.ModelInferenceResponse) error {
	if !mode.canWrite() {
		return nil
	}

	key, err := Key(fp)
	if err != nil {
		return err
	}

	b, err := json.Marshal(entry{
		ProviderName: resp.ModelProviderName,
		Output:       resp.Output,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
		RawRequest:   resp.RawRequest,
		RawResponse:  resp.RawResponse,
	})
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, b, c.ttl).Err()
}

// GetOrBuild is the singleflight-guarded path C10 uses under mode On: a
// cache hit returns immediately; a miss calls build exactly once per
// fingerprint even under concurrent callers, writes the result, and
// fans the single built response out to every waiter.
func (c *Cache) GetOrBuild(ctx context.Context, mode Mode, fp Fingerprint, build func(ctx context.Context) (content.ModelInferenceResponse, error)) (content.ModelInferenceResponse, error) {
	if hit, ok, err := c.Get(ctx, mode, fp); err != nil {
		return content.ModelInferenceResponse{}, err
	} else if ok {
		return hit, nil
	}

	key, err := Key(fp)
	if err != nil {
		return content.ModelInferenceResponse{}, err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := build(ctx)
		if err != nil {
			return content.ModelInferenceResponse{}, err
		}
		if err := c.Set(ctx, mode, fp, resp); err != nil {
			return content.ModelInferenceResponse{}, err
		}
		return resp, nil
	})
	if err != nil {
		return content.ModelInferenceResponse{}, err
	}

	resp := v.(content.ModelInferenceResponse)
	resp.Cached = false
	return resp, nil
}
