package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tzrouter/gateway/internal/content"
)

// InferenceRecord is everything the coordinator knows about one completed
// (or failed) inference call, handed to an Observer once the call is done.
// Persisting this is out of scope here (spec.md 1, "observability storage
// out of scope, specified only by the interface the core consumes") — the
// concrete implementation (ClickHouse, file, whatever) lives outside this
// module. Latency/Usage/ModelName are populated for both Infer and
// InferStream so a metrics Observer can label its collectors without
// re-deriving them from Result (which, for a streaming call, never
// carries ModelResponses).
type InferenceRecord struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	FunctionName string
	VariantName  string
	ModelName    string
	Input        content.ResolvedInput
	Result       *content.InferenceResult
	Usage        content.Usage
	Latency      time.Duration
	Err          error
	Tags         map[string]string
}

// Observer receives a record for every inference call the coordinator
// completes, success or failure. Implementations must not block the
// inference path; the coordinator calls Observe synchronously but a
// real implementation should hand off to a buffered writer internally.
type Observer interface {
	Observe(ctx context.Context, rec InferenceRecord)
}

// NoopObserver discards every record. Used when no observability sink is
// configured.
type NoopObserver struct{}

func (NoopObserver) Observe(context.Context, InferenceRecord) {}
