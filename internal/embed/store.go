// Package embed implements variant.Embedder and variant.ExampleStore for
// dynamic in-context learning (spec.md 4.6, C8): a local ONNX sentence
// encoder for turning text into vectors, and a Postgres/pgvector nearest-
// neighbor store for the demonstration examples DICL draws from.
package embed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tzrouter/gateway/internal/variant"
)

// Store is a pgvector-backed variant.ExampleStore: one row per stored
// demonstration, keyed by the function/variant it belongs to so distinct
// DICL variants never draw each other's examples.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a pooled connection to dsn. The embeddings column must
// already exist with a pgvector type matching dimensions (DDL is a
// deployment concern, not this package's).
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("embed: parsing dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embed: opening pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// InsertExample upserts one demonstration under namespace (typically
// "<function_name>/<variant_name>"), replacing any prior row with the
// same id.
func (s *Store) InsertExample(ctx context.Context, namespace, id string, ex variant.Example, embedding []float32) error {
	const q = `
		INSERT INTO dicl_examples (id, namespace, input, output, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    namespace = EXCLUDED.namespace,
		    input     = EXCLUDED.input,
		    output    = EXCLUDED.output,
		    embedding = EXCLUDED.embedding`

	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx, q, id, namespace, ex.Input, ex.Output, vec)
	if err != nil {
		return fmt.Errorf("embed: inserting example: %w", err)
	}
	return nil
}

// NearestNeighbors implements variant.ExampleStore: the k examples in
// namespace whose stored embedding is closest (cosine distance) to
// embedding, most similar first.
func (s *Store) NearestNeighbors(ctx context.Context, namespace string, embedding []float32, k int) ([]variant.Example, error) {
	const q = `
		SELECT input, output
		FROM   dicl_examples
		WHERE  namespace = $1
		ORDER  BY embedding <=> $2
		LIMIT  $3`

	queryVec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, q, namespace, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("embed: querying nearest neighbors: %w", err)
	}

	examples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (variant.Example, error) {
		var ex variant.Example
		err := row.Scan(&ex.Input, &ex.Output)
		return ex, err
	})
	if err != nil {
		return nil, fmt.Errorf("embed: scanning nearest neighbors: %w", err)
	}
	if examples == nil {
		examples = []variant.Example{}
	}
	return examples, nil
}

// NamespacedStore binds a Store to one fixed namespace, giving a plain
// variant.ExampleStore a DICLVariant can embed directly without carrying
// the namespace string through every call.
type NamespacedStore struct {
	Store     *Store
	Namespace string
}

func (n *NamespacedStore) NearestNeighbors(ctx context.Context, embedding []float32, k int) ([]variant.Example, error) {
	return n.Store.NearestNeighbors(ctx, n.Namespace, embedding, k)
}
