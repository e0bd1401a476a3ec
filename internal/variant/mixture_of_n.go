package variant

import (
	"context"

	"github.com/tzrouter/gateway/internal/content"
)

// FuserFunc synthesizes one final response from a set of candidates,
// returning its text output blocks.
type FuserFunc func(ctx context.Context, candidates []content.InferenceResult) ([]content.ChatOutputBlock, error)

// MixtureOfNVariant runs K candidates concurrently, then calls a fuser
// model that synthesizes a single response from the full candidate set.
// If the fuser fails, it degrades the same way BestOfN does: a uniform
// random pick among the candidates that succeeded (spec.md 4.6).
type MixtureOfNVariant struct {
	VariantName string
	Candidates  []Variant
	Fuser       FuserFunc
}

func (v *MixtureOfNVariant) Name() string { return v.VariantName }

func (v *MixtureOfNVariant) Execute(ctx context.Context, input content.ResolvedInput) (content.InferenceResult, error) {
	results, ok := runCandidates(ctx, v.Candidates, input)
	allResponses := mergeResponses(results)

	succeeded := successIndices(ok)
	if len(succeeded) == 0 {
		return content.InferenceResult{}, errAllCandidatesFailed
	}
	if len(succeeded) == 1 {
		return withAllResponses(results[succeeded[0]], allResponses, v.VariantName), nil
	}

	candidateSet := make([]content.InferenceResult, len(succeeded))
	for i, idx := range succeeded {
		candidateSet[i] = results[idx]
	}

	fused, err := v.Fuser(ctx, candidateSet)
	if err != nil {
		pick := randomSuccess(ok, inputKey(input))
		return withAllResponses(results[pick], allResponses, v.VariantName), nil
	}

	return withAllResponses(content.InferenceResult{
		Kind: content.InferenceResultChat,
		Chat: fused,
	}, allResponses, v.VariantName), nil
}
