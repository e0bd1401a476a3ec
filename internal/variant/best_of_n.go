package variant

import (
	"context"
	"sync"

	"github.com/tzrouter/gateway/internal/content"
)

// JudgeFunc scores a set of candidate chat completions and returns the
// index of the winner. Candidates are passed by index, not completion
// order — concurrent candidates have no inter-candidate ordering
// guarantee (spec.md 5).
type JudgeFunc func(ctx context.Context, candidates []content.InferenceResult) (int, error)

// BestOfNVariant runs K candidate variants concurrently, then asks a judge
// to pick the best one. If the judge fails, it falls back to a uniform
// random pick among whichever candidates succeeded — it never returns a
// failure as long as at least one candidate succeeded (spec.md 4.6).
type BestOfNVariant struct {
	VariantName string
	Candidates  []Variant
	Judge       JudgeFunc
}

func (v *BestOfNVariant) Name() string { return v.VariantName }

func (v *BestOfNVariant) Execute(ctx context.Context, input content.ResolvedInput) (content.InferenceResult, error) {
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

	winner, err := v.Judge(ctx, candidateSet)
	if err != nil || winner < 0 || winner >= len(candidateSet) {
		pick := randomSuccess(ok, inputKey(input))
		return withAllResponses(results[pick], allResponses, v.VariantName), nil
	}

	return withAllResponses(candidateSet[winner], allResponses, v.VariantName), nil
}

// runCandidates executes every candidate concurrently and returns each
// one's result alongside a parallel ok slice (true where that candidate
// succeeded). A failing candidate's slot is left as the zero value.
func runCandidates(ctx context.Context, candidates []Variant, input content.ResolvedInput) ([]content.InferenceResult, []bool) {
	results := make([]content.InferenceResult, len(candidates))
	ok := make([]bool, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c Variant) {
			defer wg.Done()
			res, err := c.Execute(ctx, input)
			if err == nil {
				results[i] = res
				ok[i] = true
			}
		}(i, c)
	}
	wg.Wait()

	return results, ok
}

func successIndices(ok []bool) []int {
	var out []int
	for i, v := range ok {
		if v {
			out = append(out, i)
		}
	}
	return out
}

// withAllResponses returns result tagged with variantName and its
// ModelResponses chain replaced by allResponses — every provider call the
// variant made across all candidates, not just the winning one, since
// observability needs the full cost of the variant's execution.
func withAllResponses(result content.InferenceResult, allResponses []content.ModelInferenceResponseWithMetadata, variantName string) content.InferenceResult {
	result.VariantName = variantName
	result.ModelResponses = allResponses
	return result
}

// mergeResponses flattens every candidate's ModelResponses chain into one,
// preserving candidate order then per-candidate call order.
func mergeResponses(results []content.InferenceResult) []content.ModelInferenceResponseWithMetadata {
	var out []content.ModelInferenceResponseWithMetadata
	for _, r := range results {
		out = append(out, r.ModelResponses...)
	}
	return out
}
