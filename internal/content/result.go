package content

// InferenceResultKind discriminates InferenceResult's two shapes: a chat
// function returns a sequence of validated output blocks, a JSON function
// returns a single parsed-or-raw value.
type InferenceResultKind string

const (
	InferenceResultChat InferenceResultKind = "chat"
	InferenceResultJSON InferenceResultKind = "json"
)

// InferenceResult is the top-level result of one variant execution
// (spec.md section 3): either a chat result (ordered ChatOutputBlocks) or
// a JSON result (parsed value, or null plus the raw text if validation
// failed). It carries the full chain of per-provider-call responses that
// went into producing it and the effective parameters actually used.
type InferenceResult struct {
	Kind InferenceResultKind

	Chat []ChatOutputBlock // populated when Kind == InferenceResultChat
	JSON *JSONResult       // populated when Kind == InferenceResultJSON

	ModelResponses []ModelInferenceResponseWithMetadata
	VariantName    string
}

// JSONResult is a JSON function's output: Parsed is nil when the raw text
// failed to validate against the effective schema, in which case Raw
// still holds what the model produced.
type JSONResult struct {
	Parsed []byte
	Raw    string
}

// TotalUsage sums ActualUsage across every underlying model response
// (cached calls contribute zero, per I4).
func (r InferenceResult) TotalUsage() Usage {
	var total Usage
	for _, m := range r.ModelResponses {
		total.Add(m.ActualUsage())
	}
	return total
}

// FinishReason is the finish reason of the model response with the
// greatest Created timestamp (I5).
func (r InferenceResult) FinishReason() *FinishReason {
	var latest *ModelInferenceResponseWithMetadata
	for i := range r.ModelResponses {
		m := &r.ModelResponses[i]
		if latest == nil || m.Created >= latest.Created {
			latest = m
		}
	}
	if latest == nil {
		return nil
	}
	return latest.FinishReason
}
