package embed

import (
	"context"
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	ort "github.com/yalue/onnxruntime_go"
	"github.com/viterin/vek"

	"github.com/daulet/tokenizers"
)

// Embedder is a local ONNX sentence-embedding model: a WordPiece/BPE
// tokenizer (daulet/tokenizers, a libtokenizers cgo binding) feeding a
// transformer encoder session (yalue/onnxruntime_go). Embed mean-pools the
// encoder's last hidden state over non-padding tokens, the standard
// sentence-embedding pooling strategy for BERT-family encoders.
type Embedder struct {
	tokenizer *tokenizers.Tokenizer
	session   *ort.DynamicAdvancedSession
	dims      int64
	maxTokens int

	mu sync.Mutex
}

// Config points at the on-disk ONNX model and tokenizer files a
// DICL variant's embedder loads once at startup.
type Config struct {
	ModelPath         string
	TokenizerPath     string
	OnnxLibraryPath   string
	EmbeddingDims     int64
	MaxSequenceTokens int
}

// NewEmbedder loads the tokenizer and ONNX session described by cfg.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if !ort.IsInitialized() {
		if cfg.OnnxLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.OnnxLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("embed: initializing onnxruntime: %w", err)
		}
	}

	tk, err := tokenizers.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("embed: loading tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("embed: creating onnx session: %w", err)
	}

	maxTokens := cfg.MaxSequenceTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	return &Embedder{tokenizer: tk, session: session, dims: cfg.EmbeddingDims, maxTokens: maxTokens}, nil
}

func (e *Embedder) Close() {
	e.tokenizer.Close()
	e.session.Destroy()
}

// Embed implements variant.Embedder: tokenize text, run the encoder, mean-
// pool the last hidden state over real (non-padding) tokens.
//
// onnxruntime sessions are not safe for concurrent Run calls sharing the
// same bound input/output tensors, so calls serialize on e.mu; DICL's
// embedding lookup is not on the hot per-token streaming path, so this
// has not shown up as a bottleneck.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ids, _ := e.tokenizer.Encode(text, true)
	if len(ids) == 0 {
		return nil, fmt.Errorf("embed: tokenizer produced no tokens for input")
	}
	if len(ids) > e.maxTokens {
		ids = ids[:e.maxTokens]
	}

	seqLen := int64(len(ids))
	inputIDs := make([]int64, seqLen)
	attentionMask := make([]int64, seqLen)
	for i, id := range ids {
		inputIDs[i] = int64(id)
		attentionMask[i] = 1
	}

	shape := ort.NewShape(1, seqLen)
	inputTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("embed: building input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("embed: building attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputShape := ort.NewShape(1, seqLen, e.dims)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("embed: allocating output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	e.mu.Lock()
	err = e.session.Run([]ort.Value{inputTensor, maskTensor}, []ort.Value{outputTensor})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("embed: running onnx session: %w", err)
	}

	return normalize(meanPool(outputTensor.GetData(), int(seqLen), int(e.dims))), nil
}

// meanPool averages a [seqLen, dims] hidden-state buffer over the sequence
// axis into a single [dims] vector — every token counts equally since
// Embed never pads (it sends exactly the real token count as seqLen, no
// attention-masked positions to exclude). Row accumulation uses vek's
// SIMD-accelerated Add rather than a hand-rolled inner loop.
func meanPool(hidden []float32, seqLen, dims int) []float32 {
	out := make([]float32, dims)
	for t := 0; t < seqLen; t++ {
		row := hidden[t*dims : (t+1)*dims]
		out = vek.Add(out, row)
	}
	if seqLen > 0 {
		out = vek.DivNumber(out, float32(seqLen))
	}
	return out
}

// normalize L2-normalizes an embedding so pgvector's cosine-distance
// operator (<=>) and a plain dot product agree on candidate ranking.
func normalize(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	norm := math32.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	return vek.DivNumber(v, norm)
}
