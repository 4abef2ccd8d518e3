package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/codectx/codectx/internal/apperr"
)

// ModelType identifies one of the bundled ONNX embedding models. Mirrors
// the model catalog codectx's original (pre-port) author shipped, each
// entry naming its dimensionality and recommended query-prefix.
type ModelType string

const (
	ModelAllMiniLML6V2Q     ModelType = "minilm-l6-q"
	ModelBGESmallENV15Q     ModelType = "bge-small-q"
	ModelJinaEmbeddingsV2BaseCode ModelType = "jina-code"
	ModelMxbaiEmbedLargeV1  ModelType = "mxbai-large"
	ModelMxbaiEmbedXSmallV1 ModelType = "mxbai-xsmall"
)

// DefaultModelType is the code-specialized model used when none is
// configured, chosen for best code-search quality.
const DefaultModelType = ModelJinaEmbeddingsV2BaseCode

func (m ModelType) dimensions() int {
	switch m {
	case ModelAllMiniLML6V2Q, ModelBGESmallENV15Q, ModelMxbaiEmbedXSmallV1:
		return 384
	case ModelJinaEmbeddingsV2BaseCode:
		return 768
	case ModelMxbaiEmbedLargeV1:
		return 1024
	default:
		return 768
	}
}

func (m ModelType) repo() string {
	switch m {
	case ModelAllMiniLML6V2Q:
		return "sentence-transformers/all-MiniLM-L6-v2"
	case ModelBGESmallENV15Q:
		return "BAAI/bge-small-en-v1.5"
	case ModelJinaEmbeddingsV2BaseCode:
		return "jinaai/jina-embeddings-v2-base-code"
	case ModelMxbaiEmbedLargeV1:
		return "mixedbread-ai/mxbai-embed-large-v1"
	case ModelMxbaiEmbedXSmallV1:
		return "mixedbread-ai/mxbai-embed-xsmall-v1"
	default:
		return string(m)
	}
}

// formatQuery applies the model family's recommended instruction prefix.
func (m ModelType) formatQuery(query string) string {
	switch m {
	case ModelBGESmallENV15Q:
		return "Represent this sentence for searching relevant code: " + query
	case ModelMxbaiEmbedLargeV1, ModelMxbaiEmbedXSmallV1:
		return "Represent this sentence for searching relevant passages: " + query
	default:
		return query
	}
}

// OnnxModelConfig configures where to find a downloaded model's files.
type OnnxModelConfig struct {
	Model       ModelType
	ModelDir    string // directory containing model.onnx and tokenizer.json
	IntraOpThreads int
}

// OnnxEmbedder runs inference through ONNX Runtime via onnxruntime_go,
// tokenizing with daulet/tokenizers (HuggingFace `tokenizers`, in-process,
// no server). Both libraries are black-box inference dependencies: this
// file only orchestrates batching, padding and pooling around them.
type OnnxEmbedder struct {
	mu        sync.RWMutex
	model     ModelType
	dims      int
	tokenizer *tokenizers.Tokenizer
	session   *ort.DynamicAdvancedSession
	batchIdx  int
	finalBatch bool
	closed    bool
}

var ortInitOnce sync.Once
var ortInitErr error

func ensureOrtInit() error {
	ortInitOnce.Do(func() {
		if path := os.Getenv("CODECTX_ONNXRUNTIME_LIB"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// NewOnnxEmbedder loads the tokenizer and ONNX session for cfg.Model from
// cfg.ModelDir. Model load failures are fatal per the closed error
// taxonomy (apperr.KindModelLoad): there is no silent degrade path inside
// this constructor, callers fall back to StaticEmbedder themselves.
func NewOnnxEmbedder(ctx context.Context, cfg OnnxModelConfig) (*OnnxEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModelType
	}
	if err := ensureOrtInit(); err != nil {
		return nil, apperr.ModelLoad(fmt.Sprintf("onnxruntime init failed: %v", err), err)
	}

	tokenizerPath := cfg.ModelDir + "/tokenizer.json"
	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, apperr.ModelLoad(fmt.Sprintf("failed to load tokenizer for %s", cfg.Model.repo()), err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		tk.Close()
		return nil, apperr.ModelLoad("failed to create onnx session options", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		_ = opts.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}

	modelPath := cfg.ModelDir + "/model.onnx"
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, opts)
	if err != nil {
		tk.Close()
		return nil, apperr.ModelLoad(fmt.Sprintf("failed to load onnx model %s", modelPath), err)
	}

	return &OnnxEmbedder{
		model:     cfg.Model,
		dims:      cfg.Model.dimensions(),
		tokenizer: tk,
		session:   session,
	}, nil
}

func (e *OnnxEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OnnxEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, apperr.Embedding("embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batchSize := resolveBatchSize(e.dims)
	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vecs, err := e.embedMiniBatch(texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *OnnxEmbedder) embedMiniBatch(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	encodings := make([]tokenizers.Encoding, len(texts))
	maxLen := 0
	for i, t := range texts {
		enc := e.tokenizer.EncodeWithOptions(t, true, tokenizers.WithReturnAttentionMask())
		encodings[i] = enc
		if len(enc.IDs) > maxLen {
			maxLen = len(enc.IDs)
		}
	}

	inputIDs := make([]int64, len(texts)*maxLen)
	attnMask := make([]int64, len(texts)*maxLen)
	tokenType := make([]int64, len(texts)*maxLen)
	for i, enc := range encodings {
		for j := 0; j < maxLen; j++ {
			idx := i*maxLen + j
			if j < len(enc.IDs) {
				inputIDs[idx] = int64(enc.IDs[j])
				attnMask[idx] = int64(enc.AttentionMask[j])
			}
		}
	}

	shape := ort.NewShape(int64(len(texts)), int64(maxLen))
	idTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, apperr.Embedding("failed to build input tensor", err)
	}
	defer idTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attnMask)
	if err != nil {
		return nil, apperr.Embedding("failed to build attention mask tensor", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenType)
	if err != nil {
		return nil, apperr.Embedding("failed to build token type tensor", err)
	}
	defer typeTensor.Destroy()

	outShape := ort.NewShape(int64(len(texts)), int64(maxLen), int64(e.dims))
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, apperr.Embedding("failed to allocate output tensor", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{idTensor, maskTensor, typeTensor}, []ort.Value{output}); err != nil {
		return nil, apperr.Embedding("onnx inference failed", err)
	}

	hidden := output.GetData()
	results := make([][]float32, len(texts))
	for i := range texts {
		results[i] = meanPool(hidden, attnMask, i, maxLen, e.dims)
	}
	return results, nil
}

// meanPool applies attention-masked mean pooling over token embeddings,
// the standard sentence-embedding reduction for BERT-family encoders.
func meanPool(hidden []float32, mask []int64, batchIdx, seqLen, dims int) []float32 {
	out := make([]float32, dims)
	var count float32
	for t := 0; t < seqLen; t++ {
		if mask[batchIdx*seqLen+t] == 0 {
			continue
		}
		count++
		base := (batchIdx*seqLen + t) * dims
		for d := 0; d < dims; d++ {
			out[d] += hidden[base+d]
		}
	}
	if count == 0 {
		return out
	}
	for d := range out {
		out[d] /= count
	}
	return normalizeVector(out)
}

func resolveBatchSize(dims int) int {
	if v := os.Getenv("CODECTX_BATCH_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	switch {
	case dims <= 384:
		return 256
	case dims <= 768:
		return 128
	default:
		return 64
	}
}

func (e *OnnxEmbedder) Dimensions() int { return e.dims }

func (e *OnnxEmbedder) ModelName() string { return e.model.repo() }

func (e *OnnxEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *OnnxEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.tokenizer.Close()
	return e.session.Destroy()
}

func (e *OnnxEmbedder) SetBatchIndex(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchIdx = idx
}

func (e *OnnxEmbedder) SetFinalBatch(isFinal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalBatch = isFinal
}

// FormatQuery wraps a natural-language query with the model family's
// recommended instruction prefix.
func (e *OnnxEmbedder) FormatQuery(text string) string {
	return e.model.formatQuery(text)
}

// FormatPassage only trims surrounding whitespace: none of the bundled model
// families apply special passage formatting, and a code-to-code query is
// itself run through FormatPassage rather than FormatQuery (see the
// search orchestrator) for the same reason.
func (e *OnnxEmbedder) FormatPassage(text string) string {
	return strings.TrimSpace(text)
}

// ParseModelType resolves a configured model name to a ModelType.
func ParseModelType(s string) (ModelType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minilm-l6", "minilm-l6-q", "allminiml6v2q":
		return ModelAllMiniLML6V2Q, true
	case "bge-small", "bge-small-q", "bgesmallenv15q":
		return ModelBGESmallENV15Q, true
	case "jina-code", "jinaembeddingsv2basecode":
		return ModelJinaEmbeddingsV2BaseCode, true
	case "mxbai-large", "mxbaiembedlargev1":
		return ModelMxbaiEmbedLargeV1, true
	case "mxbai-xsmall", "mxbaiembedxsmallv1":
		return ModelMxbaiEmbedXSmallV1, true
	default:
		return "", false
	}
}
