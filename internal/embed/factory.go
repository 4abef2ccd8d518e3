package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOnnx runs a local ONNX model through onnxruntime_go
	// (default; requires a downloaded model directory).
	ProviderOnnx ProviderType = "onnx"

	// ProviderStatic uses hash-based embeddings (fallback when no ONNX
	// model has been downloaded, or when explicitly requested for a
	// dependency-free BM25-only index).
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder based on provider type.
// CODECTX_EMBEDDER overrides provider selection:
//   - "onnx": OnnxEmbedder, requires CODECTX_MODEL_CACHE_DIR/<model>
//   - "static": StaticEmbedder768 (no external dependency)
//
// Query embedding caching is enabled by default; set CODECTX_EMBED_CACHE=false
// to disable.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	if envProvider := os.Getenv("CODECTX_EMBEDDER"); envProvider != "" {
		provider = ProviderType(strings.ToLower(envProvider))
	}

	var embedder Embedder
	var err error

	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder768()
	case ProviderOnnx, "":
		embedder, err = newOnnxWithFallback(ctx, model)
	default:
		embedder, err = newOnnxWithFallback(ctx, model)
	}
	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("CODECTX_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newOnnxWithFallback loads the configured (or default) ONNX model. A
// missing model directory or runtime library is not silently papered
// over: callers that want a dependency-free index must explicitly pass
// ProviderStatic.
func newOnnxWithFallback(ctx context.Context, model string) (Embedder, error) {
	modelType := DefaultModelType
	if model != "" {
		if mt, ok := ParseModelType(model); ok {
			modelType = mt
		}
	}

	modelDir := os.Getenv("CODECTX_MODEL_CACHE_DIR")
	if modelDir == "" {
		home, _ := os.UserHomeDir()
		modelDir = home + "/.cache/codectx/models"
	}
	modelDir = modelDir + "/" + string(modelType)

	embedder, err := NewOnnxEmbedder(ctx, OnnxModelConfig{Model: modelType, ModelDir: modelDir})
	if err != nil {
		return nil, fmt.Errorf("onnx model unavailable: %w\n\nTo fix:\n  1. Download the model into %s\n  2. Or use a dependency-free index: codectx index --backend=static", err, modelDir)
	}
	return embedder, nil
}

// ParseProvider converts a string to ProviderType.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOnnx
	}
}

func (p ProviderType) String() string { return string(p) }

func ValidProviders() []string {
	return []string{string(ProviderOnnx), string(ProviderStatic)}
}

func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *OnnxEmbedder:
		info.Provider = ProviderOnnx
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder creates an embedder and panics on failure. Use only in
// tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
