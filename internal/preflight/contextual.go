package preflight

import (
	"github.com/codectx/codectx/internal/lifecycle"
)

// CheckContextualLLM checks whether the Ollama backend used for
// contextual-retrieval chunk-description generation is reachable. Unlike
// the embedder checks, a missing Ollama install is not a fallback path:
// contextual retrieval is simply skipped at index time when this is down.
func (c *Checker) CheckContextualLLM(enabled bool, host string) CheckResult {
	result := CheckResult{
		Name:     "contextual_llm",
		Required: false,
	}

	if !enabled {
		result.Status = StatusPass
		result.Message = "Contextual retrieval disabled, skipping"
		return result
	}

	var manager *lifecycle.OllamaManager
	if host != "" {
		manager = lifecycle.NewOllamaManagerWithHost(host)
	} else {
		manager = lifecycle.NewOllamaManager()
	}

	running, err := manager.IsRunning()
	if err != nil || !running {
		result.Status = StatusWarn
		result.Message = "Ollama not reachable (contextual retrieval will be skipped)"
		result.Details = "Host: " + manager.Host()
		return result
	}

	result.Status = StatusPass
	result.Message = "Ollama reachable for contextual retrieval"
	result.Details = "Host: " + manager.Host()
	return result
}
