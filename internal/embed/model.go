// Package embed provides embedding functionality for codectx.
// This file implements downloading and caching of ONNX model files from
// the Hugging Face Hub, the same resolve/main convention used by the
// fastembed-style loader codectx's model catalog was ported from.
package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// modelFiles lists the artifacts every ONNX embedding model needs.
var modelFiles = []string{"model.onnx", "tokenizer.json", "config.json"}

const ModelDownloadTimeout = 30 * time.Minute

// ModelManager handles downloading and caching of ONNX embedding models
// under a per-model directory, e.g. ~/.cache/codectx/models/jina-code/.
type ModelManager struct {
	modelsDir string
	model     ModelType
	lock      *FileLock
	mu        sync.Mutex
}

func NewModelManager(modelsDir string, model ModelType) *ModelManager {
	return &ModelManager{modelsDir: modelsDir, model: model}
}

// ModelDir returns the directory this manager downloads into.
func (m *ModelManager) ModelDir() string {
	return filepath.Join(m.modelsDir, string(m.model))
}

// EnsureModel ensures every file in modelFiles is present locally,
// downloading any that are missing. Downloads are serialized across
// processes via a FileLock on the model directory so two concurrent
// `codectx index` invocations don't race on the same partial download.
func (m *ModelManager) EnsureModel(ctx context.Context, progressFn func(file string, downloaded, total int64)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.ModelDir()
	if m.ModelExists() {
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	m.lock = NewFileLock(dir)
	if err := m.lock.Lock(); err != nil {
		return "", fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	if m.ModelExists() {
		return dir, nil
	}

	for _, file := range modelFiles {
		destPath := filepath.Join(dir, file)
		if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
			continue
		}
		url := huggingFaceURL(m.model.repo(), file)
		if err := downloadFile(ctx, url, destPath, func(d, t int64) {
			if progressFn != nil {
				progressFn(file, d, t)
			}
		}); err != nil {
			return "", fmt.Errorf("failed to download %s: %w", file, err)
		}
	}
	return dir, nil
}

func huggingFaceURL(repo, file string) string {
	endpoint := os.Getenv("HF_ENDPOINT")
	if endpoint == "" {
		endpoint = "https://huggingface.co"
	}
	endpoint = strings.TrimRight(endpoint, "/")
	return fmt.Sprintf("%s/%s/resolve/main/%s", endpoint, repo, file)
}

func downloadFile(ctx context.Context, url, destPath string, progressFn func(downloaded, total int64)) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "codectx/1.0")
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: ModelDownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	totalSize := resp.ContentLength
	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write: %w", writeErr)
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(downloaded, totalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	return os.Rename(tmpPath, destPath)
}

// ModelExists reports whether every required file is already cached.
func (m *ModelManager) ModelExists() bool {
	dir := m.ModelDir()
	for _, file := range modelFiles {
		info, err := os.Stat(filepath.Join(dir, file))
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}

// DeleteModel removes the cached model directory.
func (m *ModelManager) DeleteModel() error {
	return os.RemoveAll(m.ModelDir())
}

// DefaultModelsDir returns the default model cache directory path.
func DefaultModelsDir() string {
	if dir := os.Getenv("CODECTX_MODEL_CACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cache", "codectx", "models")
}
