package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatBytes renders a byte count as a human-readable string, used by
// `codectx index info` to report index and store sizes.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp for display, returning "unknown" for the
// zero value so uninitialized fields don't print "0001-01-01".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses the embedding backend used to build an
// existing index from its stored model identifier, for the compatibility
// check in `codectx index info`. The literals "static"/"static768" indicate
// the dependency-free static embedder; any other model identifier, local
// path or not, is reported as "onnx".
func inferBackendFromModel(model string) string {
	if model == "static" || model == "static768" {
		return "static"
	}
	if filepath.IsAbs(model) || containsAny(model, []string{"onnx", "jina-code", "minilm", "bge-small", "mxbai"}) {
		return "onnx"
	}
	return "onnx"
}

// getDirSize sums the size of all regular files under dir, returning 0 if
// dir does not exist.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
