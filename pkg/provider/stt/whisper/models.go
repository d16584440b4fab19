package whisper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BradleyFarquharson/Listen/internal/errkind"
)

// modelBaseURL is where ggml model files are published.
const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// CacheDir returns the per-user model cache directory,
// e.g. ~/.cache/listen/models.
func CacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("whisper: resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "listen", "models"), nil
}

// modelFile maps a model name to its ggml file name. Quantized selects the
// q5_1 variant.
func modelFile(name string, quantized bool) string {
	if quantized {
		return fmt.Sprintf("ggml-%s-q5_1.bin", name)
	}
	return fmt.Sprintf("ggml-%s.bin", name)
}

// ResolveModel turns a model identifier into a file path. A value that
// already names an existing file is used directly; otherwise the name is
// resolved against the cache directory.
func ResolveModel(name string, quantized bool) (string, error) {
	if strings.ContainsAny(name, "/\\") || strings.HasSuffix(name, ".bin") {
		if _, err := os.Stat(name); err != nil {
			return "", errkind.Wrap(errkind.Model, fmt.Sprintf("model file %q", name), err)
		}
		return name, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, modelFile(name, quantized)), nil
}

// Download fetches the named ggml model into the cache directory when it is
// not already present, and returns its path. The download goes to a
// temporary file first so an interrupted fetch never leaves a truncated
// model behind.
func Download(ctx context.Context, name string, quantized bool) (string, error) {
	path, err := ResolveModel(name, quantized)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("whisper: create cache dir: %w", err)
	}

	url := fmt.Sprintf("%s/%s", modelBaseURL, modelFile(name, quantized))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errkind.Wrap(errkind.Model, fmt.Sprintf("download %q", name), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errkind.Newf(errkind.Model,
			"download %q: unexpected status %s", name, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return "", fmt.Errorf("whisper: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", errkind.Wrap(errkind.Model, fmt.Sprintf("download %q", name), err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("whisper: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("whisper: move model into cache: %w", err)
	}
	return path, nil
}
