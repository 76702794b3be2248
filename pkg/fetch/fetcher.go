package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/criteo/vast-player/pkg/log"
	"github.com/criteo/vast-player/pkg/metric"
)

var (
	// ErrBadStatus reports a non-2xx response for a creative download.
	ErrBadStatus = errors.New("fetch: unexpected response status")
)

// Fetcher downloads remote creative assets into a local cache directory. The
// original file extension is preserved on the final path because downstream
// media and caption loaders dispatch on it. No retries here; retry policy
// belongs to the caller.
type Fetcher struct {
	client  *http.Client
	dir     string
	log     log.Logger
	metrics *metric.Metrics
}

// Config carries fetcher collaborators. Dir is required.
type Config struct {
	Client  *http.Client
	Dir     string
	Log     log.Logger
	Metrics *metric.Metrics
}

// New creates a fetcher writing into cfg.Dir.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("fetch: cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("fetch: create cache dir: %w", err)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = log.NoLog
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.New()
	}
	return &Fetcher{
		client:  cfg.Client,
		dir:     cfg.Dir,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}, nil
}

// Fetch downloads remoteURL and returns the local path of the finished file.
// The file lands under a fresh name with the source extension; the write is
// staged in a temp file and finalized atomically.
func (f *Fetcher) Fetch(ctx context.Context, remoteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: build request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: download %s: %w", remoteURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %d for %s", ErrBadStatus, resp.StatusCode, remoteURL)
	}

	ext := fileExtension(remoteURL, resp.Header.Get("Content-Type"))
	final := filepath.Join(f.dir, uuid.New().String()+ext)

	tmp, err := renameio.TempFile(f.dir, final)
	if err != nil {
		return "", fmt.Errorf("fetch: stage temp file: %w", err)
	}
	defer tmp.Cleanup()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch: write body: %w", err)
	}
	if err := tmp.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("fetch: finalize %s: %w", final, err)
	}

	f.metrics.CreativesDownloaded.Inc()
	f.metrics.DownloadBytes.Add(float64(n))
	f.metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	f.log.Debug("creative downloaded", "url", remoteURL, "path", final, "bytes", n)

	return final, nil
}

// Extensions for the media types the player actually serves. The stdlib mime
// table does not cover video types on every platform.
var mediaExtensions = map[string]string{
	"video/mp4":            ".mp4",
	"video/webm":           ".webm",
	"video/quicktime":      ".mov",
	"text/vtt":             ".vtt",
	"application/x-subrip": ".srt",
}

// fileExtension takes the extension from the URL path, falling back to the
// response content type when the path has none.
func fileExtension(remoteURL, contentType string) string {
	if u, err := url.Parse(remoteURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := mediaExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
