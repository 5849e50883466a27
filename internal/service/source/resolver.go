package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/justadm/justgpt-control-plane/internal/domain"
	"github.com/justadm/justgpt-control-plane/internal/fsutil"
)

// MaxPayloadBytes caps a resolved data payload, remote or inline, checked
// before anything is written to disk.
const MaxPayloadBytes = 2_000_000

const (
	dataFileName = "data.json"
	metaFileName = "data.meta.json"
)

// Resolver materialises the data payload of a json-typed project under its
// data directory and keeps a sidecar provenance record next to it.
type Resolver struct {
	dataDir string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Resolver rooted at dataDir. Remote fetches are bounded by
// timeout; an expired fetch is a failed fetch.
func New(dataDir string, timeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		dataDir: dataDir,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DataPath returns where a project's resolved payload lives.
func (r *Resolver) DataPath(id string) string {
	return filepath.Join(r.dataDir, id, dataFileName)
}

func (r *Resolver) metaPath(id string) string {
	return filepath.Join(r.dataDir, id, metaFileName)
}

// Resolve obtains the payload for a project and returns its on-disk path.
// Priority is strict: a URL wins over inline content, inline wins over the
// persisted payload, and an empty object is the final fallback. Any parse or
// validation failure leaves previously persisted payload and meta untouched.
func (r *Resolver) Resolve(ctx context.Context, id, sourceURL, inline string) (string, error) {
	if err := os.MkdirAll(filepath.Join(r.dataDir, id), 0o755); err != nil {
		return "", fmt.Errorf("create data dir for %s: %w", id, err)
	}
	switch {
	case sourceURL != "":
		return r.resolveURL(ctx, id, sourceURL)
	case inline != "":
		return r.resolveInline(id, inline)
	default:
		return r.resolveExisting(id)
	}
}

func (r *Resolver) resolveURL(ctx context.Context, id, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("source url %q must use http or https: %w", rawURL, domain.ErrValidation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	prior := r.loadMeta(id)
	// Cache validators only apply to the URL they were recorded for.
	if prior != nil && prior.SourceURL == rawURL {
		if prior.ETag != "" {
			req.Header.Set("If-None-Match", prior.ETag)
		}
		if prior.LastModified != "" {
			req.Header.Set("If-Modified-Since", prior.LastModified)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %v: %w", rawURL, err, domain.ErrUpstream)
	}
	defer resp.Body.Close()

	dataPath := r.DataPath(id)
	if resp.StatusCode == http.StatusNotModified {
		if prior == nil || prior.SourceURL != rawURL {
			return "", fmt.Errorf("got 304 for %s without having sent validators: %w", rawURL, domain.ErrUpstream)
		}
		if _, err := os.Stat(dataPath); err != nil {
			return "", fmt.Errorf("got 304 for %s but no local payload at %s: %w", rawURL, dataPath, domain.ErrUpstream)
		}
		status := http.StatusNotModified
		meta := *prior
		meta.FetchedAt = r.now()
		meta.HTTPStatus = &status
		if err := r.saveMeta(id, meta); err != nil {
			return "", err
		}
		r.logger.Info("source cache hit", "project_id", id, "url", rawURL)
		return dataPath, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s returned status %d: %w", rawURL, resp.StatusCode, domain.ErrUpstream)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body from %s: %v: %w", rawURL, err, domain.ErrUpstream)
	}
	if len(body) > MaxPayloadBytes {
		return "", fmt.Errorf("payload from %s exceeds %d bytes: %w", rawURL, MaxPayloadBytes, domain.ErrUpstream)
	}
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", fmt.Errorf("upstream %s did not return valid JSON: %w", rawURL, domain.ErrUpstream)
	}

	status := resp.StatusCode
	meta := domain.SourceMeta{
		Source:       domain.SourceURLFetch,
		SourceURL:    rawURL,
		FetchedAt:    r.now(),
		HTTPStatus:   &status,
		ByteSize:     len(canonical),
		ContentHash:  contentHash(canonical),
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if err := r.persist(id, canonical, meta); err != nil {
		return "", err
	}
	r.logger.Info("source fetched", "project_id", id, "url", rawURL, "bytes", len(canonical))
	return dataPath, nil
}

func (r *Resolver) resolveInline(id, inline string) (string, error) {
	if len(inline) > MaxPayloadBytes {
		return "", fmt.Errorf("inline payload exceeds %d bytes: %w", MaxPayloadBytes, domain.ErrUpstream)
	}
	canonical, err := canonicalJSON([]byte(inline))
	if err != nil {
		return "", fmt.Errorf("inline payload is not valid JSON: %w", domain.ErrValidation)
	}
	meta := domain.SourceMeta{
		Source:      domain.SourceInline,
		FetchedAt:   r.now(),
		ByteSize:    len(canonical),
		ContentHash: contentHash(canonical),
	}
	if err := r.persist(id, canonical, meta); err != nil {
		return "", err
	}
	r.logger.Info("source set from inline payload", "project_id", id, "bytes", len(canonical))
	return r.DataPath(id), nil
}

func (r *Resolver) resolveExisting(id string) (string, error) {
	dataPath := r.DataPath(id)
	if _, err := os.Stat(dataPath); err == nil {
		return dataPath, nil
	}
	canonical, err := canonicalJSON([]byte("{}"))
	if err != nil {
		return "", err
	}
	meta := domain.SourceMeta{
		Source:      domain.SourceEmpty,
		FetchedAt:   r.now(),
		ByteSize:    len(canonical),
		ContentHash: contentHash(canonical),
	}
	if err := r.persist(id, canonical, meta); err != nil {
		return "", err
	}
	r.logger.Info("source initialised empty", "project_id", id)
	return dataPath, nil
}

func (r *Resolver) persist(id string, payload []byte, meta domain.SourceMeta) error {
	if err := fsutil.WriteFileAtomic(r.DataPath(id), payload, 0o644); err != nil {
		return fmt.Errorf("write payload for %s: %w", id, err)
	}
	return r.saveMeta(id, meta)
}

func (r *Resolver) loadMeta(id string) *domain.SourceMeta {
	raw, err := os.ReadFile(r.metaPath(id))
	if err != nil {
		return nil
	}
	var meta domain.SourceMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		r.logger.Warn("ignoring unreadable source meta", "project_id", id, "error", err)
		return nil
	}
	return &meta
}

func (r *Resolver) saveMeta(id string, meta domain.SourceMeta) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode source meta for %s: %w", id, err)
	}
	raw = append(raw, '\n')
	if err := fsutil.WriteFileAtomic(r.metaPath(id), raw, 0o644); err != nil {
		return fmt.Errorf("write source meta for %s: %w", id, err)
	}
	return nil
}

// canonicalJSON re-serialises a JSON document into the stable on-disk form:
// two-space indented with a trailing newline.
func canonicalJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func contentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
