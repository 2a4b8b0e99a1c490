package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// ArtifactCache resolves plugin descriptors to verified local files. Cached
// artifacts live under the cache root, Maven coordinates as
// group/artifact/version/filename and HTTP sources as http/host/path.
type ArtifactCache struct {
	root        string
	repoBaseURL string
	httpClient  *http.Client
	breaker     *CircuitBreaker
	logger      *slog.Logger

	mu        sync.RWMutex
	artifacts map[string]process.Artifact // cache key -> artifact
}

// NewArtifactCache creates a cache rooted at dir, downloading Maven
// coordinates relative to repoBaseURL.
func NewArtifactCache(dir, repoBaseURL string, breaker *CircuitBreaker, logger *slog.Logger) (*ArtifactCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact cache directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactCache{
		root:        dir,
		repoBaseURL: strings.TrimRight(repoBaseURL, "/"),
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		breaker:     breaker,
		logger:      logger.With("component", "artifact-cache"),
		artifacts:   make(map[string]process.Artifact),
	}, nil
}

// ResolveURL builds the download URL for a descriptor.
func (c *ArtifactCache) ResolveURL(desc process.Descriptor) (string, error) {
	switch desc.SourceType {
	case process.SourceRemoteMaven:
		if c.repoBaseURL == "" {
			return "", process.NewError(process.CodeConfiguration, "no remote repository base URL configured")
		}
		groupPath := strings.ReplaceAll(desc.GroupID, ".", "/")
		filename := fmt.Sprintf("%s-%s.lua", desc.ArtifactID, desc.Version)
		return fmt.Sprintf("%s/%s/%s/%s/%s",
			c.repoBaseURL, groupPath, desc.ArtifactID, desc.Version, filename), nil
	case process.SourceRemoteHTTP:
		if desc.SourceURI == "" {
			return "", process.NewError(process.CodeConfiguration,
				fmt.Sprintf("descriptor %q has no source URI", desc.ProcessID))
		}
		return desc.SourceURI, nil
	case process.SourceRemoteGit:
		return "", process.NewError(process.CodeUnsupported, "git plugin sources are not supported")
	default:
		return "", process.NewError(process.CodeConfiguration,
			fmt.Sprintf("source type %q is not remote", desc.SourceType))
	}
}

// cachePath returns the on-disk location for a descriptor's artifact.
func (c *ArtifactCache) cachePath(desc process.Descriptor, downloadURL string) (string, error) {
	switch desc.SourceType {
	case process.SourceRemoteMaven:
		groupPath := filepath.FromSlash(strings.ReplaceAll(desc.GroupID, ".", "/"))
		filename := fmt.Sprintf("%s-%s.lua", desc.ArtifactID, desc.Version)
		return filepath.Join(c.root, groupPath, desc.ArtifactID, desc.Version, filename), nil
	default:
		u, err := url.Parse(downloadURL)
		if err != nil {
			return "", process.WrapError(process.CodeConfiguration, "malformed download URL", err)
		}
		name := filepath.Base(u.Path)
		if name == "." || name == "/" {
			name = desc.ProcessID + "-" + desc.ResolvedVersion() + ".lua"
		}
		return filepath.Join(c.root, "http", u.Host, filepath.FromSlash(filepath.Dir(u.Path)), name), nil
	}
}

// cacheKey identifies an artifact: coordinates for Maven, identity for HTTP.
func cacheKey(desc process.Descriptor) string {
	if desc.SourceType == process.SourceRemoteMaven {
		return desc.GroupID + ":" + desc.ArtifactID + ":" + desc.Version
	}
	return desc.ProcessID + "@" + desc.ResolvedVersion()
}

// Fetch resolves a descriptor to a verified local artifact, downloading it
// when the cache cannot serve the request. The whole resolve-download-verify
// sequence is bounded by the caller's context deadline.
func (c *ArtifactCache) Fetch(ctx context.Context, desc process.Descriptor) (process.Artifact, error) {
	key := cacheKey(desc)

	if !desc.ForceReload {
		if artifact, ok := c.lookup(key); ok {
			return artifact, nil
		}
	}

	downloadURL, err := c.ResolveURL(desc)
	if err != nil {
		return process.Artifact{}, err
	}
	path, err := c.cachePath(desc, downloadURL)
	if err != nil {
		return process.Artifact{}, err
	}

	data, err := c.download(ctx, downloadURL)
	if err != nil {
		return process.Artifact{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return process.Artifact{}, fmt.Errorf("failed to create cache path: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return process.Artifact{}, fmt.Errorf("failed to cache artifact: %w", err)
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if desc.Checksum != "" && !strings.EqualFold(desc.Checksum, checksum) {
		// A corrupt or tampered artifact is never handed to the loader.
		_ = os.Remove(path)
		c.logger.Error("artifact checksum mismatch",
			"process_id", desc.ProcessID, "url", downloadURL,
			"expected", desc.Checksum, "actual", checksum)
		return process.Artifact{}, process.NewError(process.CodeChecksumMismatch,
			fmt.Sprintf("artifact for %q failed checksum verification", desc.ProcessID))
	}
	// Sibling checksum file for offline verification of the cache.
	_ = os.WriteFile(path+".sha256", []byte(checksum+"\n"), 0o644)

	artifact := process.Artifact{
		ProcessID:  desc.ProcessID,
		Version:    desc.ResolvedVersion(),
		SourceURL:  downloadURL,
		LocalPath:  path,
		Checksum:   checksum,
		Downloaded: time.Now().UnixMilli(),
	}
	c.store(key, artifact)

	c.logger.Info("artifact downloaded",
		"process_id", desc.ProcessID, "url", downloadURL, "path", path)
	return artifact, nil
}

// lookup returns a cached artifact if it is still present on disk.
func (c *ArtifactCache) lookup(key string) (process.Artifact, bool) {
	c.mu.RLock()
	artifact, ok := c.artifacts[key]
	c.mu.RUnlock()
	if !ok {
		return process.Artifact{}, false
	}
	if _, err := os.Stat(artifact.LocalPath); err != nil {
		// The file vanished underneath us; drop the stale entry.
		c.mu.Lock()
		delete(c.artifacts, key)
		c.mu.Unlock()
		return process.Artifact{}, false
	}
	return artifact, true
}

func (c *ArtifactCache) store(key string, artifact process.Artifact) {
	c.mu.Lock()
	c.artifacts[key] = artifact
	c.mu.Unlock()
}

// Invalidate drops a cached artifact by descriptor.
func (c *ArtifactCache) Invalidate(desc process.Descriptor) {
	c.mu.Lock()
	delete(c.artifacts, cacheKey(desc))
	c.mu.Unlock()
}

// download fetches the URL through the circuit breaker with bounded retry.
// A breaker rejection is terminal for this attempt; transient HTTP failures
// retry with exponential backoff until the context deadline.
func (c *ArtifactCache) download(ctx context.Context, downloadURL string) ([]byte, error) {
	var data []byte

	attempt := func() error {
		err := c.breaker.Execute(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
			if err != nil {
				return err
			}
			req.Header.Set("User-Agent", "flowplane/1.0")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("download failed with status %d", resp.StatusCode)
			}
			data, err = io.ReadAll(resp.Body)
			return err
		})
		if err != nil {
			var pe *process.Error
			if errors.As(err, &pe) && pe.Code == process.CodeCircuitOpen {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		if ctx.Err() != nil {
			// The deadline expired mid-transfer. Any partial state is left
			// for the next attempt's overwrite path; we do not delete it so
			// partial-success diagnostics stay available.
			return nil, process.WrapError(process.CodeTimeout,
				fmt.Sprintf("download of %s exceeded the configured timeout", downloadURL), err)
		}
		return nil, err
	}
	return data, nil
}

// VerifyCached re-checks a cached artifact against its sibling checksum
// file. Used by cache maintenance and the doctor command.
func (c *ArtifactCache) VerifyCached(path string) error {
	recorded, err := os.ReadFile(path + ".sha256")
	if err != nil {
		return fmt.Errorf("no checksum recorded for %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	if !strings.EqualFold(strings.TrimSpace(string(recorded)), hex.EncodeToString(sum[:])) {
		return process.NewError(process.CodeChecksumMismatch,
			fmt.Sprintf("cached artifact %s no longer matches its recorded checksum", path))
	}
	return nil
}

// Snapshot returns the currently cached artifacts.
func (c *ArtifactCache) Snapshot() []process.Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]process.Artifact, 0, len(c.artifacts))
	for _, a := range c.artifacts {
		out = append(out, a)
	}
	return out
}

// SaveIndex persists the cache index next to the artifacts so a restarted
// runtime can reuse verified downloads.
func (c *ArtifactCache) SaveIndex() error {
	c.mu.RLock()
	index := make(map[string]process.Artifact, len(c.artifacts))
	for k, v := range c.artifacts {
		index[k] = v
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.root, "index.json"), data, 0o644)
}

// LoadIndex restores the cache index written by SaveIndex, skipping entries
// whose files disappeared.
func (c *ArtifactCache) LoadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.root, "index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		localPath := value.Get("LocalPath").String()
		if _, err := os.Stat(localPath); err != nil {
			return true
		}
		c.artifacts[key.String()] = process.Artifact{
			ProcessID:  value.Get("ProcessID").String(),
			Version:    value.Get("Version").String(),
			SourceURL:  value.Get("SourceURL").String(),
			LocalPath:  localPath,
			Checksum:   value.Get("Checksum").String(),
			Downloaded: value.Get("Downloaded").Int(),
		}
		return true
	})
	return nil
}
