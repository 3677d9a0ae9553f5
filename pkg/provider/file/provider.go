// Package file implements the storage provider over a local directory.
//
// Each storage area maps to one directory and keys are slash-separated paths
// beneath it. It backs local development and tests; it cannot issue signed
// URLs, so the submission handler needs an S3 results and raw area.
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/3leaps/geneflow/pkg/provider"
)

// Provider implements provider.ReadWriter for a local directory.
type Provider struct {
	baseDir string

	// mu is shared by every Provider over the same directory, so conditional
	// writes are serialized across instances within the process.
	mu *sync.Mutex
}

var (
	dirLocksMu sync.Mutex
	dirLocks   = map[string]*sync.Mutex{}
)

func lockFor(dir string) *sync.Mutex {
	dirLocksMu.Lock()
	defer dirLocksMu.Unlock()
	mu, ok := dirLocks[dir]
	if !ok {
		mu = &sync.Mutex{}
		dirLocks[dir] = mu
	}
	return mu
}

var (
	_ provider.ReadWriter        = (*Provider)(nil)
	_ provider.ObjectDeleter     = (*Provider)(nil)
	_ provider.ConditionalWriter = (*Provider)(nil)
)

type Config struct {
	BaseDir string

	// Create makes BaseDir if it does not exist.
	Create bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	if cfg.Create {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderFile, Bucket: base, Err: err}
		}
	}
	st, err := os.Stat(base)
	if err != nil || !st.IsDir() {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderFile, Bucket: base, Err: provider.ErrBucketNotFound}
	}
	lockKey := base
	if abs, err := filepath.Abs(base); err == nil {
		lockKey = abs
	}
	return &Provider{baseDir: base, mu: lockFor(lockKey)}, nil
}

// BaseDir returns the directory backing this area.
func (p *Provider) BaseDir() string { return p.baseDir }

func (p *Provider) Close() error { return nil }

// List returns keys under prefix in lexical order. The continuation token is
// the last key of the previous page.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	keys, err := p.collectKeys(prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}

	start := 0
	if opts.ContinuationToken != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > opts.ContinuationToken })
	}
	end := min(start+maxKeys, len(keys))

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		st, err := os.Stat(filepath.Join(p.baseDir, filepath.FromSlash(k)))
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, provider.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, p.wrapError("Head", key, fs.ErrNotExist)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), LastModified: st.ModTime()},
	}, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return f, st.Size(), nil
}

// GetObjectETag reads the whole object; the entity tag is its SHA-256.
func (p *Provider) GetObjectETag(ctx context.Context, key string) (io.ReadCloser, string, error) {
	_ = ctx
	data, err := p.readAll(key)
	if err != nil {
		return nil, "", p.wrapError("GetObject", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), etagOf(data), nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = ctx
	_ = contentLength
	if err := p.writeAtomic(key, body); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// PutObjectIfMatch writes key only while its content hash equals etag, or
// only if absent when etag is empty. The check holds for every Provider over
// the same directory within one process; separate processes are not
// coordinated.
func (p *Provider) PutObjectIfMatch(ctx context.Context, key string, body io.Reader, contentLength int64, etag string) error {
	_ = ctx
	_ = contentLength
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.readAll(key)
	switch {
	case err != nil && !os.IsNotExist(err):
		return p.wrapError("PutObject", key, err)
	case err != nil && etag != "":
		return p.wrapError("PutObject", key, provider.ErrPreconditionFailed)
	case err == nil && etag == "":
		return p.wrapError("PutObject", key, provider.ErrPreconditionFailed)
	case err == nil && etagOf(current) != etag:
		return p.wrapError("PutObject", key, provider.ErrPreconditionFailed)
	}

	if err := p.writeAtomic(key, body); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

func (p *Provider) readAll(key string) ([]byte, error) {
	full, err := p.fullPath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// writeAtomic stages body in a temp file next to the target and renames it.
func (p *Provider) writeAtomic(key string, body io.Reader) error {
	full, err := p.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".geneflow-put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, full)
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid key path %q", key)
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

// collectKeys walks the deepest directory named by prefix and keeps keys that
// start with it, so both "chrY/" and "job-" style prefixes work.
func (p *Provider) collectKeys(prefix string) ([]string, error) {
	root := p.baseDir
	if dir := pathDir(prefix); dir != "" {
		root = filepath.Join(p.baseDir, filepath.FromSlash(strings.TrimPrefix(path.Clean("/"+dir), "/")))
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(root, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".geneflow-put-") {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, walked)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func pathDir(prefix string) string {
	i := strings.LastIndex(prefix, "/")
	if i < 0 {
		return ""
	}
	return prefix[:i]
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
