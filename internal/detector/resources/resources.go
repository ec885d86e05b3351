// Package resources fetches detector model files into local storage.
//
// Files are downloaded from a base URL once and stored under a flat storage
// directory using sanitized names. Later loads reuse the stored copy, and
// resolved paths are memoized so a restarted session skips the filesystem checks.
package resources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/hotword-go/internal/detector"
	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/logger"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultMaxBytes = 64 << 20
	cacheTTL        = time.Hour
)

var nonWord = regexp.MustCompile(`\W`)

// SanitizeName maps a resource name to a flat file name. Every non word
// character becomes an underscore.
func SanitizeName(name string) string {
	return nonWord.ReplaceAllString(name, "_")
}

// Config configures a Fetcher.
type Config struct {
	BaseURL     string
	StoragePath string
	Timeout     time.Duration
	MaxBytes    int64
	Client      *http.Client
	Logger      logger.Logger
}

// Fetcher downloads and caches resource files.
type Fetcher struct {
	cfg    Config
	client *http.Client
	cache  *cache.Cache
	group  singleflight.Group
	log    logger.Logger
}

// NewFetcher creates a fetcher. The storage directory is created on first use.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.StoragePath == "" {
		return nil, errors.Newf("resource storage path is required").
			Component("detector.resources").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("detector").Module("resources")
	}

	return &Fetcher{
		cfg:    cfg,
		client: client,
		cache:  cache.New(cacheTTL, 0),
		log:    log,
	}, nil
}

// Resolve returns the local resource and model paths, fetching them when missing.
// The model is fetched before the resource file. An empty name is skipped.
func (f *Fetcher) Resolve(ctx context.Context, resourceName, modelName string) (detector.Resources, error) {
	if err := ctx.Err(); err != nil {
		return detector.Resources{}, err
	}

	var res detector.Resources
	var err error
	if modelName != "" {
		if res.ModelPath, err = f.Fetch(ctx, modelName); err != nil {
			return detector.Resources{}, err
		}
	}
	if resourceName != "" {
		if res.ResourcePath, err = f.Fetch(ctx, resourceName); err != nil {
			return detector.Resources{}, err
		}
	}
	return res, nil
}

// Fetch returns the local path of name, downloading it if it is not stored yet.
//
// Concurrent callers for the same name share one download. A caller whose
// ctx ends stops waiting, but the download continues for the others and is
// bounded by the configured timeout.
func (f *Fetcher) Fetch(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if cached, ok := f.cache.Get(name); ok {
		if path, ok := cached.(string); ok {
			return path, nil
		}
	}

	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(name, func() (any, error) {
		dlCtx, cancel := context.WithTimeout(shared, f.cfg.Timeout)
		defer cancel()
		return f.fetchOnce(dlCtx, name)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		path := r.Val.(string)
		f.cache.SetDefault(name, path)
		return path, nil
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, name string) (string, error) {
	path := filepath.Join(f.cfg.StoragePath, SanitizeName(name))
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f.log.Debug("Reusing stored resource", logger.String("name", name), logger.String("path", path))
		return path, nil
	}
	if err := os.MkdirAll(f.cfg.StoragePath, 0o755); err != nil {
		return "", errors.New(err).
			Component("detector.resources").
			Category(errors.CategoryFileIO).
			FileContext(f.cfg.StoragePath, 0).
			Build()
	}
	if err := f.download(ctx, name, path); err != nil {
		return "", err
	}
	return path, nil
}

// Forget drops memoized paths so the next Fetch checks storage again.
func (f *Fetcher) Forget() {
	f.cache.Flush()
}

func (f *Fetcher) download(ctx context.Context, name, path string) error {
	url := resourceURL(f.cfg.BaseURL, name)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return errors.New(err).
			Component("detector.resources").
			Category(errors.CategoryNetwork).
			NetworkContext(url, f.cfg.Timeout).
			Build()
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("detector.resources").
			Category(errors.CategoryNetwork).
			NetworkContext(url, f.cfg.Timeout).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		cat := errors.CategoryHTTP
		if resp.StatusCode == http.StatusNotFound {
			cat = errors.CategoryNotFound
		}
		return errors.Newf("fetch %s: unexpected status %d", name, resp.StatusCode).
			Component("detector.resources").
			Category(cat).
			NetworkContext(url, f.cfg.Timeout).
			Context("status", resp.StatusCode).
			Build()
	}

	tmp, err := os.CreateTemp(f.cfg.StoragePath, ".fetch-*")
	if err != nil {
		return errors.New(err).
			Component("detector.resources").
			Category(errors.CategoryFileIO).
			FileContext(f.cfg.StoragePath, 0).
			Build()
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.New(err).
			Component("detector.resources").
			Category(errors.CategoryNetwork).
			NetworkContext(url, f.cfg.Timeout).
			Build()
	}
	if n > f.cfg.MaxBytes {
		return errors.Newf("fetch %s: body exceeds %d bytes", name, f.cfg.MaxBytes).
			Component("detector.resources").
			Category(errors.CategoryLimit).
			Build()
	}
	if n == 0 {
		return errors.Newf("fetch %s: empty body", name).
			Component("detector.resources").
			Category(errors.CategoryValidation).
			Build()
	}

	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(err).
			Component("detector.resources").
			Category(errors.CategoryFileIO).
			FileContext(path, n).
			Build()
	}

	f.log.Info("Fetched resource",
		logger.String("name", name),
		logger.String("path", path),
		logger.Int64("bytes", n),
		logger.Duration("took", time.Since(start)))
	return nil
}

func resourceURL(base, name string) string {
	if base == "" || strings.Contains(name, "://") {
		return name
	}
	if strings.HasSuffix(base, "/") {
		return base + name
	}
	return fmt.Sprintf("%s/%s", base, name)
}
