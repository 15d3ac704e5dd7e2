// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/mediacore/internal/library"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// MaxImageBytes caps a fetched image.
const MaxImageBytes = 16 << 20

var (
	ErrInvalidImageID = errors.New("invalid image id")
	ErrImageNotFound  = errors.New("image not found")
	ErrImageTooLarge  = errors.New("image exceeds size limit")
	// ErrImageForbidden rejects locations outside the allowed roots and hosts.
	ErrImageForbidden = errors.New("image location not allowed")
)

var imageFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediacore_image_fetch_total",
	Help: "Image fetches by outcome",
}, []string{"result"})

var imageIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ImageFetcherConfig tunes an ImageFetcher.
type ImageFetcherConfig struct {
	CacheDir     string
	RatePerSec   float64
	Burst        int
	FetchTimeout time.Duration
	// NegativeTTL remembers missing images so repeated requests stay local.
	NegativeTTL time.Duration
	// LocalRoots are the only directories local locations may resolve into.
	LocalRoots []string
	// RemoteHosts lists the hosts http(s) locations may name. Empty disables
	// remote fetches.
	RemoteHosts []string
}

// ImageFetcher serves images from a local cache, fetching misses from their
// location at a bounded rate.
type ImageFetcher struct {
	conf    ImageFetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	negMu sync.Mutex
	neg   map[string]time.Time
}

func NewImageFetcher(conf ImageFetcherConfig) (*ImageFetcher, error) {
	if conf.CacheDir == "" {
		return nil, errors.New("image cache dir is required")
	}
	if err := os.MkdirAll(conf.CacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("create image cache dir: %w", err)
	}
	if conf.RatePerSec <= 0 {
		conf.RatePerSec = 4
	}
	if conf.Burst <= 0 {
		conf.Burst = 1
	}
	if conf.FetchTimeout <= 0 {
		conf.FetchTimeout = 15 * time.Second
	}
	if conf.NegativeTTL <= 0 {
		conf.NegativeTTL = 10 * time.Minute
	}
	f := &ImageFetcher{
		conf:    conf,
		limiter: rate.NewLimiter(rate.Limit(conf.RatePerSec), conf.Burst),
		now:     time.Now,
		neg:     make(map[string]time.Time),
	}
	f.client = &http.Client{
		Timeout: conf.FetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return f.checkRemote(req.URL)
		},
	}
	return f, nil
}

// cacheKey ties a cached file to both the id and the location it came from,
// so one id fetched from two locations never shares an entry.
func cacheKey(id, location string) string {
	sum := sha256.Sum256([]byte(location))
	return id + "-" + hex.EncodeToString(sum[:8])
}

func (f *ImageFetcher) Handle(ctx context.Context, req ImageFetchRequest) (ImageFetchResult, error) {
	if !imageIDPattern.MatchString(req.ImageID) {
		return ImageFetchResult{}, fmt.Errorf("%w: %q", ErrInvalidImageID, req.ImageID)
	}
	logger := log.FromContext(ctx).With().Str("image_id", req.ImageID).Logger()
	if req.Location == "" {
		return ImageFetchResult{}, fmt.Errorf("%w: no location for %s", ErrImageNotFound, req.ImageID)
	}
	key := cacheKey(req.ImageID, req.Location)
	cachePath := filepath.Join(f.conf.CacheDir, key)

	if data, err := os.ReadFile(cachePath); err == nil {
		imageFetchTotal.WithLabelValues("hit_disk").Inc()
		return ImageFetchResult{Data: data, ContentType: http.DetectContentType(data), Cached: true}, nil
	}
	if f.isNegCached(key) {
		imageFetchTotal.WithLabelValues("negcache").Inc()
		return ImageFetchResult{}, ErrImageNotFound
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return ImageFetchResult{}, err
	}
	data, err := f.fetch(ctx, req.Location)
	if err != nil {
		switch {
		case errors.Is(err, ErrImageNotFound):
			f.setNeg(key)
			imageFetchTotal.WithLabelValues("notfound").Inc()
		case errors.Is(err, ErrImageForbidden):
			logger.Warn().Err(err).Str("event", "image.location_denied").Msg("image location rejected")
			imageFetchTotal.WithLabelValues("denied").Inc()
		default:
			imageFetchTotal.WithLabelValues("error").Inc()
		}
		return ImageFetchResult{}, err
	}

	if err := writeCacheFile(cachePath, data); err != nil {
		logger.Warn().Err(err).Str("event", "image.cache_write_failed").Msg("image fetched but not cached")
	}
	imageFetchTotal.WithLabelValues("downloaded").Inc()
	return ImageFetchResult{Data: data, ContentType: http.DetectContentType(data)}, nil
}

func (f *ImageFetcher) fetch(ctx context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return f.readLocal(strings.TrimPrefix(location, "file://"))
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageForbidden, err)
	}
	if err := f.checkRemote(u); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrImageForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, location)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	return readAllLimited(resp.Body)
}

func (f *ImageFetcher) readLocal(path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: relative path", ErrImageForbidden)
	}
	resolved, err := library.Confine(f.conf.LocalRoots, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, filepath.Base(path))
	case errors.Is(err, library.ErrPathEscape):
		return nil, fmt.Errorf("%w: outside library roots", ErrImageForbidden)
	case err != nil:
		return nil, fmt.Errorf("resolve image path: %w", err)
	}
	return readLimited(resolved)
}

func (f *ImageFetcher) checkRemote(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrImageForbidden, u.Scheme)
	}
	host := u.Hostname()
	for _, h := range f.conf.RemoteHosts {
		if strings.EqualFold(h, host) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q", ErrImageForbidden, host)
}

func readLimited(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return readAllLimited(fh)
}

func readAllLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

// writeCacheFile replaces path atomically and durably.
func writeCacheFile(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending image file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write image data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace image file: %w", err)
	}
	return nil
}

func (f *ImageFetcher) isNegCached(id string) bool {
	f.negMu.Lock()
	defer f.negMu.Unlock()
	exp, ok := f.neg[id]
	if !ok {
		return false
	}
	if f.now().After(exp) {
		delete(f.neg, id)
		return false
	}
	return true
}

func (f *ImageFetcher) setNeg(id string) {
	f.negMu.Lock()
	f.neg[id] = f.now().Add(f.conf.NegativeTTL)
	f.negMu.Unlock()
}
