package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL        = time.Hour
	defaultFetchTimeout    = 5 * time.Second
	defaultRefreshInterval = 30 * time.Second
	defaultMaxBodySize     = 1 << 20
)

// CacheConfig configures a JWKS Cache.
type CacheConfig struct {
	// TTL is how long a fetched document is reused. Defaults to 1h.
	TTL time.Duration

	// FetchTimeout bounds a single fetch. Defaults to 5s.
	FetchTimeout time.Duration

	// RefreshInterval is the minimum distance between forced refetches of
	// one URL after a kid miss. Defaults to 30s.
	RefreshInterval time.Duration

	// MaxBodySize limits the JWKS document size. Defaults to 1 MiB.
	MaxBodySize int64

	// Client performs fetches. Defaults to a client without a global
	// timeout; FetchTimeout applies per request.
	Client *http.Client

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type cacheEntry struct {
	doc        *JWKS
	fetchedAt  time.Time
	lastForced time.Time
}

// Cache fetches and caches JWKS documents by URL. It is safe for concurrent
// use; concurrent misses for the same URL share one fetch.
type Cache struct {
	cfg     CacheConfig
	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*cacheEntry
	gen     map[string]uint64
}

// NewCache creates a Cache, applying defaults for zero config values.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}

	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}

	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*cacheEntry),
		gen:     make(map[string]uint64),
	}
}

// Get returns the cached document for url, fetching it when absent or
// older than the TTL.
func (c *Cache) Get(ctx context.Context, url string) (*JWKS, error) {
	c.mu.Lock()
	entry, ok := c.entries[url]
	if ok && c.cfg.Now().Sub(entry.fetchedAt) < c.cfg.TTL {
		doc := entry.doc
		c.mu.Unlock()

		return doc, nil
	}
	c.mu.Unlock()

	return c.load(ctx, url)
}

// Refresh refetches url unless a forced refetch already happened within
// the refresh interval. The boolean reports whether a fetch was attempted.
func (c *Cache) Refresh(ctx context.Context, url string) (*JWKS, bool, error) {
	now := c.cfg.Now()

	c.mu.Lock()
	entry, ok := c.entries[url]
	if ok && now.Sub(entry.lastForced) < c.cfg.RefreshInterval {
		doc := entry.doc
		c.mu.Unlock()

		return doc, false, nil
	}

	if ok {
		entry.lastForced = now
	}
	c.mu.Unlock()

	doc, err := c.load(ctx, url)

	return doc, true, err
}

// Invalidate evicts url synchronously; the next Get refetches. A fetch
// already in flight for url does not repopulate the cache.
func (c *Cache) Invalidate(url string) {
	c.mu.Lock()
	delete(c.entries, url)
	c.gen[url]++
	c.mu.Unlock()

	c.group.Forget(url)
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) load(ctx context.Context, url string) (*JWKS, error) {
	c.mu.Lock()
	gen := c.gen[url]
	c.mu.Unlock()

	ch := c.group.DoChan(url, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()

		doc, err := c.fetch(fctx, url)
		if err != nil {
			c.cfg.Logger.Warn().Err(err).Str("jwks_url", url).Msg("jwks fetch failed")
			return nil, err
		}

		c.store(url, gen, doc)

		return doc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*JWKS), nil

	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, ctx.Err())
	}
}

func (c *Cache) store(url string, gen uint64, doc *JWKS) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen[url] != gen {
		return
	}

	entry, ok := c.entries[url]
	if !ok {
		entry = &cacheEntry{}
		c.entries[url] = entry
	}

	entry.doc = doc
	entry.fetchedAt = c.cfg.Now()
}

func (c *Cache) fetch(ctx context.Context, url string) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	req.Header.Set("Accept", "application/jwk-set+json, application/json")

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	if int64(len(body)) > c.cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrFetchFailed, c.cfg.MaxBodySize)
	}

	var doc JWKS
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWKS, err)
	}

	if doc.Keys == nil {
		return nil, fmt.Errorf("%w: missing keys", ErrInvalidJWKS)
	}

	return &doc, nil
}
