package httpcache

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/emberfox-browser/netcore/netlog"
)

// cacheableStatus mirrors RFC 7231 §6.1's default cacheable-by-heuristics
// set; spec.md §4.6 calls this "status outside the cacheable set" without
// enumerating it, so this follows the HTTP spec's own default list.
var cacheableStatus = map[int]bool{
	200: true, 203: true, 204: true, 206: true,
	300: true, 301: true, 308: true,
	404: true, 405: true, 410: true, 414: true,
	501: true,
}

// Config mirrors conn.Opts's documented-defaults-over-zero-value shape,
// sourced from spec.md §6's cache.* configuration keys.
type Config struct {
	MaxMemoryBytes     int64
	MaxEntries         int
	DefaultTTL         time.Duration
	CleanupInterval    time.Duration
	CompressionEnabled bool
	EncryptionEnabled  bool
	Persistent         bool
	EntryBodyLimit     int64
}

// DefaultConfig returns spec.md §6's documented cache defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes:     64 << 20,
		MaxEntries:         10_000,
		DefaultTTL:         5 * time.Minute,
		CleanupInterval:    time.Minute,
		CompressionEnabled: true,
		EncryptionEnabled:  true,
		Persistent:         true,
		EntryBodyLimit:     8 << 20,
	}
}

// Stats counts cache outcomes, the way the teacher's X-From-Cache header
// values (hit/miss/stale/...) are per-response; Stats aggregates those
// across the cache's lifetime instead of per response.
type Stats struct {
	Hits                    uint64
	Misses                  uint64
	StaleHits               uint64
	Evictions               uint64
	BackgroundRevalidations uint64
}

// Cache is spec.md §4.6's cache: fingerprint keying over a memory tier
// (hot) backed by an optional disk tier (persistent across restarts),
// with RFC 7234 freshness/revalidation and single-flight origin-fetch
// coalescing.
type Cache struct {
	cfg  Config
	log  netlog.Logger
	mem  *MemoryTier
	disk *DiskTier // nil when NewCache was given no disk tier

	fetches *fetchGroup

	mu        sync.Mutex
	varyIndex map[string][]string // canonical URL -> Vary header names from the last response
	revalidateBackoff map[string]*backoff.Backoff

	stats Stats
}

// NewCache wires mem and an optional disk tier (pass nil to disable
// persistence) behind the cache API.
func NewCache(cfg Config, disk *DiskTier, log netlog.Logger) *Cache {
	return &Cache{
		cfg:               cfg,
		log:               log,
		mem:               NewMemoryTier(cfg.MaxMemoryBytes),
		disk:              disk,
		fetches:           newFetchGroup(),
		varyIndex:         make(map[string][]string),
		revalidateBackoff: make(map[string]*backoff.Backoff),
	}
}

func (c *Cache) varySetFor(u string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.varyIndex[u]
}

func (c *Cache) recordVary(u string, vary []string) {
	if len(vary) == 0 {
		return
	}
	c.mu.Lock()
	c.varyIndex[u] = vary
	c.mu.Unlock()
}

// fingerprintFor computes req's cache key against whatever Vary set was
// recorded for its URL by a previous response.
func (c *Cache) fingerprintFor(req *http.Request) string {
	vary := c.varySetFor(req.URL.String())
	return Fingerprint(req.Method, req.URL, req.Header, vary)
}

// Lookup returns the cached entry for req, pinning it against eviction
// while the caller holds it — callers must call Release when done.
func (c *Cache) Lookup(req *http.Request) (*CacheEntry, bool) {
	fp := c.fingerprintFor(req)
	if e, ok := c.mem.Get(fp); ok {
		c.mem.Pin(fp)
		atomic.AddUint64(&c.stats.Hits, 1)
		e.touch(time.Now())
		return e, true
	}
	if c.disk != nil {
		if e, ok := c.disk.Get(fp); ok {
			c.mem.Set(fp, e) // promote to the hot tier
			c.mem.Pin(fp)
			atomic.AddUint64(&c.stats.Hits, 1)
			e.touch(time.Now())
			return e, true
		}
	}
	atomic.AddUint64(&c.stats.Misses, 1)
	return nil, false
}

// Release unpins an entry previously returned by Lookup.
func (c *Cache) Release(req *http.Request) {
	c.mem.Unpin(c.fingerprintFor(req))
}

// Admissible reports whether resp for req qualifies for storage, per
// spec.md §4.6: no no-store, cacheable status, within the size cap.
func (c *Cache) Admissible(req *http.Request, resp *http.Response, bodyLen int) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	cc := parseCacheControlHeader(resp.Header)
	if _, ok := cc["no-store"]; ok {
		return false
	}
	if !cacheableStatus[resp.StatusCode] {
		return false
	}
	if int64(bodyLen) > c.cfg.EntryBodyLimit {
		return false
	}
	return true
}

// Store builds and inserts a CacheEntry for req/resp/body, compressing
// and stamping its integrity digest first. now is request/response time
// (both set equal here; a caller with separate timestamps can adjust
// after Store returns).
func (c *Cache) Store(req *http.Request, resp *http.Response, body []byte, now time.Time) *CacheEntry {
	fp := c.fingerprintFor(req)
	vary := headerCommaList(resp.Header, "Vary")
	c.recordVary(req.URL.String(), vary)

	entry := &CacheEntry{
		Fingerprint:  fp,
		Status:       resp.StatusCode,
		Header:       resp.Header.Clone(),
		Vary:         vary,
		RequestTime:  now,
		ResponseTime: now,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		CacheControl: parseCacheControlHeader(resp.Header),
		LastAccess:   now,
		OriginalSize: len(body),
	}
	if exp := resp.Header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			entry.ExplicitExpiry = t
		}
	}

	stored := body
	if c.cfg.CompressionEnabled {
		if scheme := chooseCompression(resp.Header.Get("Content-Type"), len(body)); scheme != "" {
			if compressed, err := compressBody(scheme, body); err == nil && len(compressed) < len(body) {
				stored = compressed
				entry.Compressed = scheme
			}
		}
	}
	entry.Body = stored
	entry.stampDigest()

	evicted := c.mem.Set(fp, entry)
	atomic.AddUint64(&c.stats.Evictions, uint64(len(evicted)))
	if c.disk != nil {
		for _, victim := range evicted {
			_ = c.disk.Set(victim.Fingerprint, victim) // demote, don't drop
		}
		if c.cfg.Persistent {
			_ = c.disk.Set(fp, entry)
		}
	}
	return entry
}

// Body decompresses entry's stored body, if it was compressed.
func (c *Cache) Body(entry *CacheEntry) ([]byte, error) {
	if entry.Compressed == "" {
		return entry.Body, nil
	}
	return decompressBody(entry.Compressed, entry.Body)
}

// RevalidationHeaders returns the conditional-request headers to attach
// when re-fetching a stale entry (spec.md §4.6: If-None-Match /
// If-Modified-Since).
func (c *Cache) RevalidationHeaders(entry *CacheEntry) http.Header {
	h := make(http.Header)
	if entry.ETag != "" {
		h.Set("If-None-Match", entry.ETag)
	}
	if entry.LastModified != "" {
		h.Set("If-Modified-Since", entry.LastModified)
	}
	return h
}

// ApplyNotModified merges a 304 response's headers into entry and refreshes
// its timestamps, per spec.md §4.6's revalidation rule.
func (c *Cache) ApplyNotModified(entry *CacheEntry, respHeaders http.Header, now time.Time) {
	for name, values := range respHeaders {
		if name == "Content-Length" || name == "Content-Encoding" {
			continue
		}
		entry.Header[name] = values
	}
	entry.ResponseTime = now
	entry.CacheControl = parseCacheControlHeader(entry.Header)
	if etag := respHeaders.Get("ETag"); etag != "" {
		entry.ETag = etag
	}
	fp := entry.Fingerprint
	c.mem.Set(fp, entry)
	if c.disk != nil && c.cfg.Persistent {
		_ = c.disk.Set(fp, entry)
	}
}

// Delete removes fingerprint from both tiers, used when a response turns
// out non-cacheable after all or a write invalidates a prior entry.
func (c *Cache) Delete(fingerprint string) {
	c.mem.Delete(fingerprint)
	if c.disk != nil {
		_ = c.disk.Delete(fingerprint)
	}
}

// Stats returns a snapshot of the cache's lifetime counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:                    atomic.LoadUint64(&c.stats.Hits),
		Misses:                  atomic.LoadUint64(&c.stats.Misses),
		StaleHits:               atomic.LoadUint64(&c.stats.StaleHits),
		Evictions:               atomic.LoadUint64(&c.stats.Evictions),
		BackgroundRevalidations: atomic.LoadUint64(&c.stats.BackgroundRevalidations),
	}
}

// FetchOrPopulate is spec.md §4.6 and §5's named coalescing entry point:
// look up req, serve it if fresh; if stale-serveable, return the stale
// body immediately and kick off a background conditional revalidation;
// otherwise (or on a miss) call origin exactly once per fingerprint even
// under concurrent callers, storing the result for next time.
func (c *Cache) FetchOrPopulate(req *http.Request, now time.Time, origin func(*http.Request) (*http.Response, []byte, error)) (*CacheEntry, error) {
	if entry, ok := c.Lookup(req); ok {
		if entry.Fresh(now) {
			return entry, nil
		}
		if entry.StaleServeable(now) {
			atomic.AddUint64(&c.stats.StaleHits, 1)
			go c.backgroundRevalidate(req, entry, origin)
			return entry, nil
		}
		c.Release(req)
	}

	fp := c.fingerprintFor(req)
	entry, err := c.fetches.Do(fp, func() (*CacheEntry, error) {
		resp, body, err := origin(req)
		if err != nil {
			return nil, err
		}
		if !c.Admissible(req, resp, len(body)) {
			return &CacheEntry{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
		}
		return c.Store(req, resp, body, now), nil
	})
	return entry, err
}

// backgroundRevalidate issues a conditional request for entry via the
// origin callback's retry pacing, identical in shape to
// zerortt.Store.OnRejected's use of jpillora/backoff: widen on repeated
// failure, reset on success, since a flapping origin shouldn't be hammered
// with conditional GETs every cleanup tick.
func (c *Cache) backgroundRevalidate(req *http.Request, entry *CacheEntry, origin func(*http.Request) (*http.Response, []byte, error)) {
	atomic.AddUint64(&c.stats.BackgroundRevalidations, 1)

	c.mu.Lock()
	b, ok := c.revalidateBackoff[entry.Fingerprint]
	if !ok {
		b = &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
		c.revalidateBackoff[entry.Fingerprint] = b
	}
	c.mu.Unlock()

	time.Sleep(b.Duration())
	c.log.Debug("background revalidation attempted", "fingerprint", entry.Fingerprint)

	cond := req.Clone(req.Context())
	for name, values := range c.RevalidationHeaders(entry) {
		cond.Header[name] = values
	}
	resp, body, err := origin(cond)
	if err != nil {
		return // b keeps its widened delay for the next attempt
	}
	b.Reset()
	if resp.StatusCode == http.StatusNotModified {
		c.ApplyNotModified(entry, resp.Header, time.Now())
	} else if c.Admissible(req, resp, len(body)) {
		c.Store(req, resp, body, time.Now())
	}
}

func headerCommaList(h http.Header, name string) []string {
	var out []string
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseCacheControlHeader(h http.Header) map[string]string {
	cc := make(map[string]string)
	for _, part := range strings.Split(h.Get("Cache-Control"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			cc[strings.TrimSpace(part[:i])] = strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
		} else {
			cc[part] = ""
		}
	}
	return cc
}
