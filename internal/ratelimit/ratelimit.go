// Package ratelimit implements the Scheduler's per-domain admission
// policy, offering both a process-local and an externalized backend
// behind one interface so multiple Scheduler replicas can share state.
package ratelimit

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	gocache "github.com/patrickmn/go-cache"

	"github.com/talemon/core/config"
)

// DomainLimiter decides whether a domain may be admitted into the current
// dispatch batch. Admit is called once per candidate Page in the order the
// Scheduler pulled rows; implementations must be safe for concurrent use
// from a single goroutine per tick.
type DomainLimiter interface {
	Admit(domain string) bool
}

// New selects a DomainLimiter implementation from scheduler.rate_limit.backend.
func New(cfg *config.RateLimitConfig) DomainLimiter {
	if cfg == nil {
		return NewLocalLimiter(&config.RateLimitConfig{RequestsPerWindow: 1, Window: time.Second})
	}
	switch cfg.Backend {
	case "memcached":
		return NewMemcachedLimiter(cfg)
	default:
		return NewLocalLimiter(cfg)
	}
}

// LocalLimiter is a process-local fixed-window counter backed by an
// in-process TTL cache: a domain's window starts at its first admission and
// expires cfg.Window later, after which counting starts again from zero.
type LocalLimiter struct {
	cache *gocache.Cache
	cfg   *config.RateLimitConfig
	mu    sync.Mutex
}

func NewLocalLimiter(cfg *config.RateLimitConfig) *LocalLimiter {
	return &LocalLimiter{
		cache: gocache.New(cfg.Window, cfg.Window/2),
		cfg:   cfg,
	}
}

func (l *LocalLimiter) Admit(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	if v, ok := l.cache.Get(domain); ok {
		count = v.(int)
	}
	if count >= l.cfg.RequestsPerWindow {
		slog.Debug("domain rate limited.", slog.String("domain", domain))
		return false
	}
	if count == 0 || l.cache.Increment(domain, 1) != nil {
		l.cache.Set(domain, 1, l.cfg.Window)
	}
	return true
}

// MemcachedLimiter stores the same fixed-window counters in memcached so
// multiple Scheduler replicas share admission state rather than each
// independently admitting up to the per-domain limit, which would produce
// an additive effective rate across replicas.
type MemcachedLimiter struct {
	client *memcache.Client
	cfg    *config.RateLimitConfig
}

func NewMemcachedLimiter(cfg *config.RateLimitConfig) *MemcachedLimiter {
	slog.Info("connecting to memcached rate limiter backend...")
	ss := new(memcache.ServerList)
	if err := ss.SetServers(cfg.MemcachedServers...); err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := memcache.NewFromSelector(ss)
	if err := c.Ping(); err != nil {
		slog.Error("connection to the memcached rate limiter is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached rate limiter backend.")

	return &MemcachedLimiter{client: c, cfg: cfg}
}

func (l *MemcachedLimiter) Admit(domain string) bool {
	key := domainKey(domain)
	n, err := l.client.Increment(key, 1)
	if err != nil {
		if err == memcache.ErrCacheMiss {
			if setErr := l.client.Set(&memcache.Item{
				Key:        key,
				Value:      []byte("1"),
				Expiration: int32(l.cfg.Window.Seconds()),
			}); setErr != nil {
				slog.Warn("failed to seed rate limit counter.", slog.String("domain", domain),
					slog.String("err", setErr.Error()))
				return true
			}
			return true
		}
		slog.Warn("rate limiter backend error, admitting by default.", slog.String("domain", domain),
			slog.String("err", err.Error()))
		return true
	}
	if n > uint64(l.cfg.RequestsPerWindow) {
		slog.Debug("domain rate limited.", slog.String("domain", domain))
		return false
	}
	return true
}

func domainKey(domain string) string {
	return fmt.Sprintf("talemon-ratelimit-%s", domain)
}
