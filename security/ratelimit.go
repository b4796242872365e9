package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry pairs a token bucket with its LRU bookkeeping.
type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies per-identifier token bucket rate limiting with
// LRU eviction so the tracked set cannot grow without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*list.Element
	lruList  *list.List

	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	evictions int64
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewRateLimiter creates a rate limiter tracking at most maxEntries
// identifiers. maxEntries <= 0 falls back to 10000. A background
// goroutine drops limiters idle for 30 minutes; call Stop to end it.
func NewRateLimiter(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	rl := &RateLimiter{
		limiters:   make(map[string]*list.Element),
		lruList:    list.New(),
		rate:       requestsPerSecond,
		burst:      burst,
		maxEntries: maxEntries,
		logger:     logger,
		stop:       make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from the given identifier is within
// its rate budget, creating a limiter for new identifiers and evicting
// the least recently used one when at capacity.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[identifier]; ok {
		rl.lruList.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	if len(rl.limiters) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastAccess: now,
	}
	rl.limiters[identifier] = rl.lruList.PushFront(entry)

	return entry.limiter.Allow()
}

// evictOldest drops the least recently used entry. Caller holds the lock.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lruList.Remove(elem)
	rl.evictions++

	rl.logger.Debug("rate limiter eviction",
		"identifier", entry.identifier,
		"total_evictions", rl.evictions,
		"current_entries", len(rl.limiters))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(30 * time.Minute)
		case <-rl.stop:
			return
		}
	}
}

// Cleanup removes limiters that have been idle longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(rl.limiters, entry.identifier)
			rl.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
}

// Len returns the number of identifiers currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop ends the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
