package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ── API rate limiter ──────────────────────────────────────────────────────────
// Fixed window per key. The key is the business id when the request is
// authenticated and the client IP otherwise, so one busy tenant cannot starve
// the others behind a shared NAT.

type rateEntry struct {
	count     int
	windowEnd time.Time
	mu        sync.Mutex
}

type rateLimiter struct {
	limit   int
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*rateEntry
}

// RateLimiter allows limit requests per window per key. A non-positive limit disables it.
func RateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	rl := &rateLimiter{limit: limit, window: window, entries: make(map[string]*rateEntry)}
	go rl.purgeLoop(purgeInterval)
	return rl.handle
}

func (rl *rateLimiter) handle(c *gin.Context) {
	key := c.ClientIP()
	if v, ok := c.Get(ClaimsKey); ok {
		if claims, ok := v.(*JWTClaims); ok && claims.BusinessID != "" {
			key = "biz:" + claims.BusinessID
		}
	}

	rl.mu.Lock()
	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateEntry{}
		rl.entries[key] = entry
	}
	rl.mu.Unlock()

	entry.mu.Lock()
	now := time.Now()
	if now.After(entry.windowEnd) {
		entry.count = 0
		entry.windowEnd = now.Add(rl.window)
	}
	entry.count++
	over := entry.count > rl.limit
	windowEnd := entry.windowEnd
	entry.mu.Unlock()

	if over {
		c.Header("Retry-After", retryAfterSeconds(windowEnd.Sub(now)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("too many requests, try again shortly"))
		return
	}
	c.Next()
}

// retryAfterSeconds renders the wait as delta-seconds, rounded up and at least 1.
func retryAfterSeconds(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ── Purge goroutine ───────────────────────────────────────────────────────────

const purgeInterval = 5 * time.Minute

func (rl *rateLimiter) purgeLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		if n := rl.purge(time.Now()); n > 0 {
			log.Debug().Int("purged", n).Msg("rate limiter entries purged")
		}
	}
}

func (rl *rateLimiter) purge(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	purged := 0
	for key, entry := range rl.entries {
		entry.mu.Lock()
		if now.After(entry.windowEnd) {
			delete(rl.entries, key)
			purged++
		}
		entry.mu.Unlock()
	}
	return purged
}
