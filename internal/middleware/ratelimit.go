package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	RequestsPerSecond float64       // Number of requests per second allowed
	BurstSize         int           // Maximum burst size
	CleanupInterval   time.Duration // How often to clean up idle limiters
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages rate limiters for different IP addresses
type IPRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	config   RateLimitConfig
}

// NewIPRateLimiter creates a limiter whose idle entries are swept until ctx
// is done.
func NewIPRateLimiter(ctx context.Context, config RateLimitConfig) *IPRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	limiter := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		config:   config,
	}
	go limiter.cleanupRoutine(ctx)
	return limiter
}

// GetLimiter returns the rate limiter for a specific IP
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	v, exists := i.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(i.config.RequestsPerSecond), i.config.BurstSize)}
		i.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (i *IPRateLimiter) size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.visitors)
}

func (i *IPRateLimiter) sweep(idle time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, v := range i.visitors {
		if time.Since(v.lastSeen) > idle {
			delete(i.visitors, ip)
		}
	}
}

func (i *IPRateLimiter) cleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.sweep(i.config.CleanupInterval)
		}
	}
}

// getClientIP extracts the real client IP address from the request
func getClientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		ip, _, _ := strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(ip)
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if realIP := c.GetHeader("X-Real-IP"); realIP != "" && net.ParseIP(realIP) != nil {
		return realIP
	}

	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return ip
}

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(getClientIP(c)).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// StrictRateLimit is applied to the credential endpoints on top of the
// configured limit.
var StrictRateLimit = RateLimitConfig{
	RequestsPerSecond: 5,
	BurstSize:         10,
	CleanupInterval:   5 * time.Minute,
}
