package httpemu

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/limelog"
)

const (
	identityKey     = "lime.identity"
	transportKeyKey = "lime.transportKey"
)

// corsMiddleware is grounded on the teacher's CORSMiddleware in
// pkg/meshstorage/api/middleware.go: wide-open headers suited to a
// public API gateway, generalized from a fixed origin list to
// AllowAll since LIME identities are already gated by Basic auth.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// loggingMiddleware is grounded on the teacher's color-coded
// LoggingMiddleware, generalized to route through pkg/limelog instead
// of a bare fmt.Printf call.
func loggingMiddleware(logger *limelog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", strconv.Itoa(c.Writer.Status()),
		).Infof("%s", time.Since(start))
	}
}

// transportKeyFor derives the legacy SHA-1-of-"name:password"
// transport_key used to key the per-identity transport cache, per the
// HTTP emulation layer's Basic-auth scheme.
func transportKeyFor(name, password string) string {
	sum := sha1.Sum([]byte(name + ":" + password))
	return hex.EncodeToString(sum[:])
}

// basicAuthMiddleware validates the Authorization: Basic header,
// resolves it to a lime.Identity, and stashes the identity and derived
// transport_key in the gin context for downstream handlers. Grounded
// on the teacher's AuthMiddleware (bearer-token lookup against a
// static map), generalized to HTTP Basic credentials and a derived
// cache key instead of an opaque bearer token.
func basicAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		name, password, ok := parseBasicAuth(c.GetHeader("Authorization"))
		if !ok || name == "" {
			c.Header("WWW-Authenticate", `Basic realm="lime"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid basic auth"})
			return
		}
		transportKey := transportKeyFor(name, password)

		domain := c.DefaultQuery("domain", "lime.local")
		if at := strings.IndexByte(name, '@'); at >= 0 {
			domain = name[at+1:]
			name = name[:at]
		}
		c.Set(identityKey, lime.Identity{Name: name, Domain: domain})
		c.Set(transportKeyKey, transportKey)
		c.Next()
	}
}

// basicAuthMiddlewareExcept wraps basicAuthMiddleware, skipping
// authentication for paths that must stay reachable without
// credentials (liveness and metrics probes).
func basicAuthMiddlewareExcept(exemptPaths ...string) gin.HandlerFunc {
	inner := basicAuthMiddleware()
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		inner(c)
	}
}

func parseBasicAuth(header string) (name, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	name, password, ok = strings.Cut(string(decoded), ":")
	return name, password, ok
}

// rateLimiter is grounded on the teacher's RateLimiter/RequestCounter
// in pkg/meshstorage/api/middleware.go, generalized from a per-IP
// token bucket to one keyed by the authenticated identity, since LIME
// callers are known by Basic-auth identity rather than source address.
type rateLimiter struct {
	mu          sync.Mutex
	perMinute   int
	windowStart map[string]time.Time
	count       map[string]int
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		perMinute:   perMinute,
		windowStart: make(map[string]time.Time),
		count:       make(map[string]int),
	}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	start, ok := r.windowStart[key]
	if !ok || now.Sub(start) > time.Minute {
		r.windowStart[key] = now
		r.count[key] = 1
		return true
	}
	r.count[key]++
	return r.count[key] <= r.perMinute
}

func rateLimitMiddleware(rl *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := c.Get(identityKey)
		key := c.ClientIP()
		if ok {
			key = identity.(lime.Identity).String()
		}
		if !rl.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
