package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/infra"
	"github.com/eliteGoblin/focusd/sec_comp/internal/monitoring"
)

type peerKey struct{}

const callerKey = "caller"

// PeerFunc returns the kernel identity of the request's peer.
type PeerFunc func(r *http.Request) (infra.PeerCred, bool)

// ConnContext stores SO_PEERCRED of each accepted connection in its context.
func ConnContext(logger *zap.Logger) func(ctx context.Context, c net.Conn) context.Context {
	return func(ctx context.Context, c net.Conn) context.Context {
		cred, err := infra.ReadPeerCred(c)
		if err != nil {
			logger.Debug("peer credentials unavailable", zap.Error(err))
			return ctx
		}
		return context.WithValue(ctx, peerKey{}, cred)
	}
}

// PeerFromContext reads the credentials stored by ConnContext.
func PeerFromContext(r *http.Request) (infra.PeerCred, bool) {
	cred, ok := r.Context().Value(peerKey{}).(infra.PeerCred)
	return cred, ok
}

// Identity resolves the caller and stores it on the gin context.
func Identity(peer PeerFunc, resolver domain.IdentityResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := peer(c.Request)
		if !ok {
			abortWithError(c, domain.Errorf(domain.ErrValueInvalid, "caller identity unavailable"))
			return
		}
		caller, err := resolver.Resolve(c.Request.Context(), cred.PID, cred.UID)
		if err != nil {
			logger.Warn("caller rejected", zap.Int32("pid", cred.PID), zap.Int32("uid", cred.UID), zap.Error(err))
			abortWithError(c, err)
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// SystemOnly rejects callers that are not trusted system components.
func SystemOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !callerOf(c).System {
			abortWithError(c, domain.Errorf(domain.ErrCallerInvalid, "system caller required"))
			return
		}
		c.Next()
	}
}

func callerOf(c *gin.Context) domain.CallerInfo {
	v, _ := c.Get(callerKey)
	caller, _ := v.(domain.CallerInfo)
	return caller
}

// RateLimitConfig defines per-process rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration // Limiters unused this long are dropped
}

// DefaultRateLimitConfig returns default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

// RateLimit creates a per-pid rate limiting middleware. It must run after
// Identity.
func RateLimit(cfg RateLimitConfig, metrics *monitoring.Metrics) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[int32]*client)
		swept   = time.Now()
	)

	return func(c *gin.Context) {
		pid := callerOf(c).PID
		now := time.Now()

		mu.Lock()
		if cfg.IdleTTL > 0 && now.Sub(swept) > cfg.IdleTTL {
			for p, cl := range clients {
				if now.Sub(cl.lastSeen) > cfg.IdleTTL {
					delete(clients, p)
				}
			}
			swept = now
		}
		cl, ok := clients[pid]
		if !ok {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[pid] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			if metrics != nil {
				metrics.RateLimited.Inc()
			}
			abortWithStatus(c, http.StatusTooManyRequests,
				domain.Errorf(domain.ErrValueInvalid, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// RequestLogger logs each request at debug level.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int32("pid", callerOf(c).PID),
			zap.Duration("latency", time.Since(start)))
	}
}
