package transport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
	"github.com/eliteGoblin/focusd/sec_comp/internal/monitoring"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Resolver    domain.IdentityResolver
	Peer        PeerFunc // Defaults to PeerFromContext
	RateLimit   *RateLimitConfig
	Metrics     *monitoring.Metrics
	MetricsPath string
	Development bool
}

// NewRouter builds the API router.
func NewRouter(h *Handlers, opts RouterOptions, logger *zap.Logger) *gin.Engine {
	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Peer == nil {
		opts.Peer = PeerFromContext
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Metrics != nil {
		router.Use(monitoring.Middleware(opts.Metrics))
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(opts.Metrics.Handler()))
	}
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	v1.Use(Identity(opts.Peer, opts.Resolver, logger), RequestLogger(logger))
	if opts.RateLimit != nil {
		logger.Info("Rate limiting enabled",
			zap.Float64("rps", opts.RateLimit.RequestsPerSecond),
			zap.Int("burst", opts.RateLimit.Burst))
		v1.Use(RateLimit(*opts.RateLimit, opts.Metrics))
	}

	v1.POST("/components", h.Register)
	v1.PUT("/components/:id", h.Update)
	v1.DELETE("/components/:id", h.Unregister)
	v1.POST("/components/:id/click", h.ReportClick)
	v1.GET("/permissions/save", h.SavePermission)
	v1.POST("/processes/self", h.ProcessStarted)

	system := v1.Group("", SystemOnly())
	system.POST("/dialogs/:token", h.CompleteDialog)
	system.POST("/processes/:pid/:state", h.ProcessState)
	system.PUT("/windows/:id", h.SetWindow)
	system.DELETE("/windows/:id", h.RemoveWindow)
	system.GET("/dump", h.Dump)

	return router
}
