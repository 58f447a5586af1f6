package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/api/sse"
	"github.com/ignite-rpg/ignite-api/audit"
	"github.com/ignite-rpg/ignite-api/backup"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/media"
	mw "github.com/ignite-rpg/ignite-api/middleware"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/scheduler"
	"github.com/ignite-rpg/ignite-api/social"
	"github.com/ignite-rpg/ignite-api/user"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps is everything the HTTP layer needs. main and the integration harness
// build it the same way.
type Deps struct {
	Config    *config.Config
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Users     *user.Directory
	Social    *social.Service
	Media     media.Store
	Backups   *backup.Exporter
	Scheduler *scheduler.Scheduler
	Audit     *audit.Service
	Logger    *zap.Logger
}

// NewRouter builds the gin engine with the middleware chain and every route.
// ctx bounds background goroutines started by middleware.
func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	RegisterValidators()

	cfg := d.Config
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(d.Logger), mw.Recovery(d.Logger), mw.Metrics(cfg.Server.ServiceName))
	if cfg.Security.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	}

	r.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := "ok"
		if sqlDB, err := d.DB.DB(); err != nil || sqlDB.PingContext(pingCtx) != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "service": cfg.Server.ServiceName})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := mw.Auth(cfg.Security, d.Cache, d.Users)

	authH := NewAuthHandler(d.Users, d.Cache, cfg.Security, d.Logger)
	socialH := NewSocialHandler(d.Social)
	charH := NewCharacterHandler(d.DB, d.Social, d.Media, cfg.Character, d.Logger)
	adminH := NewAdminHandler(d.Users, d.Scheduler, d.Backups, d.Audit, d.Logger)
	sseH := sse.NewHandler(d.PubSub, d.Cache, cfg.Security, d.Users, d.Logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		api.GET("/me", auth, authH.Me)

		// Registered outside the auth group: EventSource sends the token as a
		// query parameter.
		api.GET("/social/events", sseH.ServeEvents)

		socialG := api.Group("/social")
		socialG.Use(auth)
		socialG.GET("/friends", socialH.ListFriends)
		socialG.DELETE("/friends/:id", socialH.RemoveFriend)
		socialG.GET("/requests", socialH.ListRequests)
		socialG.POST("/requests", socialH.SendRequest)
		socialG.POST("/requests/:id/respond", socialH.Respond)
		socialG.POST("/block/:id", socialH.Block)
		socialG.GET("/blocked", socialH.ListBlocked)

		charsG := api.Group("/characters")
		charsG.Use(auth)
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.GET("/:id", charH.Get)
		charsG.PATCH("/:id", charH.Update)
		charsG.DELETE("/:id", charH.Delete)
		charsG.POST("/:id/portrait", charH.UploadPortrait)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs), auth, mw.RequireRole(model.RoleAdmin))
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.GET("/backups", adminH.ListBackups)
		adminG.POST("/backups", adminH.RunBackup)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.GET("/audit", adminH.QueryAudit)
	}
	return r
}
