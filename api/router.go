// Package api exposes the integrity services over HTTP.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmdatafocus/recipe_integrity/bootstrap"
	"github.com/mmdatafocus/recipe_integrity/middlewares"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

// NewRouter builds the gin engine for svc. /healthz, /metrics and the Pub/Sub
// push endpoint sit outside the token check.
func NewRouter(svc *bootstrap.Services) *gin.Engine {
	server := svc.Settings.Server
	h := &Handler{svc: svc}

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.DefaultConfig()
	if server.Production() {
		corsConfig.AllowOrigins = utils.SplitAndTrim(server.CorsAllowedOrigins)
		if corsConfig.AllowOrigins == nil {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.RequestLogger(svc.Logger))
	r.Use(gin.Recovery())

	g := r.Group("/api/integrity", middlewares.TokenMiddleware(server.ApiToken))

	g.GET("/products/:id/validation", h.ProductValidation())
	g.POST("/products/validate", h.ValidateBatch())
	g.POST("/products/:id/revalidate", h.ForceValidate())
	g.POST("/products/:id/repair", h.RepairProduct())

	g.GET("/health", h.GlobalHealth())
	g.GET("/health/export", h.ExportHealth())
	g.GET("/stores/:id/health", h.StoreHealth())
	g.POST("/stores/:id/repair", h.RepairStore())

	g.GET("/clusters", h.Clusters())
	g.POST("/clusters", h.RegisterCluster())
	g.POST("/clusters/:id/sync", h.SyncCluster())
	g.GET("/syncs", h.Syncs())

	g.GET("/queue", h.QueueStatus())
	g.POST("/queue", h.Enqueue())

	g.GET("/automation/rules", h.Rules())
	g.POST("/automation/rules", h.RegisterRule())
	g.POST("/automation/rules/:id/execute", h.ExecuteRule())
	g.POST("/automation/events/:name", h.HandleEvent())
	g.GET("/automation/executions", h.Executions())
	g.GET("/automation/maintenance", h.Maintenance())

	g.GET("/settings", h.RuntimeSettings())

	r.POST("/pubsub/integrity-changes", h.PubSubPush())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}
