// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"multidrop/internal/ai"
	"multidrop/internal/geo"
	"multidrop/internal/http/handlers"
	"multidrop/internal/http/middleware"
	"multidrop/internal/infra"
)

type Deps struct {
	Routing  handlers.RoutingService
	Routes   handlers.RouteService
	Reader   handlers.RouteReader
	Alerts   handlers.AlertSource
	Narrator ai.Narrator
	Quota    handlers.SummaryQuota
	Verifier infra.TokenVerifier
	Travel   geo.TravelModel
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	routing := handlers.NewRoutingHandler(d.Routing, d.Alerts, d.Narrator)
	if d.Quota != nil {
		routing.WithQuota(d.Quota)
	}
	routes := handlers.NewRouteHandler(d.Routes, d.Reader, d.Travel)

	admin := r.Group("/api/admin", middleware.Auth(d.Verifier), middleware.RequireRole("admin", "operator"))
	admin.POST("/routing/run", routing.Run)
	admin.GET("/routing/runs", routing.ListRuns)
	admin.POST("/routing/runs/:id/cancel", routing.CancelRun)
	admin.GET("/routing/runs/:id/summary", routing.Summary)
	admin.GET("/routing/mode", routing.GetMode)
	admin.PUT("/routing/mode", routing.SetMode)
	admin.GET("/routing/alerts", routing.Alerts)

	admin.POST("/routes/analyze", routes.Analyze)
	admin.GET("/routes/:id", routes.Get)
	admin.POST("/routes/:id/assign", routes.Assign)
	admin.POST("/routes/:id/cancel", routes.Cancel)
	admin.POST("/routes/:id/status", routes.UpdateStatus)

	return r
}
