// README: HTTP router registration.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sharedride/internal/http/handlers"
	"sharedride/internal/http/middleware"
	"sharedride/internal/infra"
	"sharedride/internal/modules/dispatch"
	"sharedride/internal/modules/user"
)

type RouterDeps struct {
	Rides    handlers.RideService
	Dispatch handlers.Dispatcher
	// Availability is nil when drivers publish availability elsewhere.
	Availability dispatch.AvailabilityWriter
	Hub          *dispatch.Hub
	Verifier     infra.TokenVerifier
	Checks       map[string]handlers.Pinger
	Log          zerolog.Logger
}

func NewRouter(d RouterDeps) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Metrics(), middleware.Logging(d.Log))

	health := handlers.NewHealthHandler(d.Checks)
	r.GET("/health", health.Live)
	r.GET("/health/live", health.Live)
	r.GET("/health/ready", health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(d.Verifier))

	rides := handlers.NewRideHandler(d.Rides, d.Dispatch, d.Log)
	passenger := api.Group("/rides")
	passenger.POST("", middleware.RequireRole(user.RolePassenger), rides.Create)
	passenger.GET("", middleware.RequireRole(user.RolePassenger), rides.List)
	passenger.GET("/:id", rides.Get)
	passenger.POST("/:id/cancel", rides.Cancel)

	drivers := handlers.NewDriverHandler(d.Rides, d.Dispatch, d.Availability, d.Log)
	driver := api.Group("/drivers", middleware.RequireRole(user.RoleDriver))
	driver.PUT("/availability", drivers.SetAvailability)
	driver.GET("/rides/open", drivers.ListOpen)
	driver.GET("/rides/pending", drivers.ListPending)
	driver.POST("/rides/:id/accept", drivers.Accept)
	driver.POST("/rides/:id/reject", drivers.Reject)
	driver.POST("/rides/:id/start", drivers.Start)
	driver.POST("/rides/:id/complete", drivers.Complete)

	if d.Hub != nil {
		ws := handlers.NewWSHandler(d.Hub, d.Log)
		api.GET("/ws", ws.Stream)
	}
	return r, nil
}
