package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/internal/app"
	"github.com/tallyhr/accesscore/internal/events"
	"github.com/tallyhr/accesscore/internal/handlers"
	"github.com/tallyhr/accesscore/internal/identity"
	"github.com/tallyhr/accesscore/internal/middleware"
	"github.com/tallyhr/accesscore/internal/realtime"
)

// Deps bundles the services the router wires handlers around.
type Deps struct {
	Manager     *access.Manager
	Tokens      *identity.Service
	Invalidator *events.Invalidator
	Feed        *realtime.LocalFeed
	Config      *app.Config
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("session manager must be provided")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token service must be provided")
	}
	if deps.Invalidator == nil {
		return nil, fmt.Errorf("invalidator must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.GET("/health", handlers.Health())
	if deps.Config.Server.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	requireAuth := middleware.Auth(deps.Tokens)

	api := r.Group("/api")
	api.Use(requireAuth)

	accessHandler := handlers.NewAccessHandler(deps.Manager)
	ac := api.Group("/access")
	{
		ac.POST("/check", accessHandler.Check)
		ac.POST("/check-batch", accessHandler.CheckBatch)
		ac.GET("/grants/:permission", accessHandler.Granted)
		ac.POST("/resource-check", accessHandler.ResourceCheck)
		ac.POST("/resource-filter", accessHandler.ResourceFilter)
	}

	eventHandler := handlers.NewEventHandler(deps.Invalidator, deps.Feed)
	api.POST("/events",
		middleware.RequirePermission(deps.Manager, "system.events"),
		eventHandler.Publish)
	api.POST("/invalidations",
		middleware.RequirePermission(deps.Manager, "system.events"),
		eventHandler.PushInvalidation)

	sessionHandler := handlers.NewSessionHandler(deps.Manager)
	api.DELETE("/sessions/:user_id",
		middleware.RequirePermission(deps.Manager, "system.settings"),
		sessionHandler.Evict)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
