// Package api exposes the minimal gin-based operational surface this
// service needs: a single /health endpoint reporting database reachability,
// consumer fleet degraded-mode state, and dispatch circuit breaker state.
// Generalizes the teacher's inline cmd/tarsy/main.go health handler from
// "one database status field" to the three-part health picture SPEC_FULL.md
// §6 requires; the business-facing HTTP/WS façade the teacher's own
// pkg/api provided is out of scope here (see DESIGN.md).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/patternctl/pkg/bus"
	"github.com/codeready-toolchain/patternctl/pkg/database"
	"github.com/codeready-toolchain/patternctl/pkg/dispatch"
	"github.com/codeready-toolchain/patternctl/pkg/version"
)

// FleetHealther is the subset of bus.Fleet the health handler needs,
// narrowed to an interface so this package doesn't force a concrete Fleet
// on callers that wire a degraded/no-op fleet in tests.
type FleetHealther interface {
	Health() bus.FleetHealth
}

// BreakerReporter is the subset of dispatch.Registry the health handler
// needs.
type BreakerReporter interface {
	BreakerState() map[string]string
}

// Deps is everything the health handler reads to answer a request.
type Deps struct {
	DB       *sqlx.DB
	Fleet    FleetHealther
	Registry BreakerReporter
}

// NewServer builds a gin.Engine with the /health route wired. ginMode
// is passed straight to gin.SetMode (GIN_MODE in Config), matching the
// teacher's main.go.
func NewServer(ginMode string, deps Deps) *gin.Engine {
	gin.SetMode(ginMode)
	router := gin.Default()
	router.GET("/health", healthHandler(deps))
	return router
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, deps.DB)
		status := http.StatusOK
		overall := "healthy"
		if err != nil {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		var fleetHealth any
		if deps.Fleet != nil {
			fleetHealth = deps.Fleet.Health()
		}
		var breakers map[string]string
		if deps.Registry != nil {
			breakers = deps.Registry.BreakerState()
		}

		c.JSON(status, gin.H{
			"status":           overall,
			"version":          version.Full(),
			"database":         dbHealth,
			"consumer_fleet":   fleetHealth,
			"circuit_breakers": breakers,
		})
	}
}

var _ FleetHealther = (*bus.Fleet)(nil)
var _ BreakerReporter = (*dispatch.Registry)(nil)
