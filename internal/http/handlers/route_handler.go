// README: Route lookup, manual assignment, status progress and cancellation, and the what-if capacity analysis.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"multidrop/internal/geo"
	"multidrop/internal/http/middleware"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/route"
	"multidrop/internal/modules/validator"
	"multidrop/internal/types"
)

type RouteService interface {
	AssignRoute(ctx context.Context, routeID, driverID types.ID, actorID string) (*route.Route, error)
	CancelRoute(ctx context.Context, routeID types.ID, actorID string) ([]types.ID, error)
	AdvanceRoute(ctx context.Context, routeID types.ID, to route.Status, actorID string) (*route.Route, error)
}

type RouteReader interface {
	Get(ctx context.Context, id types.ID) (*route.Route, error)
}

type RouteHandler struct {
	svc    RouteService
	routes RouteReader
	travel geo.TravelModel
}

func NewRouteHandler(svc RouteService, routes RouteReader, travel geo.TravelModel) *RouteHandler {
	return &RouteHandler{svc: svc, routes: routes, travel: travel}
}

func (h *RouteHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	r, err := h.routes.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type assignRequest struct {
	DriverID string `json:"driver_id"`
}

func (h *RouteHandler) Assign(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "invalid driver_id")
		return
	}
	r, err := h.svc.AssignRoute(c.Request.Context(), types.ID(id), types.ID(req.DriverID), middleware.CallerUID(c))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RouteHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	released, err := h.svc.CancelRoute(c.Request.Context(), types.ID(id), middleware.CallerUID(c))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if released == nil {
		released = []types.ID{}
	}
	writeJSON(c, http.StatusOK, gin.H{"status": route.StatusCancelled, "released_drops": released})
}

type statusRequest struct {
	Status route.Status `json:"status"`
}

// UpdateStatus records driver progress: assigned to active, then active to completed.
func (h *RouteHandler) UpdateStatus(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Status != route.StatusActive && req.Status != route.StatusCompleted {
		writeError(c, http.StatusBadRequest, "status must be active or completed")
		return
	}
	r, err := h.svc.AdvanceRoute(c.Request.Context(), types.ID(id), req.Status, middleware.CallerUID(c))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type analyzeRequest struct {
	Capacity capacity.Capacity `json:"capacity"`
	Tier     string            `json:"tier"`
	Stops    []route.Stop      `json:"stops"`
}

// Analyze re-walks an arbitrary stop sequence against a capacity without persisting anything.
func (h *RouteHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.Stops) == 0 {
		writeError(c, http.StatusBadRequest, "stops required")
		return
	}
	if req.Capacity.MaxVolume <= 0 || req.Capacity.MaxWeight <= 0 {
		writeError(c, http.StatusBadRequest, "capacity must be positive")
		return
	}
	var tier capacity.Tier
	if req.Tier != "" {
		t, err := capacity.ParseTier(req.Tier)
		if err != nil {
			writeDispatchError(c, err)
			return
		}
		tier = t
	}
	rep := validator.New(validator.Config{Travel: h.travel, Tier: tier}).Validate(req.Stops, req.Capacity)
	if c.Query("format") == "table" {
		c.String(http.StatusOK, validator.FormatTable(rep))
		return
	}
	writeJSON(c, http.StatusOK, rep)
}
