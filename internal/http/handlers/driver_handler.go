// README: Driver handlers for offers, accept/reject, trip progress and availability.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sharedride/internal/http/middleware"
	"sharedride/internal/modules/dispatch"
	"sharedride/internal/types"
)

type DriverHandler struct {
	rides        RideService
	dispatch     Dispatcher
	availability dispatch.AvailabilityWriter
	log          zerolog.Logger
}

// NewDriverHandler accepts a nil availability writer when the registry is
// maintained outside the API.
func NewDriverHandler(rides RideService, d Dispatcher, availability dispatch.AvailabilityWriter, log zerolog.Logger) *DriverHandler {
	return &DriverHandler{rides: rides, dispatch: d, availability: availability, log: log}
}

func (h *DriverHandler) ListOpen(c *gin.Context) {
	offers, err := h.dispatch.OpenRides(c.Request.Context())
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"rides": offers})
}

func (h *DriverHandler) ListPending(c *gin.Context) {
	ids, err := h.dispatch.Pending(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"ride_ids": ids})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	r, err := h.dispatch.OnAccept(c.Request.Context(), id, types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, statusResponse(r))
}

func (h *DriverHandler) Reject(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	if err := h.dispatch.OnReject(c.Request.Context(), id, types.ID(middleware.CallerUID(c))); err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"ride_id": id, "rejected": true})
}

func (h *DriverHandler) Start(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	r, err := h.rides.Start(c.Request.Context(), id, types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, statusResponse(r))
}

func (h *DriverHandler) Complete(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), id, types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, statusResponse(r))
}

type availabilityReq struct {
	Available *bool    `json:"available" binding:"required"`
	Lat       *float64 `json:"lat" binding:"omitempty,finite,latitude"`
	Lng       *float64 `json:"lng" binding:"omitempty,finite,longitude"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	if h.availability == nil {
		writeError(c, http.StatusNotImplemented, "availability is managed by the mobile client")
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	driverID := types.ID(middleware.CallerUID(c))
	ctx := c.Request.Context()
	var err error
	if *req.Available {
		if req.Lat == nil || req.Lng == nil {
			writeError(c, http.StatusBadRequest, "lat and lng are required when available")
			return
		}
		err = h.availability.SetAvailable(ctx, driverID, types.Point{Lat: *req.Lat, Lng: *req.Lng})
	} else {
		err = h.availability.SetUnavailable(ctx, driverID)
	}
	if err != nil {
		if errors.Is(err, types.ErrInvalidPoint) {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_id": driverID, "available": *req.Available})
}

func rideParam(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return types.ID(id), true
}
