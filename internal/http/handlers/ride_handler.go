// README: Passenger ride handlers for create, read, list and cancel.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sharedride/internal/http/middleware"
	"sharedride/internal/modules/dispatch"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/modules/ride"
	"sharedride/internal/modules/user"
	"sharedride/internal/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RideService is the part of ride.Coordinator the HTTP layer uses.
type RideService interface {
	CreateRide(ctx context.Context, cmd ride.CreateCommand) (*ride.Ride, error)
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	DecryptedView(r *ride.Ride) (*ride.View, error)
	ListByPassenger(ctx context.Context, passengerID types.ID, limit int) ([]*ride.Ride, error)
	Start(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error)
	Complete(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error)
}

// Dispatcher is the part of dispatch.Broadcaster the HTTP layer uses.
type Dispatcher interface {
	AnnounceAsync(r *ride.Ride)
	OnAccept(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error)
	OnReject(ctx context.Context, rideID, driverID types.ID) error
	OnCancel(ctx context.Context, rideID, actorID types.ID) (*ride.Ride, error)
	Pending(ctx context.Context, driverID types.ID) ([]types.ID, error)
	OpenRides(ctx context.Context) ([]dispatch.NewRide, error)
}

type RideHandler struct {
	rides    RideService
	dispatch Dispatcher
	log      zerolog.Logger
}

func NewRideHandler(rides RideService, d Dispatcher, log zerolog.Logger) *RideHandler {
	return &RideHandler{rides: rides, dispatch: d, log: log}
}

type pointReq struct {
	Label string   `json:"label" binding:"max=256"`
	Lat   *float64 `json:"lat" binding:"required,finite,latitude"`
	Lng   *float64 `json:"lng" binding:"required,finite,longitude"`
}

func (p pointReq) location() ride.Location {
	return ride.Location{Label: p.Label, Point: types.Point{Lat: *p.Lat, Lng: *p.Lng}}
}

type createRideReq struct {
	Origin      pointReq `json:"origin" binding:"required"`
	Destination pointReq `json:"destination" binding:"required"`
	RideClass   string   `json:"ride_class"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	r, err := h.rides.CreateRide(c.Request.Context(), ride.CreateCommand{
		PassengerID: types.ID(middleware.CallerUID(c)),
		Origin:      req.Origin.location(),
		Destination: req.Destination.location(),
		RideClass:   pricing.RideClass(req.RideClass),
	})
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	h.dispatch.AnnounceAsync(r)

	view, err := h.rides.DecryptedView(r)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, view)
}

// Get returns the decrypted ride to its passenger or assigned driver.
func (h *RideHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	if !canView(middleware.Caller(c), r) {
		writeError(c, http.StatusForbidden, "forbidden: not a participant of this ride")
		return
	}
	view, err := h.rides.DecryptedView(r)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

// canView matches the caller against the ride side its role plays.
func canView(caller user.Caller, r *ride.Ride) bool {
	switch caller.Role {
	case user.RolePassenger:
		return r.PassengerID == caller.ID
	case user.RoleDriver:
		return r.HasDriver(caller.ID)
	}
	return false
}

func (h *RideHandler) List(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}
	rides, err := h.rides.ListByPassenger(c.Request.Context(), types.ID(middleware.CallerUID(c)), limit)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	views := make([]*ride.View, 0, len(rides))
	for _, r := range rides {
		v, err := h.rides.DecryptedView(r)
		if err != nil {
			writeRideError(c, h.log, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(c, http.StatusOK, map[string]any{"rides": views})
}

// Cancel is open to both roles; the coordinator checks participation.
func (h *RideHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	r, err := h.dispatch.OnCancel(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, statusResponse(r))
}

func statusResponse(r *ride.Ride) map[string]any {
	resp := map[string]any{"ride_id": r.ID, "status": r.Status}
	if r.DriverID != nil {
		resp["driver_id"] = *r.DriverID
	}
	return resp
}
