package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sarjproxy/sarjproxy/internal/api/models"
	"github.com/sarjproxy/sarjproxy/internal/api/response"
	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
	"github.com/sarjproxy/sarjproxy/internal/station"
)

// StationIDParam is the route parameter carrying the station identifier.
const StationIDParam = "stationID"

// SocketLister returns the sockets of a charging station.
type SocketLister interface {
	GetSockets(ctx context.Context, stationID string) ([]station.Socket, error)
}

// StationHandler handles the station socket endpoint.
type StationHandler struct {
	stations SocketLister
	logger   zerolog.Logger
}

// NewStationHandler creates a new StationHandler.
func NewStationHandler(stations SocketLister, logger zerolog.Logger) *StationHandler {
	return &StationHandler{
		stations: stations,
		logger:   logger,
	}
}

// GetSockets handles GET /api/station/{stationID}/sockets.
func (h *StationHandler) GetSockets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w, r)
		return
	}

	stationID := chi.URLParam(r, StationIDParam)
	if stationID == "" {
		h.UnknownPath(w, r)
		return
	}

	sockets, err := h.stations.GetSockets(r.Context(), stationID)
	if err != nil {
		h.writeError(w, r, stationID, err)
		return
	}

	if sockets == nil {
		sockets = []station.Socket{}
	}
	response.JSON(w, r, http.StatusOK, sockets)
}

// UnknownPath answers requests under /api/station that do not carry a
// station id in the expected position. Non-GET methods still get 405.
func (h *StationHandler) UnknownPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w, r)
		return
	}

	h.logger.Warn().
		Str("path", r.URL.Path).
		Msg("could not determine station id from path")
	response.BadRequest(w, r, models.MsgStationIDUndetermined)
}

func (h *StationHandler) writeError(w http.ResponseWriter, r *http.Request, stationID string, err error) {
	var statusErr *station.UpstreamStatusError

	switch {
	case errors.As(err, &statusErr):
		response.BadGateway(w, r, fmt.Sprintf("Origin server responded with %d for station %s", statusErr.StatusCode, stationID))

	case resilience.IsTimeout(err):
		response.GatewayTimeout(w, r, "Request to upstream server timed out for station ID "+stationID)

	default:
		response.InternalError(w, r, fmt.Sprintf("Internal error fetching station detail for ID %s. %v", stationID, err))
	}
}
