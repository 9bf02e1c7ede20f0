package station

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarjproxy/sarjproxy/internal/config"
	"github.com/sarjproxy/sarjproxy/internal/telemetry"
)

// Provider fetches raw station detail documents from the upstream API.
type Provider interface {
	// GetStation returns the decoded (but unparsed) response body for q.
	// Non-success statuses are reported as *UpstreamStatusError.
	GetStation(ctx context.Context, q Query) (json.RawMessage, error)

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig holds configuration for the station service.
type ServiceConfig struct {
	// Provider is the upstream station data provider.
	Provider Provider

	// Config supplies base URL, fetch timeout and time zone per call.
	Config config.Source

	// Logger for service operations.
	Logger zerolog.Logger

	// Metrics counts availability resolutions (optional).
	Metrics *telemetry.ProxyMetrics

	// Now returns the current instant (default: time.Now).
	Now func() time.Time
}

// Service resolves the socket list of a charging station.
type Service struct {
	provider Provider
	config   config.Source
	logger   zerolog.Logger
	metrics  *telemetry.ProxyMetrics
	now      func() time.Time
}

// NewService creates a new station service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	source := cfg.Config
	if source == nil {
		source = config.Static(config.Default())
	}

	return &Service{
		provider: cfg.Provider,
		config:   source,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      now,
	}
}

// GetSockets fetches the station for the previous full minute and returns
// its sockets with resolved availability. A payload without a sockets
// array yields an empty list.
func (s *Service) GetSockets(ctx context.Context, stationID string) ([]Socket, error) {
	if stationID == "" {
		return nil, ErrMissingStationID
	}

	cfg := s.config.Load()
	loc := cfg.TimeLocation()
	now := s.now()

	query := Query{
		BaseURL:   cfg.BaseURL,
		StationID: stationID,
		Timestamp: FormatTimestamp(QueryBucket(now, loc)),
	}
	timeout := cfg.EffectiveFetchTimeout()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug().
		Str("station_id", stationID).
		Str("timestamp", query.Timestamp).
		Dur("timeout", timeout).
		Str("provider", s.provider.Name()).
		Msg("fetching station detail")

	body, err := s.provider.GetStation(ctx, query)
	if err != nil {
		var statusErr *UpstreamStatusError
		if errors.As(err, &statusErr) {
			s.logger.Warn().
				Str("station_id", stationID).
				Int("upstream_status", statusErr.StatusCode).
				Msg("upstream rejected station request")
		} else {
			s.logger.Error().Err(err).
				Str("station_id", stationID).
				Dur("timeout", timeout).
				Msg("failed to fetch station detail")
		}
		return nil, err
	}

	return s.toSockets(stationID, body, now, loc)
}

func (s *Service) toSockets(stationID string, body json.RawMessage, now time.Time, loc *time.Location) ([]Socket, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response for station %s is not JSON", ErrInvalidPayload, stationID)
	}

	var payload struct {
		Sockets json.RawMessage `json:"sockets"`
	}
	var rawSockets []json.RawMessage
	ok := json.Unmarshal(body, &payload) == nil &&
		json.Unmarshal(payload.Sockets, &rawSockets) == nil &&
		rawSockets != nil
	if !ok {
		s.logger.Warn().
			Str("station_id", stationID).
			Msg("station response has no sockets array, returning empty list")
		return []Socket{}, nil
	}

	sockets := make([]Socket, 0, len(rawSockets))
	for i, item := range rawSockets {
		if string(item) == "null" {
			return nil, fmt.Errorf("%w: socket %d of station %s is null", ErrInvalidPayload, i, stationID)
		}

		var raw rawSocket
		if err := json.Unmarshal(item, &raw); err != nil {
			s.logger.Warn().
				Str("station_id", stationID).
				Int("index", i).
				RawJSON("socket", item).
				Msg("socket is not an object, reporting it as unknown")
			raw = rawSocket{}
		}

		res := ResolveAvailability(raw.Availability, now, loc)
		s.observe(stationID, raw.ID, now, res)

		sockets = append(sockets, Socket{
			ID:           raw.ID,
			Price:        raw.Price,
			Availability: res.Status,
		})
	}

	return sockets, nil
}

func (s *Service) observe(stationID string, socketID json.RawMessage, now time.Time, res Resolution) {
	s.metrics.ObserveAvailability(string(res.Reason))

	for _, skipped := range res.Skipped {
		s.logger.Warn().Err(skipped.Err).
			Str("station_id", stationID).
			RawJSON("socket_id", orNull(socketID)).
			Interface("start_time", skipped.Window.StartTime).
			Interface("end_time", skipped.Window.EndTime).
			Msg("skipping availability window with unparsable time")
	}

	if res.Reason == ReasonNoActiveWindow {
		s.logger.Warn().
			Str("station_id", stationID).
			RawJSON("socket_id", orNull(socketID)).
			Str("reason", string(res.Reason)).
			Time("current_time", now).
			Interface("windows", res.Windows).
			Msg("no active availability window for current time")
	}
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
