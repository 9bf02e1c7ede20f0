package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sarjproxy/sarjproxy/internal/api/models"
	"github.com/sarjproxy/sarjproxy/internal/api/response"
	"github.com/sarjproxy/sarjproxy/internal/provider/resilience"
	"github.com/sarjproxy/sarjproxy/internal/shortlink"
)

// LinkResolver follows short links to their destination.
type LinkResolver interface {
	Resolve(ctx context.Context, raw string) (*shortlink.Result, error)
	AllowedHost() string
}

// RedirectHandler handles the short-link resolution endpoint.
type RedirectHandler struct {
	resolver LinkResolver
	logger   zerolog.Logger
}

// NewRedirectHandler creates a new RedirectHandler.
func NewRedirectHandler(resolver LinkResolver, logger zerolog.Logger) *RedirectHandler {
	return &RedirectHandler{
		resolver: resolver,
		logger:   logger,
	}
}

// Resolve handles GET /api/maps-redirect?url=<short link>.
func (h *RedirectHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w, r)
		return
	}

	raw := r.URL.Query().Get("url")

	result, err := h.resolver.Resolve(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, raw, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.RedirectResponse{RedirectedURL: result.FinalURL})
}

func (h *RedirectHandler) writeError(w http.ResponseWriter, r *http.Request, raw string, err error) {
	log := h.logger.With().Str("url", raw).Logger()

	switch {
	case errors.Is(err, shortlink.ErrMissingURL):
		log.Warn().Msg("rejected redirect request without url")
		response.BadRequest(w, r, models.MsgMissingURL)

	case errors.Is(err, shortlink.ErrInvalidURL):
		log.Warn().Msg("rejected malformed short link")
		response.BadRequest(w, r, "Invalid URL format: "+raw)

	case errors.Is(err, shortlink.ErrUnsupportedHost):
		log.Warn().Msg("rejected short link on unsupported host")
		response.BadRequest(w, r, fmt.Sprintf(
			"Invalid URL. Only Google Maps short links (starting with https://%s/) are supported.",
			h.resolver.AllowedHost()))

	case resilience.IsTimeout(err):
		log.Warn().Err(err).Msg("short link resolution timed out")
		response.GatewayTimeout(w, r, "Timeout resolving redirect for URL: "+raw)

	case resilience.IsUnreachable(err):
		log.Error().Err(err).Msg("short link host unreachable")
		response.BadGateway(w, r, fmt.Sprintf("Failed to resolve redirect for URL: %s. %v", raw, err))

	default:
		log.Error().Err(err).Msg("short link resolution failed")
		response.InternalError(w, r, fmt.Sprintf("Failed to resolve redirect for URL: %s. %v", raw, err))
	}
}
