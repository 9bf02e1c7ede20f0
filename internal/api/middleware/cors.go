package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sarjproxy/sarjproxy/internal/api/models"
	"github.com/sarjproxy/sarjproxy/internal/config"
)

// CORS header values sent on every response of a wrapped route.
const (
	corsAllowHeaders = "Content-Type"
	corsAllowMethods = "GET, OPTIONS"
)

var errMalformedOrigin = errors.New("malformed origin")

// CORSConfig configures the CORS layer.
type CORSConfig struct {
	// Config supplies the allowed origin, read on every request.
	Config config.Source

	// EnforceOrigin rejects requests whose Origin header is missing or does
	// not match a specific allowed origin. Browsers enforce the response
	// headers either way; this adds a server-side check.
	EnforceOrigin bool

	// Logger records rejected origins.
	Logger zerolog.Logger
}

// CORS sets the CORS response headers, answers preflight requests with 204
// and, when enforcement is on, rejects foreign origins with 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	source := cfg.Config
	if source == nil {
		source = config.Static(config.Default())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := source.Load()

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed.AllowedOrigin)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if cfg.EnforceOrigin && allowed.RestrictsOrigin() {
				if msg, ok := checkOrigin(cfg.Logger, r, allowed.AllowedOrigin); !ok {
					models.NewError(msg).Write(w, http.StatusForbidden, GetRequestID(r.Context()))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func checkOrigin(log zerolog.Logger, r *http.Request, allowed string) (string, bool) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		log.Warn().
			Str("request_id", GetRequestID(r.Context())).
			Str("allowed_origin", allowed).
			Msg("rejected request without origin header")
		return models.MsgOriginRequired, false
	}

	same, err := SameOrigin(origin, allowed)
	if err != nil {
		log.Warn().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("origin", origin).
			Str("allowed_origin", allowed).
			Msg("could not compare origins")
	}
	if !same {
		log.Warn().
			Str("request_id", GetRequestID(r.Context())).
			Str("origin", origin).
			Str("allowed_origin", allowed).
			Msg("rejected request from foreign origin")
		return models.MsgInvalidOrigin, false
	}

	return "", true
}

// SameOrigin reports whether two serialized origins (or URLs) share scheme,
// host and port. Hosts compare case-insensitively and default ports are
// implied, so https://example.com equals https://example.com:443.
func SameOrigin(a, b string) (bool, error) {
	oa, err := parseOrigin(a)
	if err != nil {
		return false, err
	}
	ob, err := parseOrigin(b)
	if err != nil {
		return false, err
	}
	return oa == ob, nil
}

type origin struct {
	scheme string
	host   string
	port   string
}

func parseOrigin(raw string) (origin, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return origin{}, fmt.Errorf("%w: %q: %w", errMalformedOrigin, raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return origin{}, fmt.Errorf("%w: %q", errMalformedOrigin, raw)
	}

	o := origin{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Hostname()),
		port:   u.Port(),
	}
	if o.port == defaultPort(o.scheme) {
		o.port = ""
	}
	if o.port != "" {
		if n, err := strconv.Atoi(o.port); err != nil || n < 1 || n > 65535 {
			return origin{}, fmt.Errorf("%w: %q: bad port", errMalformedOrigin, raw)
		}
	}
	return o, nil
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https", "wss":
		return "443"
	case "http", "ws":
		return "80"
	default:
		return ""
	}
}
