package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ssandri/blackbox/internal/admission"
	"github.com/ssandri/blackbox/internal/config"
	"github.com/ssandri/blackbox/internal/event"
	"github.com/ssandri/blackbox/internal/observability"
	"github.com/ssandri/blackbox/internal/override"
	"github.com/ssandri/blackbox/internal/reconcile"
	"github.com/ssandri/blackbox/internal/recording"
	"github.com/ssandri/blackbox/internal/retention"
	"github.com/ssandri/blackbox/internal/trigger"
)

// Server exposes the local control surface for the recording engine.
type Server struct {
	cfg         config.Config
	engine      reconcile.Engine
	interrupter Interrupter
	aggregator  *reconcile.Aggregator
	overrides   *override.Store
	index       recording.Store
	janitor     *retention.Janitor
	storage     *admission.Controller
	bookings    *trigger.BookingSource
	shares      *trigger.LiveLocationSource
	bus         *event.Bus
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

type Deps struct {
	Engine      reconcile.Engine
	Interrupter Interrupter
	Aggregator  *reconcile.Aggregator
	Overrides   *override.Store
	Index       recording.Store
	Janitor     *retention.Janitor
	Storage     *admission.Controller
	Bookings    *trigger.BookingSource
	Shares      *trigger.LiveLocationSource
	Bus         *event.Bus
	Metrics     *observability.Metrics
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:         cfg,
		engine:      deps.Engine,
		interrupter: deps.Interrupter,
		aggregator:  deps.Aggregator,
		overrides:   deps.Overrides,
		index:       deps.Index,
		janitor:     deps.Janitor,
		storage:     deps.Storage,
		bookings:    deps.Bookings,
		shares:      deps.Shares,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/recorder/start", s.handleStart)
	r.Post("/v1/recorder/stop", s.handleStop)
	r.Get("/v1/recorder/status", s.handleStatus)
	r.Post("/v1/recorder/interruption", s.handleInterruption)

	r.Get("/v1/recordings", s.handleListRecordings)
	r.Delete("/v1/recordings/{id}", s.handleDeleteRecording)

	r.Get("/v1/overrides", s.handleListOverrides)
	r.Put("/v1/overrides/{key}", s.handleSetOverride)
	r.Delete("/v1/overrides/{key}", s.handleClearOverride)

	r.Put("/v1/triggers/bookings", s.handleSetBookings)
	r.Put("/v1/triggers/live-locations", s.handleSetLiveLocations)

	r.Put("/v1/settings/auto-record", s.handleSetAutoRecord)
	r.Post("/v1/app/foreground", s.handleForeground)

	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"state":  s.engine.Status().State,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
