package api

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yegors/afkfleet/pkg/logger"
)

// RouterConfig holds the HTTP surface settings
type RouterConfig struct {
	APIToken           string
	CORSAllowedOrigins []string
}

// Router wires handlers to routes
type Router struct {
	handler *Handler
	cfg     RouterConfig
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(handler *Handler, cfg RouterConfig, log *logger.Logger) *Router {
	return &Router{
		handler: handler,
		cfg:     cfg,
		logger:  log.Named("api-router"),
	}
}

// Routes returns the root handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(rt.cors)

	h := rt.handler
	r.Get("/api/health", h.GetHealth)

	r.Group(func(r chi.Router) {
		r.Use(rt.requireToken)

		r.Route("/api", func(r chi.Router) {
			r.Get("/events", h.GetEvents)
			r.Post("/command", h.RunCommand)

			r.Route("/slots", func(r chi.Router) {
				r.Get("/", h.GetSlots)
				r.Post("/", h.CreateSlot)

				r.Route("/{slot}", func(r chi.Router) {
					r.Get("/", h.GetSlot)
					r.Delete("/", h.DeleteSlot)
					r.Get("/stats", h.GetSlotStats)
					r.Get("/events", h.GetSlotEvents)
					r.Post("/protection", h.SetProtection)
					r.Post("/chat", h.SendChat)
					r.Post("/move", h.Move)
					r.Post("/drop", h.DropItem)
					r.Post("/{action:start|stop|restart|pause|resume}", h.SlotAction)
				})
			})
		})

		r.Get("/ws", h.HandleWebSocket)
	})

	return r
}

// requireToken checks the bearer token. Browsers cannot set headers on a
// websocket handshake, so a token query parameter is accepted too.
func (rt *Router) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(rt.cfg.APIToken)) != 1 {
			rt.logger.Warn("Rejected unauthenticated request",
				logger.String("path", r.URL.Path),
				logger.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(rt.cfg.CORSAllowedOrigins, "*") || slices.Contains(rt.cfg.CORSAllowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
