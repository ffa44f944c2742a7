package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Options struct {
	// AllowedOrigins empty accepts any origin.
	AllowedOrigins []string
	SendBuffer     int
	// SignalRate is the sustained per-connection rate of room signals
	// (chat, typing, playback). Zero disables limiting.
	SignalRate  float64
	SignalBurst int
	// Identify resolves the user behind a request. The default reads the
	// X-User-ID header set by the upstream auth proxy.
	Identify func(r *http.Request) string
}

type Handler struct {
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(hub *Hub, opts Options, logger *zap.Logger) *Handler {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 256
	}
	if opts.Identify == nil {
		opts.Identify = func(r *http.Request) string { return r.Header.Get("X-User-ID") }
	}
	h := &Handler{hub: hub, opts: opts, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.serveWS)
	r.Get("/stats", h.stats)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if h.opts.SignalRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.opts.SignalRate), h.opts.SignalBurst)
	}
	c := newClient(h.hub, conn, h.opts.Identify(r), h.opts.SendBuffer, limiter)
	if err := h.hub.register(c); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"))
		_ = conn.Close()
		return
	}
	c.logger.Debug("connection opened", zap.String("user_id", c.userID))

	go c.writePump()
	go c.readPump()
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.Stats()); err != nil {
		h.logger.Warn("encode stats", zap.Error(err))
	}
}
