package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dejobratic/fetchstate/internal/httpapi"
	"github.com/dejobratic/fetchstate/internal/resources/adapters/memory"
	"github.com/dejobratic/fetchstate/internal/resources/app"
	"github.com/dejobratic/fetchstate/internal/resources/domain"
	"github.com/dejobratic/fetchstate/internal/resources/ports"
)

// DefaultHeartbeat is how often an idle event stream sends a keep-alive comment.
const DefaultHeartbeat = 15 * time.Second

type state = domain.RequestState[app.Payload]

// CacheStats reports the shared cache counters.
type CacheStats interface {
	Stats() memory.Stats
}

// Handler exposes HTTP endpoints for fetch sessions.
type Handler struct {
	service   *app.Service
	cache     CacheStats
	metrics   *httpapi.Metrics
	heartbeat time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler constructs a Handler. metrics may be nil.
func NewHandler(service *app.Service, cache CacheStats, metrics *httpapi.Metrics) *Handler {
	return &Handler{
		service:   service,
		cache:     cache,
		metrics:   metrics,
		heartbeat: DefaultHeartbeat,
		done:      make(chan struct{}),
	}
}

// Close ends every open event stream. Other endpoints keep working.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Register binds the session handlers to the provided ServeMux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sessions", h.handleSessions)
	mux.HandleFunc("/v1/sessions/", h.handleSessionByID)
	mux.HandleFunc("/v1/cache", h.handleCache)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpapi.MethodNotAllowed(w)
		return
	}

	session := h.service.CreateSession(r.Context())
	httpapi.WriteJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (h *Handler) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	id, action, _ := strings.Cut(trimmed, "/")
	if id == "" {
		httpapi.WriteError(w, http.StatusNotFound, "session not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.getSession(w, r, id)
		case http.MethodDelete:
			h.closeSession(w, r, id)
		default:
			httpapi.MethodNotAllowed(w)
		}
	case "key":
		if r.Method != http.MethodPut {
			httpapi.MethodNotAllowed(w)
			return
		}
		h.observeKey(w, r, id)
	case "events":
		if r.Method != http.MethodGet {
			httpapi.MethodNotAllowed(w)
			return
		}
		h.streamEvents(w, r, id)
	default:
		httpapi.WriteError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request, id string) {
	current, err := h.service.State(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"session": app.Session{ID: id, State: current}})
}

type observeRequest struct {
	Key string `json:"key"`
}

func (h *Handler) observeKey(w http.ResponseWriter, r *http.Request, id string) {
	var payload observeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(payload.Key) == "" {
		httpapi.WriteError(w, http.StatusBadRequest, ports.ErrEmptyKey.Error())
		return
	}

	current, err := h.service.Observe(r.Context(), id, payload.Key)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if current.IsLoading {
		status = http.StatusAccepted
	}
	httpapi.WriteJSON(w, status, map[string]any{"session": app.Session{ID: id, State: current}})
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.CloseSession(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpapi.MethodNotAllowed(w)
		return
	}

	stats := h.cache.Stats()
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"cache":    stats,
		"hitRate":  stats.HitRate(),
		"sessions": h.service.SessionCount(),
	})
}

// streamEvents writes the current state and then every change as a
// server-sent event until the client disconnects or the session closes.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	updates := make(chan state, 16)
	sub, err := h.service.Subscribe(ctx, id, func(s state) {
		offerLatest(updates, s)
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer sub.Cancel()

	rc := http.NewResponseController(w)
	// the server write timeout would otherwise cut the stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.metrics.StreamOpened(ctx)
	defer h.metrics.StreamClosed(context.WithoutCancel(ctx))

	if err := writeEvent(w, rc, sub.Current); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-sub.Done:
			return
		case s := <-updates:
			if err := writeEvent(w, rc, s); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// offerLatest never blocks the notifying manager. When the client lags,
// the oldest queued state is dropped so the newest always gets through.
func offerLatest(ch chan state, s state) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, s state) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", s.Phase(), data); err != nil {
		return err
	}
	return rc.Flush()
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, ports.ErrSessionNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
}
