package counter

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dejobratic/fetchstate/internal/httpapi"
)

// Handler exposes the counter over HTTP.
type Handler struct {
	counter *Counter
	logger  *slog.Logger
}

func NewHandler(counter *Counter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{counter: counter, logger: logger}
}

// Register binds the counter handlers to the provided ServeMux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/counter", h.handleCounter)
	mux.HandleFunc("/v1/counter/", h.handleOperation)
}

func (h *Handler) handleCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpapi.MethodNotAllowed(w)
		return
	}
	writeValue(w, h.counter.Value())
}

func (h *Handler) handleOperation(w http.ResponseWriter, r *http.Request) {
	op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/counter/"), "/")
	if r.Method != http.MethodPost {
		httpapi.MethodNotAllowed(w)
		return
	}

	by := 1
	if raw := r.URL.Query().Get("by"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "by must be an integer")
			return
		}
		by = parsed
	}

	switch op {
	case "increment":
		writeValue(w, h.counter.Increment(by))
	case "decrement":
		value, err := h.counter.Decrement(by)
		if errors.Is(err, ErrAtZero) {
			httpapi.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		writeValue(w, value)
	case "reset":
		writeValue(w, h.counter.Reset())
	default:
		httpapi.WriteError(w, http.StatusNotFound, "unknown counter operation")
		return
	}

	h.logger.DebugContext(r.Context(), "counter updated", "operation", op, "by", by)
}

func writeValue(w http.ResponseWriter, value int) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]int{"value": value})
}
