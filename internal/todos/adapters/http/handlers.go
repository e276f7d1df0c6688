package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dejobratic/fetchstate/internal/httpapi"
	"github.com/dejobratic/fetchstate/internal/todos/app"
	"github.com/dejobratic/fetchstate/internal/todos/domain"
	"github.com/dejobratic/fetchstate/internal/todos/ports"
)

// Handler exposes HTTP endpoints for the todo list.
type Handler struct {
	service *app.Service
}

// NewHandler constructs a Handler.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// Register binds the todo handlers to the provided ServeMux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/todos", h.handleTodos)
	mux.HandleFunc("/v1/todos/", h.handleTodoByID)
}

func (h *Handler) handleTodos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createTodo(w, r)
	case http.MethodGet:
		h.listTodos(w, r)
	default:
		httpapi.MethodNotAllowed(w)
	}
}

func (h *Handler) handleTodoByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/todos/"), "/")

	if id, ok := strings.CutSuffix(trimmed, "/toggle"); ok {
		if id == "" {
			httpapi.WriteError(w, http.StatusNotFound, "todo not found")
			return
		}
		if r.Method != http.MethodPost {
			httpapi.MethodNotAllowed(w)
			return
		}
		h.toggleTodo(w, r, id)
		return
	}

	if trimmed == "" || strings.Contains(trimmed, "/") {
		httpapi.WriteError(w, http.StatusNotFound, "todo not found")
		return
	}

	if r.Method != http.MethodDelete {
		httpapi.MethodNotAllowed(w)
		return
	}
	h.removeTodo(w, r, trimmed)
}

type createTodoInput struct {
	Description string `json:"description"`
}

// createTodo honours an optional Idempotency-Key: a retry of the same request
// replays the first response, a different request under the same key is 422.
func (h *Handler) createTodo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload createTodoInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	requestHash := app.RequestHash(payload.Description)

	if idemKey != "" {
		stored, err := h.service.GetIdempotentResponse(ctx, idemKey, requestHash)
		switch {
		case errors.Is(err, ports.ErrIdempotencyConflict):
			httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		case stored != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(stored.StatusCode)
			_, _ = w.Write(stored.Body)
			return
		}
	}

	todo, err := h.service.Add(ctx, payload.Description)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyDescription) {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body, err := json.Marshal(map[string]any{"todo": todo})
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if idemKey != "" {
		stored := ports.StoredResponse{
			StatusCode:  http.StatusCreated,
			Body:        body,
			TodoID:      todo.ID,
			RequestHash: requestHash,
		}
		if err := h.service.SaveIdempotentResponse(ctx, idemKey, stored); err != nil {
			httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *Handler) listTodos(w http.ResponseWriter, r *http.Request) {
	todos := h.service.List(r.Context())
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"todos":   todos,
		"count":   len(todos),
		"pending": domain.Pending(todos),
	})
}

func (h *Handler) toggleTodo(w http.ResponseWriter, r *http.Request, id string) {
	todo, err := h.service.Toggle(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"todo": todo})
}

func (h *Handler) removeTodo(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Remove(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, ports.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "todo not found")
		return
	}
	httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
}
