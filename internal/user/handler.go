package user

import (
	"encoding/json"
	"errors"
	"net/http"

	myMiddleware "chat-relay/internal/middleware"

	"go.uber.org/zap"
)

type Handler struct {
	Service *Service
	log     *zap.Logger
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed body")
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_input", "username (3-50) and password (8-72) are required")
	case errors.Is(err, ErrUserAlreadyExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case err != nil:
		h.log.Error("register failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_failed", "internal server error")
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed body")
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_input", "username and password are required")
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials")
	case err != nil:
		h.log.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_failed", "internal server error")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	identity, _ := myMiddleware.IdentityFrom(r.Context())

	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"), identity.UserID)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_input", "query parameter q is required")
	case err != nil:
		h.log.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_failed", "internal server error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
