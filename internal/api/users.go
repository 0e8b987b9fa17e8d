package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/user"
)

type userHandler struct {
	svc    *user.Service
	logger *logging.Logger
}

// NewUserRouter serves registration, login and the existence endpoints the
// project service calls.
func NewUserRouter(b Base, svc *user.Service) http.Handler {
	h := &userHandler{svc: svc, logger: b.logger()}
	r := b.router()
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Get("/check/{username}", h.check)
		r.Get("/all", h.list)
		r.Get("/{id}/exists", h.exists)
	})
	return r
}

func (h *userHandler) register(w http.ResponseWriter, r *http.Request) {
	var in user.RegisterInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := h.svc.Register(r.Context(), in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageBody{Message: "User registered successfully"})
}

func (h *userHandler) login(w http.ResponseWriter, r *http.Request) {
	var in user.LoginInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token, err := h.svc.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// check answers with a bare JSON boolean
func (h *userHandler) check(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.UsernameExists(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (h *userHandler) exists(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.Exists(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (h *userHandler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
