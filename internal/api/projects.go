package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/project"
)

type projectHandler struct {
	svc    *project.Service
	logger *logging.Logger
}

func NewProjectRouter(b Base, svc *project.Service) http.Handler {
	h := &projectHandler{svc: svc, logger: b.logger()}
	r := b.router()
	r.Route("/api/projects", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
	return r
}

func (h *projectHandler) create(w http.ResponseWriter, r *http.Request) {
	var in project.Input
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *projectHandler) list(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *projectHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *projectHandler) update(w http.ResponseWriter, r *http.Request) {
	var in project.Input
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *projectHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
