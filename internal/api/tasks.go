package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/store"
	"github.com/austindbirch/taskmesh/internal/task"
)

type taskHandler struct {
	svc    *task.Service
	logger *logging.Logger
}

type statusInput struct {
	Status string `json:"status"`
}

func NewTaskRouter(b Base, svc *task.Service) http.Handler {
	h := &taskHandler{svc: svc, logger: b.logger()}
	r := b.router()
	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Patch("/{id}/status", h.updateStatus)
		r.Delete("/{id}", h.delete)
	})
	return r
}

func (h *taskHandler) create(w http.ResponseWriter, r *http.Request) {
	var in task.Input
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	t, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// list filters on the projectId and assignedTo query parameters
func (h *taskHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ts, err := h.svc.List(r.Context(), store.TaskFilter{
		ProjectID:  q.Get("projectId"),
		AssignedTo: q.Get("assignedTo"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *taskHandler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *taskHandler) update(w http.ResponseWriter, r *http.Request) {
	var in task.Input
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	t, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *taskHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var in statusInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	t, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), in.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *taskHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
