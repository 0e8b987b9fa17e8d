package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/austindbirch/taskmesh/internal/bus"
	"github.com/austindbirch/taskmesh/internal/events"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/tracing"
)

type notificationHandler struct {
	pub    bus.Publisher
	topic  string
	now    func() time.Time
	logger *logging.Logger
}

// NewNotificationRouter serves the notifier's manual test endpoints. POST
// /notify publishes the posted event onto topic exactly as a task write would.
func NewNotificationRouter(b Base, pub bus.Publisher, topic string) http.Handler {
	if topic == "" {
		topic = events.TaskNotificationsTopic
	}
	h := &notificationHandler{pub: pub, topic: topic, now: time.Now, logger: b.logger()}
	r := b.router()
	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/test", h.test)
		r.Post("/notify", h.notify)
	})
	return r
}

func (h *notificationHandler) test(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Notification service is working!")
}

func (h *notificationHandler) notify(w http.ResponseWriter, r *http.Request) {
	var in events.TaskChanged
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ev := events.NewTaskChanged(in.Kind, h.now())
	if in.EventID != "" {
		ev.EventID = in.EventID
	}
	ev.Title, ev.Description, ev.AssignedTo, ev.Status = in.Title, in.Description, in.AssignedTo, in.Status
	ev.TaskID, ev.ProjectID = in.TaskID, in.ProjectID
	ev.TraceHeaders = tracing.InjectHeaders(r.Context())

	if err := h.pub.Publish(r.Context(), h.topic, ev); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.WithContext(r.Context()).WithEvent(ev.EventID).WithTopic(h.topic).Info("test notification published")
	writeJSON(w, http.StatusAccepted, messageBody{Message: "Notification event sent to NSQ"})
}
