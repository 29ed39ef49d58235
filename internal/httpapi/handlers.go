// Package httpapi is the HTTP gateway transport. Inbound chat updates arrive
// as JSON; replies leave through the configured outbound notifier.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"taskbot/internal/conversation"
	"taskbot/internal/tasks"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// UpdateHandler consumes inbound updates.
type UpdateHandler interface {
	Handle(ctx context.Context, u conversation.Update) error
}

// TaskReader is the read side of the task service.
type TaskReader interface {
	ActiveTasks(ctx context.Context, userID string) ([]tasks.Task, error)
	CompletedTasks(ctx context.Context, userID string) ([]tasks.Task, error)
}

type Handler struct {
	updates UpdateHandler
	tasks   TaskReader
	log     *logrus.Entry
}

func NewHandler(updates UpdateHandler, reader TaskReader, log *logrus.Entry) *Handler {
	return &Handler{updates: updates, tasks: reader, log: log}
}

// UpdateRequest is the body of POST /api/updates. Exactly one of Text and
// Action is set; Action is a token taken from an outbound menu.
type UpdateRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text,omitempty"`
	Action string `json:"action,omitempty"`
}

// UpdateResponse reports whether every reply of the turn reached the webhook.
type UpdateResponse struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

type ReminderView struct {
	FireAt string `json:"fire_at"`
	Fired  bool   `json:"fired"`
}

type TaskView struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Status      string        `json:"status"`
	CreatedAt   string        `json:"created_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
	Reminder    *ReminderView `json:"reminder,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	hasText := strings.TrimSpace(req.Text) != ""
	hasAction := strings.TrimSpace(req.Action) != ""
	if hasText == hasAction {
		writeError(w, http.StatusBadRequest, "exactly one of text and action is required")
		return
	}

	update := conversation.Update{UserID: req.UserID, Text: req.Text}
	if hasAction {
		action, err := tasks.ParseAction(req.Action)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.Action = &action
	}

	// State changes are already committed when Handle reports a delivery
	// failure, so the update itself is still accepted.
	resp := UpdateResponse{Delivered: true}
	if err := h.updates.Handle(r.Context(), update); err != nil {
		var de *tasks.DeliveryError
		if !errors.As(err, &de) {
			h.log.WithError(err).WithField("user", req.UserID).Error("update failed")
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		h.log.WithError(err).WithField("user", req.UserID).Warn("reply not delivered")
		resp = UpdateResponse{Delivered: false, Error: err.Error()}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) GetActiveTasks(w http.ResponseWriter, r *http.Request) {
	h.listTasks(w, r, h.tasks.ActiveTasks)
}

func (h *Handler) GetCompletedTasks(w http.ResponseWriter, r *http.Request) {
	h.listTasks(w, r, h.tasks.CompletedTasks)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request, read func(context.Context, string) ([]tasks.Task, error)) {
	userID := mux.Vars(r)["userID"]
	list, err := read(r.Context(), userID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.WithError(err).WithField("user", userID).Error("read tasks failed")
		}
		writeError(w, status, err.Error())
		return
	}
	out := make([]TaskView, 0, len(list))
	for _, t := range list {
		out = append(out, viewOf(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func viewOf(t tasks.Task) TaskView {
	v := TaskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status.Key(),
		CreatedAt:   tasks.FormatTime(t.CreatedAt),
	}
	if t.CompletedAt != nil {
		v.CompletedAt = tasks.FormatTime(*t.CompletedAt)
	}
	if t.Reminder != nil {
		v.Reminder = &ReminderView{FireAt: tasks.FormatTime(t.Reminder.FireAt), Fired: t.Reminder.Fired}
	}
	return v
}

func statusFor(err error) int {
	switch {
	case tasks.IsNotFound(err):
		return http.StatusNotFound
	case tasks.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
