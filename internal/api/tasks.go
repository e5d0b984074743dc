// ABOUTME: Task endpoints: list, get, create, update, complete and delete
// ABOUTME: Maps validation to 400, unknown or malformed ids to 404, storage faults to 500

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/tasktrack/internal/live"
)

// taskID returns the canonical id from the path. Ids that are not UUIDs
// cannot exist, so they are reported as not found.
func taskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		sendJSONError(w, http.StatusNotFound, "task not found")
		return "", false
	}
	return id.String(), true
}

// decodeTask parses a TaskRequest body.
func decodeTask(w http.ResponseWriter, r *http.Request) (*TaskRequest, bool) {
	var req TaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return &req, true
}

// handleListTasks handles GET /api/todos.
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks(r.Context())
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleGetTask handles GET /api/todos/{id}.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleCreateTask handles POST /api/todos.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}
	in := req.Input()
	in.IsCompleted = false

	task, err := h.store.CreateTask(r.Context(), in)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}

	h.logger.Info("task created", "id", task.ID, "user", actor(r))
	h.events.Publish(live.Event{Type: live.EventTaskCreated, TaskID: task.ID, Task: task, Actor: actor(r)})

	w.Header().Set("Location", "/api/todos/"+task.ID)
	writeJSON(w, http.StatusCreated, task)
}

// handleUpdateTask handles PUT /api/todos/{id}. The write is a full
// replacement of the writable fields.
func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}

	task, err := h.store.UpdateTask(r.Context(), id, req.Input())
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}

	h.logger.Info("task updated", "id", task.ID, "user", actor(r))
	h.events.Publish(live.Event{Type: live.EventTaskUpdated, TaskID: task.ID, Task: task, Actor: actor(r)})
	w.WriteHeader(http.StatusNoContent)
}

// handleCompleteTask handles POST /api/todos/{id}/complete. Completing a
// completed task succeeds without changing it.
func (h *Handler) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	task, err := h.store.CompleteTask(r.Context(), id)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}

	h.logger.Info("task completed", "id", task.ID, "user", actor(r))
	h.events.Publish(live.Event{Type: live.EventTaskCompleted, TaskID: task.ID, Task: task, Actor: actor(r)})
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask handles DELETE /api/todos/{id}.
func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteTask(r.Context(), id); err != nil {
		h.sendStoreError(w, r, err)
		return
	}

	h.logger.Info("task deleted", "id", id, "user", actor(r))
	h.events.Publish(live.Event{Type: live.EventTaskDeleted, TaskID: id, Actor: actor(r)})
	w.WriteHeader(http.StatusNoContent)
}
