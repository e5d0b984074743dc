// ABOUTME: JSON request and response bodies for the task and session endpoints
// ABOUTME: Shared with the internal bridge client so both ends agree on the wire shape

package api

import (
	"time"

	"github.com/2389/tasktrack/internal/store"
)

// TaskRequest is the body of POST /api/todos and PUT /api/todos/{id}. Any id
// or timestamp fields a client sends are ignored.
type TaskRequest struct {
	Title       string          `json:"title"`
	Description *string         `json:"description,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Priority    *store.Priority `json:"priority,omitempty"`
	IsCompleted bool            `json:"isCompleted"`
}

// Input converts the request into a store write.
func (r TaskRequest) Input() store.TaskInput {
	return store.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		DueDate:     r.DueDate,
		Priority:    r.Priority,
		IsCompleted: r.IsCompleted,
	}
}

// LoginRequest is the JSON body of POST /auth/login.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
	ReturnURL  string `json:"returnUrl,omitempty"`
}

// LoginResponse is returned to API-style login callers.
type LoginResponse struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// Identity is the body of GET /me.
type Identity struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}
