// ABOUTME: Template parsing, helper functions and page data for the task UI
// ABOUTME: Each page is parsed once with the shared layout and partials

package webui

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/tasktrack/internal/assets"
	"github.com/2389/tasktrack/internal/auth"
	"github.com/2389/tasktrack/internal/store"
)

const dateLayout = "2006-01-02"

// page is the data every template sees.
type page struct {
	Title     string
	User      *auth.Principal
	CSRFToken string
	Error     string
	Live      bool
}

type loginData struct {
	page
	Username  string
	ReturnURL string
}

// taskForm holds form values as strings so a rejected submission can be
// shown back to the user unchanged.
type taskForm struct {
	Title       string
	Description string
	DueDate     string
	Priority    string
	IsCompleted bool
}

func formFromTask(t *store.Task) taskForm {
	f := taskForm{
		Title:       t.Title,
		Priority:    t.Priority.String(),
		IsCompleted: t.IsCompleted,
	}
	if t.Description != nil {
		f.Description = *t.Description
	}
	if t.DueDate != nil {
		f.DueDate = t.DueDate.UTC().Format(dateLayout)
	}
	return f
}

type todosData struct {
	page
	Tasks   []*store.Task
	CanEdit bool
	Form    taskForm
}

type todoData struct {
	page
	Task    *store.Task
	CanEdit bool
	Form    taskForm
}

type errorData struct {
	page
	Heading string
	Message string
}

var pageNames = []string{"landing", "login", "todos", "todo", "error"}

func newMarkdown() goldmark.Markdown {
	// Raw HTML in descriptions is dropped; html.WithUnsafe is never set.
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
}

func (u *UI) funcs() template.FuncMap {
	return template.FuncMap{
		"asset":      assets.Path,
		"markdown":   u.renderMarkdown,
		"date":       formatDate,
		"datetime":   formatDateTime,
		"priorities": priorities,
	}
}

// parseTemplates builds one template set per page from the layout, the
// shared partials and the page body.
func (u *UI) parseTemplates() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(u.funcs()).ParseFS(templateFS,
			"templates/base.html", "templates/partials.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

// render writes a full page with the given status.
func (u *UI) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := u.pages[name]
	if !ok {
		u.logger.Error("unknown template", "name", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		u.logger.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (u *UI) renderMarkdown(s *string) template.HTML {
	if s == nil || *s == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := u.md.Convert([]byte(*s), &buf); err != nil {
		u.logger.Error("failed to convert markdown", "error", err)
		return template.HTML("<p>" + template.HTMLEscapeString(*s) + "</p>")
	}
	return template.HTML(buf.String())
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}

func formatDateTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04 MST")
	case *time.Time:
		if t != nil {
			return t.UTC().Format("2006-01-02 15:04 MST")
		}
	}
	return "-"
}

func priorities() []store.Priority {
	return []store.Priority{
		store.PriorityNone,
		store.PriorityLow,
		store.PriorityNormal,
		store.PriorityHigh,
		store.PriorityUrgent,
	}
}
