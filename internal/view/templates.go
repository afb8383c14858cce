// Package view renders the server-side HTML views.
package view

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/bevflow/bevflow/internal/shared"
	"github.com/bevflow/bevflow/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// NavLink is one entry of the top navigation.
type NavLink struct {
	Label string
	Path  string
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	// SignedIn toggles the session banner and the logout button.
	SignedIn bool
	// Nav lists the pages the signed-in role may open.
	Nav  []NavLink
	Data any
}

var funcs = template.FuncMap{
	// active reports whether current is path or below it.
	"active": func(current, path string) bool {
		return current == path || strings.HasPrefix(current, strings.TrimSuffix(path, "/")+"/")
	},
}

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	tpl, err := template.New("root").Funcs(funcs).ParseFS(web.Templates,
		"templates/layouts/*.html",
		"templates/partials/*.html",
		"templates/pages/*.html",
	)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return errors.New("view: template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
