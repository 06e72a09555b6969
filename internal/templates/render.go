// Package templates renders the HTML fragments patched into the map UI over
// Datastar SSE.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"strings"

	"github.com/joeblew999/plat-portal/internal/service"
)

//go:embed fragments/*.html
var fragments embed.FS

var funcMap = template.FuncMap{
	"percent": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	"coord":   func(v float64) string { return fmt.Sprintf("%.4f", v) },
	// pane is the CSS modifier of a split direction; NONE has none.
	"pane": func(d service.SplitDirection) string {
		if d == "" || d == service.SplitNone {
			return ""
		}
		return "pane-" + strings.ToLower(string(d))
	},
}

// Renderer executes the fragment set. It is safe for concurrent use.
type Renderer struct {
	templates *template.Template
}

// New parses the embedded fragments.
func New() (*Renderer, error) {
	return NewFS(fragments)
}

// NewFS parses every fragments/*.html file of fsys, for overriding the
// embedded set during development.
func NewFS(fsys fs.FS) (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, "fragments/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse fragments: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render renders a named fragment to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer appends a named fragment to buf. Nothing is written on error.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	var out bytes.Buffer
	if err := r.templates.ExecuteTemplate(&out, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	buf.Write(out.Bytes())
	return nil
}

// Fragment renders a named fragment for streaming. A failure renders an
// inline error element instead, so a bad fragment never ends a stream.
func (r *Renderer) Fragment(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		return `<div class="render-error">` + template.HTMLEscapeString(err.Error()) + `</div>`
	}
	return s
}
