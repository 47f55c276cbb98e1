// Package webui renders the interview form served to the browser. The page
// is a single embedded template; it heartbeats the owning instance every ten
// seconds and posts answers back through the request boundary.
package webui

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/kalambet/parley/internal/questions"
)

//go:embed assets/form.html.tmpl
var assets embed.FS

var formTmpl = template.Must(template.ParseFS(assets, "assets/form.html.tmpl"))

// FormData feeds the form template.
type FormData struct {
	Title     string
	Token     string
	Questions []questions.Question
}

// RenderForm writes the interview page for the given question set.
func RenderForm(w io.Writer, set *questions.Set, token string) error {
	title := set.Title
	if title == "" {
		title = "parley"
	}
	data := FormData{Title: title, Token: token, Questions: set.Questions}
	if err := formTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("rendering form: %w", err)
	}
	return nil
}
