package web

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/jnb666/cifarnet/stats"
)

//go:embed assets/*.html
var assets embed.FS

var funcs = template.FuncMap{
	"avg": func(a *stats.Average) template.HTML { return a.HTML() },
	"pct": func(x float64) string { return fmt.Sprintf("%.2f%%", 100*x) },
}

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu    []Link
	Heading template.HTML
}

type Link struct {
	Url      string
	Name     string
	Selected bool
}

// Load and parse templates and initialise main menu
func NewTemplates() (*Templates, error) {
	tmpl, err := template.New("").Funcs(funcs).ParseFS(assets, "assets/*.html")
	if err != nil {
		return nil, err
	}
	t := &Templates{Template: tmpl}
	t.AddMenuItem(Link{Name: "train", Url: "/train"})
	t.AddMenuItem(Link{Name: "report", Url: "/report"})
	t.AddMenuItem(Link{Name: "images", Url: "/images/1"})
	return t, nil
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
	}
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(key.Url, url)
	}
	return t
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

// Exec executes the named template, logging any error.
func (t *Templates) Exec(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
