// Package views renders the collector's HTML status page.
package views

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"strconv"
	"time"
)

//go:embed templates
var viewsFS embed.FS

var dashboardTmpl *template.Template

var funcs = template.FuncMap{
	"percent": func(rate float64) string {
		return strconv.FormatFloat(rate*100, 'f', 0, 64) + "%"
	},
	"since": func(now, t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return now.Sub(t).Truncate(time.Second).String() + " ago"
	},
}

// loadTemplatesFromFS loads the templates under dir of fsys.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	tmpl, err := template.New("").Funcs(funcs).ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	dashboardTmpl = tmpl
	return nil
}

// LoadTemplates loads the embedded templates. Call during startup before
// serving requests.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// Field is one named value of a reading, already formatted for display.
type Field struct {
	Name  string
	Value string
}

type InstrumentRow struct {
	Code        string
	Status      string
	FailureRate float64
	Updated     time.Time
	Fields      []Field
}

type DashboardData struct {
	Now           time.Time
	MQTTConnected bool
	Instruments   []InstrumentRow
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

// RenderInstrumentsPartial renders only the instrument table, for periodic
// refresh of the page.
func RenderInstrumentsPartial(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/instruments.html", data)
}
