package server

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/small-frappuccino/guilddash/pkg/dashboard"
	"github.com/small-frappuccino/guilddash/pkg/log"
	"github.com/small-frappuccino/guilddash/pkg/storage"
)

//go:embed templates/*.gohtml
var templatesFS embed.FS

type pages struct {
	tpl *template.Template
}

func loadPages() (*pages, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}
	funcs := template.FuncMap{
		"selected": func(a, b string) bool { return a == b },
	}
	tpl, err := template.New("base").Funcs(funcs).ParseFS(sub, "*.gohtml")
	if err != nil {
		return nil, err
	}
	return &pages{tpl: tpl}, nil
}

// render executes into a buffer first so a template error never leaves a half-written
// page behind.
func (p *pages) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := p.tpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.HTTPLogger().Error("Failed to render page", "page", name, "err", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type dashboardPage struct {
	Shell   dashboard.ShellView
	Editor  *dashboard.EditorView
	Notice  *dashboard.Notice
	Changes []storage.ChangeRecord
	Ops     editorOps
}

type editorOps struct {
	Save, Upload, Preview, SavePreview string
}

var ops = editorOps{
	Save:        dashboard.OpSave,
	Upload:      dashboard.OpUpload,
	Preview:     dashboard.OpPreview,
	SavePreview: dashboard.OpSavePreview,
}

type oauthPage struct {
	View     dashboard.OAuthView
	Empty    bool
	LoginURL string
}
