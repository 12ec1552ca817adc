package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/small-frappuccino/guilddash/pkg/dashboard"
	"github.com/small-frappuccino/guilddash/pkg/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	}); err != nil {
		log.HTTPLogger().Error("Failed to encode health response", "err", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sh := ShellFrom(r.Context())
	page := dashboardPage{Shell: sh.View(), Ops: ops}
	if page.Shell.GuildID == "" {
		page.Shell.GuildID = r.URL.Query().Get("guild")
	}
	if ed := sh.Editor(); ed != nil {
		v := ed.View()
		page.Editor = &v
	}
	if n, ok := sh.Notice(); ok {
		page.Notice = &n
	}
	if s.history != nil && page.Shell.ConfigLoaded {
		changes, err := s.history.RecentChanges(r.Context(), page.Shell.GuildID, recentChangesLimit)
		if err != nil {
			log.DatabaseLogger().Warn("Failed to list recent changes", "guild_id", page.Shell.GuildID, "err", err)
		}
		page.Changes = changes
	}
	s.pages.render(w, http.StatusOK, "dashboard.gohtml", page)
}

func (s *Server) handleOAuthSuccess(w http.ResponseWriter, r *http.Request) {
	sh := ShellFrom(r.Context())
	v := sh.OAuthCallback(r.Context())
	s.pages.render(w, http.StatusOK, "oauth.gohtml", oauthPage{
		View:     v,
		Empty:    v.State == dashboard.OAuthEmpty,
		LoginURL: sh.LoginURL(),
	})
}

func (s *Server) handleNoticeAck(w http.ResponseWriter, r *http.Request) {
	ShellFrom(r.Context()).TakeNotice()
	backToDashboard(w, r)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, defaultMaxFormBytes) {
		return
	}
	err := ShellFrom(r.Context()).Load(r.Context(), r.PostFormValue("guild_id"))
	logOutcome("load", err)
	backToDashboard(w, r)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r, defaultMaxFormBytes) {
		return
	}
	err := ShellFrom(r.Context()).Save(r.Context(), r.PostFormValue("guild_id"), r.PostFormValue("raw"))
	logOutcome("save", err)
	backToDashboard(w, r)
}

func (s *Server) handleToggleSettings(w http.ResponseWriter, r *http.Request) {
	ed, err := ShellFrom(r.Context()).ToggleEditor()
	if err != nil {
		logOutcome("toggle settings", err)
	} else if ed != nil {
		ed.Mount(r.Context())
	}
	backToDashboard(w, r)
}

func (s *Server) handleSettingsSave(w http.ResponseWriter, r *http.Request) {
	ed, ok := s.editorForm(w, r, defaultMaxFormBytes)
	if !ok {
		return
	}
	logOutcome("save settings", ed.Save(r.Context()))
	backToDashboard(w, r)
}

func (s *Server) handleSettingsUpload(w http.ResponseWriter, r *http.Request) {
	ed, ok := s.editorForm(w, r, defaultMaxUploadBytes)
	if !ok {
		return
	}
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		logOutcome("upload", ed.Upload(r.Context(), "", nil))
	case err != nil:
		http.Error(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	default:
		defer file.Close()
		logOutcome("upload", ed.Upload(r.Context(), header.Filename, file))
	}
	backToDashboard(w, r)
}

func (s *Server) handleSettingsPreview(w http.ResponseWriter, r *http.Request) {
	ed, ok := s.editorForm(w, r, defaultMaxFormBytes)
	if !ok {
		return
	}
	_, err := ed.RequestPreview(r.Context())
	logOutcome("preview", err)
	backToDashboard(w, r)
}

func (s *Server) handleSettingsPreviewSave(w http.ResponseWriter, r *http.Request) {
	ed, ok := s.editorForm(w, r, defaultMaxFormBytes)
	if !ok {
		return
	}
	logOutcome("save preview", ed.SavePreviewToUploads(r.Context()))
	backToDashboard(w, r)
}

func (s *Server) handlePreviewImage(w http.ResponseWriter, r *http.Request) {
	ed := ShellFrom(r.Context()).Editor()
	if ed == nil {
		http.NotFound(w, r)
		return
	}
	p, ok := ed.CurrentPreview(chi.URLParam(r, "previewID"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", p.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(p.Data)
}

// editorForm parses the settings form and applies its field values to the open
// editor before the requested action runs.
func (s *Server) editorForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (*dashboard.Editor, bool) {
	ed := ShellFrom(r.Context()).Editor()
	if ed == nil {
		http.Error(w, "settings editor is not open", http.StatusConflict)
		return nil, false
	}
	if !parseForm(w, r, maxBytes) {
		return nil, false
	}
	f := ed.Fields()
	// Browsers submit textarea line breaks as CRLF.
	f.WelcomeMessage = strings.ReplaceAll(r.PostFormValue("welcome_message"), "\r\n", "\n")
	f.AnnouncementChannelID = r.PostFormValue("announcement_channel_id")
	f.RoleID = r.PostFormValue("role_id")
	f.Font = r.PostFormValue("font")
	ed.Edit(f)
	return ed, true
}

// parseForm accepts both urlencoded and multipart bodies up to maxBytes.
func parseForm(w http.ResponseWriter, r *http.Request, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	err := r.ParseMultipartForm(maxBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, "invalid form: "+err.Error(), status)
		return false
	}
	return true
}

func backToDashboard(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// logOutcome records failed actions. The user-facing outcome is the Shell's notice.
func logOutcome(action string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, dashboard.ErrBusy), errors.Is(err, dashboard.ErrEmptyGuildID), errors.Is(err, dashboard.ErrInvalidGuildID),
		errors.Is(err, dashboard.ErrNoFile), errors.Is(err, dashboard.ErrNoConfig),
		errors.Is(err, dashboard.ErrInvalidJSON):
		log.HTTPLogger().Debug("Action not performed", "action", action, "reason", err)
	default:
		log.HTTPLogger().Info("Action failed", "action", action, "err", err)
	}
}
