package server

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/guilddash/pkg/backend"
	"github.com/small-frappuccino/guilddash/pkg/dashboard"
	"github.com/small-frappuccino/guilddash/pkg/storage"
)

const testSecret = "s3cret"

// botBackend is a minimal stand-in for the bot's configuration API.
type botBackend struct {
	mu           sync.Mutex
	configs      map[string]string
	saves        int
	uploads      []string
	leaked       bool
	failChannels bool
}

func (b *botBackend) state() (saves int, configs map[string]string, uploads []string, leaked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	configs = make(map[string]string, len(b.configs))
	for k, v := range b.configs {
		configs[k] = v
	}
	return b.saves, configs, append([]string(nil), b.uploads...), b.leaked
}

func (b *botBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(backend.SharedSecretHeader) != "" {
			b.mu.Lock()
			b.leaked = true
			b.mu.Unlock()
		}
		http.SetCookie(w, &http.Cookie{Name: backend.DefaultSessionCookie, Value: "user-token", Path: "/"})
		http.Redirect(w, r, "/oauth-success", http.StatusFound)
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie(backend.DefaultSessionCookie); err != nil || ck.Value != "user-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"guilds":[{"id":"1","name":"Guild One"}]}`)
	})
	mux.HandleFunc("GET /api/guilds/{id}/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(backend.SharedSecretHeader) != testSecret {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		cfg, ok := b.configs[r.PathValue("id")]
		if !ok {
			cfg = "{}"
		}
		_, _ = io.WriteString(w, cfg)
	})
	mux.HandleFunc("POST /api/guilds/{id}/config", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.saves++
		b.configs[r.PathValue("id")] = string(body)
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	mux.HandleFunc("GET /api/guilds/{id}/channels", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		fail := b.failChannels
		b.mu.Unlock()
		if fail {
			http.Error(w, "gateway unavailable", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"c1","name":"general","type":0},{"id":"v1","name":"voice","type":2}]`)
	})
	mux.HandleFunc("GET /api/guilds/{id}/roles", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"r1","name":"Member"}]`)
	})
	mux.HandleFunc("GET /api/fonts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"fonts":["Arial","Roboto"]}`)
	})
	mux.HandleFunc("POST /api/guilds/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = file.Close()
		b.mu.Lock()
		b.uploads = append(b.uploads, header.Filename)
		b.mu.Unlock()
		_, _ = io.WriteString(w, `{"id":"abc123.png"}`)
	})
	mux.HandleFunc("POST /api/guilds/{id}/preview", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\npreview"))
	})
	mux.HandleFunc("POST /api/guilds/{id}/preview/save", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true,"path":"data/web/uploads/`+r.PathValue("id")+`/preview_1.png"}`)
	})
	mux.HandleFunc("GET /api/guilds/{id}/uploads/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "stored:"+r.PathValue("name"))
	})
	return mux
}

type memChanges struct {
	mu   sync.Mutex
	recs []storage.ChangeRecord
}

func (m *memChanges) RecordChange(_ context.Context, rec storage.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.At = time.Now()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memChanges) RecentChanges(_ context.Context, guildID string, _ int) ([]storage.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ChangeRecord
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].GuildID == guildID {
			out = append(out, m.recs[i])
		}
	}
	return out, nil
}

type harness struct {
	bot     *botBackend
	server  *Server
	web     *httptest.Server
	browser *http.Client
	changes *memChanges
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bot := &botBackend{configs: map[string]string{"42": `{"font":"Arial","welcome_message":"Hi","custom":[1,2]}`}}
	botSrv := httptest.NewServer(bot.handler(t))
	t.Cleanup(botSrv.Close)

	client, err := backend.NewClient(backend.Options{BaseURL: botSrv.URL, InternalToken: testSecret})
	require.NoError(t, err)

	changes := &memChanges{}
	srv, err := NewServer(Options{
		Addr:       "127.0.0.1:0",
		Backend:    client,
		BackendURL: client.BaseURL(),
		Recorder:   changes,
		History:    changes,
		SessionTTL: time.Minute,
	})
	require.NoError(t, err)

	web := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		web.Close()
		srv.Sessions().Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{bot: bot, server: srv, web: web, browser: &http.Client{Jar: jar}, changes: changes}
}

func (h *harness) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := h.browser.Get(h.web.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (h *harness) post(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := h.browser.PostForm(h.web.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (h *harness) postMultipart(t *testing.T, path string, fields map[string]string, filename string, file []byte) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := h.browser.Post(h.web.URL+path, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	status, body := h.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestOAuthFlowThroughProxy(t *testing.T) {
	h := newHarness(t)

	status, body := h.get(t, "/oauth-success")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "No guilds or not authorized.")

	req, err := http.NewRequest(http.MethodGet, h.web.URL+"/auth/callback", nil)
	require.NoError(t, err)
	req.Header.Set(backend.SharedSecretHeader, "forged")
	resp, err := h.browser.Do(req)
	require.NoError(t, err)
	body1, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body1), "Guild One (1)")
	_, _, _, leaked := h.bot.state()
	assert.False(t, leaked)
}

func TestLoadAndSaveRawConfig(t *testing.T) {
	h := newHarness(t)

	status, body := h.post(t, "/load", url.Values{"guild_id": {"42"}})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "&#34;font&#34;: &#34;Arial&#34;")
	assert.Contains(t, body, `value="42"`)

	_, body = h.post(t, "/save", url.Values{"guild_id": {"42"}, "raw": {`{"font":`}})
	assert.Contains(t, body, "Invalid JSON")
	saves, _, _, _ := h.bot.state()
	assert.Zero(t, saves)

	_, body = h.get(t, "/notice/ack")
	assert.NotContains(t, body, "Invalid JSON")

	_, body = h.post(t, "/save", url.Values{"guild_id": {"42"}, "raw": {`{"font":"Roboto","extra":true}`}})
	assert.Contains(t, body, ">Saved<")
	saves, configs, _, _ := h.bot.state()
	assert.Equal(t, 1, saves)
	assert.JSONEq(t, `{"font":"Roboto","extra":true}`, configs["42"])
	assert.Contains(t, body, "raw_editor")
}

func TestEmptyGuildIDSendsNothing(t *testing.T) {
	h := newHarness(t)
	status, body := h.post(t, "/load", url.Values{"guild_id": {"  "}})
	assert.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "<textarea")
}

func TestSettingsEditorFlow(t *testing.T) {
	h := newHarness(t)
	h.post(t, "/load", url.Values{"guild_id": {"42"}})

	_, body := h.post(t, "/settings/toggle", nil)
	assert.Contains(t, body, "Welcome settings")
	assert.Contains(t, body, ">general<")
	assert.NotContains(t, body, ">voice<")
	assert.Contains(t, body, ">Member<")
	assert.Regexp(t, `<option value="Arial"\s+selected>`, body)

	fields := map[string]string{
		"welcome_message":         "Welcome!",
		"announcement_channel_id": "c1",
		"role_id":                 "r1",
		"font":                    "Arial",
	}

	_, body = h.postMultipart(t, "/settings/upload", fields, "photo.png", []byte("\x89PNG"))
	assert.Contains(t, body, "Upload successful")
	assert.Contains(t, body, `src="/api/guilds/42/uploads/abc123.png"`)
	_, _, uploads, _ := h.bot.state()
	assert.Equal(t, []string{"photo.png"}, uploads)
	h.get(t, "/notice/ack")

	status, img := h.get(t, "/api/guilds/42/uploads/abc123.png")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stored:abc123.png", img)

	_, body = h.postMultipart(t, "/settings/preview", fields, "", nil)
	m := regexp.MustCompile(`/settings/preview/([0-9a-f-]{36})`).FindStringSubmatch(body)
	require.Len(t, m, 2)
	status, img = h.get(t, "/settings/preview/"+m[1])
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.HasPrefix(img, "\x89PNG"))

	_, body = h.postMultipart(t, "/settings/save", fields, "", nil)
	assert.Contains(t, body, ">Saved<")
	var saved map[string]any
	_, configs, _, _ := h.bot.state()
	require.NoError(t, json.Unmarshal([]byte(configs["42"]), &saved))
	assert.Equal(t, "Welcome!", saved["welcome_message"])
	assert.Equal(t, "abc123.png", saved["image"])
	assert.Equal(t, []any{float64(1), float64(2)}, saved["custom"])
	assert.Contains(t, body, "&#34;welcome_message&#34;: &#34;Welcome!&#34;")
	h.get(t, "/notice/ack")

	_, body = h.postMultipart(t, "/settings/preview/save", fields, "", nil)
	assert.Contains(t, body, "Preview saved to uploads")
	assert.Contains(t, body, `src="/api/guilds/42/uploads/preview_1.png"`)
}

// submittedFields returns what a browser would send for the rendered settings form:
// the welcome textarea and the selected option of each dropdown.
func submittedFields(t *testing.T, page string) map[string]string {
	t.Helper()
	out := make(map[string]string)

	m := regexp.MustCompile(`(?s)<textarea id="welcome_message"[^>]*>(.*?)</textarea>`).FindStringSubmatch(page)
	require.Len(t, m, 2, "welcome message textarea")
	// A newline right after the start tag is not part of the value.
	msg := strings.TrimPrefix(html.UnescapeString(m[1]), "\n")
	out["welcome_message"] = strings.ReplaceAll(msg, "\n", "\r\n")

	for _, name := range []string{"announcement_channel_id", "role_id", "font"} {
		sel := regexp.MustCompile(`(?s)<select id="` + name + `"[^>]*>(.*?)</select>`).FindStringSubmatch(page)
		require.Len(t, sel, 2, name)
		if opt := regexp.MustCompile(`<option value="([^"]*)"\s+selected>`).FindStringSubmatch(sel[1]); opt != nil {
			out[name] = html.UnescapeString(opt[1])
		} else if first := regexp.MustCompile(`<option value="([^"]*)"`).FindStringSubmatch(sel[1]); first != nil {
			out[name] = html.UnescapeString(first[1])
		}
	}
	return out
}

func TestSettingsKeepConfiguredChannelAndRole(t *testing.T) {
	for _, failChannels := range []bool{false, true} {
		h := newHarness(t)
		h.bot.mu.Lock()
		h.bot.configs["44"] = `{"announcement_channel_id":"v1","role_id":"r9","font":"Arial"}`
		h.bot.failChannels = failChannels
		h.bot.mu.Unlock()

		h.post(t, "/load", url.Values{"guild_id": {"44"}})
		_, body := h.post(t, "/settings/toggle", nil)
		assert.Regexp(t, `<option value="v1"\s+selected>v1</option>`, body, "channel list failing: %v", failChannels)
		assert.Regexp(t, `<option value="r9"\s+selected>r9</option>`, body)

		fields := submittedFields(t, body)
		assert.Equal(t, "v1", fields["announcement_channel_id"])
		assert.Equal(t, "r9", fields["role_id"])

		_, body = h.postMultipart(t, "/settings/save", fields, "", nil)
		assert.Contains(t, body, ">Saved<")
		var saved map[string]any
		_, configs, _, _ := h.bot.state()
		require.NoError(t, json.Unmarshal([]byte(configs["44"]), &saved))
		assert.Equal(t, "v1", saved["announcement_channel_id"])
		assert.Equal(t, "r9", saved["role_id"])
	}
}

func TestSettingsKeepMultilineWelcomeMessage(t *testing.T) {
	h := newHarness(t)
	h.bot.mu.Lock()
	h.bot.configs["46"] = `{"welcome_message":"\nHello <b>{user}</b>\n\nEnjoy your stay","font":"Arial"}`
	h.bot.mu.Unlock()

	h.post(t, "/load", url.Values{"guild_id": {"46"}})
	_, body := h.post(t, "/settings/toggle", nil)
	fields := submittedFields(t, body)
	assert.Equal(t, "\r\nHello <b>{user}</b>\r\n\r\nEnjoy your stay", fields["welcome_message"])

	_, body = h.postMultipart(t, "/settings/save", fields, "", nil)
	assert.Contains(t, body, ">Saved<")
	var saved map[string]any
	_, configs, _, _ := h.bot.state()
	require.NoError(t, json.Unmarshal([]byte(configs["46"]), &saved))
	assert.Equal(t, "\nHello <b>{user}</b>\n\nEnjoy your stay", saved["welcome_message"])

	assert.Equal(t, fields, submittedFields(t, body))
}

func TestSettingsActionsRequireOpenEditor(t *testing.T) {
	h := newHarness(t)
	status, _ := h.post(t, "/settings/save", url.Values{})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = h.get(t, "/settings/preview/00000000-0000-0000-0000-000000000000")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSessionsCloseShells(t *testing.T) {
	var shells []*dashboard.Shell
	sessions := NewSessions(time.Minute, false, func(id string) *dashboard.Shell {
		sh := dashboard.NewShell(nil, nil, id)
		shells = append(shells, sh)
		return sh
	})

	handler := sessions.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, ShellFrom(r.Context()))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, shells, 1)
	cookie := rec.Result().Cookies()[0]
	assert.Equal(t, SessionCookieName, cookie.Name)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Len(t, shells, 1)
	assert.Equal(t, 1, sessions.Len())

	sessions.Close()
	assert.Zero(t, sessions.Len())
	assert.ErrorIs(t, shells[0].Load(context.Background(), "42"), dashboard.ErrClosed)
}

func TestStartStop(t *testing.T) {
	srv, err := NewServer(Options{
		Addr:       "127.0.0.1:0",
		Backend:    &backend.Client{},
		BackendURL: &url.URL{Scheme: "http", Host: "127.0.0.1:1"},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
}
