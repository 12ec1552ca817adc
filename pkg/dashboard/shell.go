// Package dashboard holds the per-browser view state of the guild dashboard: the
// Shell, which owns the loaded configuration and its raw JSON presentation, and the
// Editor, a typed form over the welcome-card fields.
//
// Both views keep their state in memory for the lifetime of one browser session.
// The parsed configuration held by the Shell is the single source of truth; the raw
// JSON text is derived from it on demand.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/small-frappuccino/guilddash/pkg/backend"
	"github.com/small-frappuccino/guilddash/pkg/errutil"
	"github.com/small-frappuccino/guilddash/pkg/guildconfig"
	"github.com/small-frappuccino/guilddash/pkg/log"
	"github.com/small-frappuccino/guilddash/pkg/storage"
)

// Backend is the part of the configuration backend the views call.
type Backend interface {
	Me(ctx context.Context) ([]backend.Guild, error)
	GuildConfig(ctx context.Context, guildID string) (guildconfig.Config, error)
	SaveGuildConfig(ctx context.Context, guildID string, cfg guildconfig.Config) error
	Channels(ctx context.Context, guildID string) ([]backend.Option, error)
	Roles(ctx context.Context, guildID string) ([]backend.Option, error)
	Fonts(ctx context.Context) ([]string, error)
	Upload(ctx context.Context, guildID, filename string, r io.Reader) (guildconfig.ImageRef, error)
	Preview(ctx context.Context, guildID string, fields guildconfig.Fields) (backend.Image, error)
	SavePreview(ctx context.Context, guildID string, fields guildconfig.Fields) (guildconfig.ImageRef, error)
}

// ChangeRecorder receives an entry for every successful write. It may be nil.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, rec storage.ChangeRecord) error
}

// Shell is the top-level view. It routes between the OAuth callback view and the
// dashboard, holds the loaded configuration and toggles the settings editor.
type Shell struct {
	backend   Backend
	recorder  ChangeRecorder
	sessionID string

	lifetime context.Context
	close    context.CancelFunc

	mu         sync.Mutex
	guildID    string
	config     *guildconfig.Config
	draft      *string
	editor     *Editor
	notice     *Notice
	busy       inflight
	loginState string
}

// NewShell returns a Shell for one browser session. The session id is attached to
// change records.
func NewShell(b Backend, recorder ChangeRecorder, sessionID string) *Shell {
	lifetime, cancel := context.WithCancel(context.Background())
	return &Shell{
		backend:    b,
		recorder:   recorder,
		sessionID:  sessionID,
		lifetime:   lifetime,
		close:      cancel,
		busy:       make(inflight),
		loginState: uuid.NewString(),
	}
}

// Close ends the Shell's lifetime: outstanding requests are cancelled and the
// editor, with any preview it holds, is released.
func (s *Shell) Close() {
	s.mu.Lock()
	ed := s.editor
	s.editor = nil
	s.mu.Unlock()
	if ed != nil {
		ed.Close()
	}
	s.close()
}

// Load fetches the configuration of guildID and makes it current. On failure the
// state is left untouched and no notice is raised. Ids that are not snowflakes are
// rejected without a request.
func (s *Shell) Load(ctx context.Context, guildID string) error {
	guildID = strings.TrimSpace(guildID)
	if err := backend.CheckGuildID(guildID); err != nil {
		return err
	}
	if err := s.begin("load"); err != nil {
		return err
	}
	defer s.end("load")

	ctx, cancel := bindLifetime(ctx, s.lifetime)
	defer cancel()

	var cfg guildconfig.Config
	err := errutil.HandleBackendError("load config", guildID, func() error {
		var err error
		cfg, err = s.backend.GuildConfig(ctx, guildID)
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.guildID = guildID
	s.config = &cfg
	s.draft = nil
	stale := s.retargetLocked(guildID)
	ed := s.editor
	s.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if ed != nil {
		ed.Reseed(cfg)
	}
	log.ApplicationLogger().Debug("Configuration loaded", "guild_id", guildID, "session", s.sessionID)
	return nil
}

// Save parses rawText and writes it as the configuration of guildID. Text that is
// not a JSON object raises the invalid-JSON notice and sends nothing.
func (s *Shell) Save(ctx context.Context, guildID, rawText string) error {
	guildID = strings.TrimSpace(guildID)
	if err := backend.CheckGuildID(guildID); err != nil {
		return err
	}

	s.mu.Lock()
	s.draft = &rawText
	s.mu.Unlock()

	cfg, err := guildconfig.Parse([]byte(rawText))
	if err != nil {
		s.setNotice(failed(MsgInvalidJSON))
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if err := s.begin("save"); err != nil {
		return err
	}
	defer s.end("save")

	ctx, cancel := bindLifetime(ctx, s.lifetime)
	defer cancel()

	err = errutil.HandleBackendError("save config", guildID, func() error {
		return s.backend.SaveGuildConfig(ctx, guildID, cfg)
	})
	if err != nil {
		s.setNotice(failed(MsgSaveFailed))
		return err
	}

	s.mu.Lock()
	s.guildID = guildID
	s.config = &cfg
	s.draft = nil
	stale := s.retargetLocked(guildID)
	ed := s.editor
	s.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if ed != nil {
		ed.Reseed(cfg)
	}
	s.setNotice(info(MsgSaved))
	s.record(ctx, storage.ChangeRecord{GuildID: guildID, Action: storage.ActionConfigSaved, Source: storage.SourceRawEditor})
	return nil
}

// ToggleEditor opens or closes the settings editor. It returns the editor when one
// was opened, so the caller can mount it.
func (s *Shell) ToggleEditor() (*Editor, error) {
	s.mu.Lock()
	if s.config == nil {
		s.mu.Unlock()
		return nil, ErrNoConfig
	}
	if ed := s.editor; ed != nil {
		s.editor = nil
		s.mu.Unlock()
		ed.Close()
		return nil, nil
	}
	ed := newEditor(s, s.guildID, *s.config)
	s.editor = ed
	s.mu.Unlock()
	return ed, nil
}

// OnEditorSaved adopts a configuration ed has persisted. The raw text is regenerated
// from it, so both views show the same document. The call is ignored, and false
// returned, when ed is no longer the open editor of the current guild.
func (s *Shell) OnEditorSaved(ed *Editor, cfg guildconfig.Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor != ed || s.guildID != ed.GuildID() {
		return false
	}
	c := cfg.Clone()
	s.config = &c
	s.draft = nil
	return true
}

// Editor returns the open settings editor, or nil.
func (s *Shell) Editor() *Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor
}

// RawText returns the text shown in the raw editor: the unsaved draft when the last
// save did not go through, otherwise the pretty-printed configuration.
func (s *Shell) RawText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawTextLocked()
}

func (s *Shell) rawTextLocked() string {
	if s.draft != nil {
		return *s.draft
	}
	if s.config == nil {
		return "{}"
	}
	return s.config.Pretty()
}

// Notice returns the pending notice without clearing it.
func (s *Shell) Notice() (Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice == nil {
		return Notice{}, false
	}
	return *s.notice, true
}

// TakeNotice returns the pending notice and clears it.
func (s *Shell) TakeNotice() (Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice == nil {
		return Notice{}, false
	}
	n := *s.notice
	s.notice = nil
	return n, true
}

// LoginURL is the dashboard-relative address that starts the OAuth flow.
func (s *Shell) LoginURL() string {
	return "/auth/login?state=" + url.QueryEscape(s.loginState)
}

// ShellView is a consistent snapshot of the Shell for rendering.
type ShellView struct {
	GuildID      string
	ConfigLoaded bool
	RawText      string
	EditorOpen   bool
	Saving       bool
	Loading      bool
	LoginURL     string
}

// View snapshots the Shell.
func (s *Shell) View() ShellView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ShellView{
		GuildID:      s.guildID,
		ConfigLoaded: s.config != nil,
		RawText:      s.rawTextLocked(),
		EditorOpen:   s.editor != nil,
		Saving:       s.busy["save"],
		Loading:      s.busy["load"],
		LoginURL:     s.LoginURL(),
	}
}

// OAuthState is the outcome of the OAuth callback view. The view is pending while
// OAuthCallback runs; the page is rendered once the guild list is resolved.
type OAuthState int

const (
	OAuthGuilds OAuthState = iota
	OAuthEmpty
)

// OAuthView is what the callback page shows.
type OAuthView struct {
	State  OAuthState
	Guilds []backend.Guild
}

// OAuthCallback resolves the browser's backend session into its guild list. Any
// failure shows as an empty list.
func (s *Shell) OAuthCallback(ctx context.Context) OAuthView {
	ctx, cancel := bindLifetime(ctx, s.lifetime)
	defer cancel()

	var guilds []backend.Guild
	err := errutil.HandleBackendError("resolve session", "", func() error {
		var err error
		guilds, err = s.backend.Me(ctx)
		return err
	})
	if err != nil || len(guilds) == 0 {
		return OAuthView{State: OAuthEmpty}
	}
	return OAuthView{State: OAuthGuilds, Guilds: guilds}
}

// retargetLocked detaches an editor opened for a guild other than guildID and
// returns it for the caller to close outside the lock.
func (s *Shell) retargetLocked(guildID string) *Editor {
	if s.editor == nil || s.editor.GuildID() == guildID {
		return nil
	}
	ed := s.editor
	s.editor = nil
	return ed
}

func (s *Shell) setNotice(n Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = &n
}

func (s *Shell) begin(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifetime.Err() != nil {
		return ErrClosed
	}
	if !s.busy.begin(op) {
		n := info(MsgOperationInFlight)
		s.notice = &n
		return ErrBusy
	}
	return nil
}

func (s *Shell) end(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy.end(op)
}

func (s *Shell) record(ctx context.Context, rec storage.ChangeRecord) {
	if s.recorder == nil {
		return
	}
	rec.SessionID = s.sessionID
	// The write already succeeded; a lost audit entry must not fail it.
	_ = errutil.HandleStoreError("record change", func() error {
		return s.recorder.RecordChange(context.WithoutCancel(ctx), rec)
	})
}
