package dashboard

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/small-frappuccino/guilddash/pkg/backend"
	"github.com/small-frappuccino/guilddash/pkg/errutil"
	"github.com/small-frappuccino/guilddash/pkg/guildconfig"
	"github.com/small-frappuccino/guilddash/pkg/log"
	"github.com/small-frappuccino/guilddash/pkg/storage"
)

// Editor operation names, also used as in-flight keys.
const (
	OpSave        = "save"
	OpUpload      = "upload"
	OpPreview     = "preview"
	OpSavePreview = "preview-save"
)

// Preview is a rendered welcome card held for display. Only the most recent one is
// kept; requesting another releases it.
type Preview struct {
	ID          string
	ContentType string
	Data        []byte
}

// Editor is the structured settings form for one guild. Its guild id is fixed for
// its whole life; the Shell closes it and opens a new one when the guild changes.
type Editor struct {
	shell   *Shell
	guildID string

	lifetime context.Context
	close    context.CancelFunc

	mu       sync.Mutex
	original guildconfig.Config
	fields   guildconfig.Fields
	channels []backend.Option
	roles    []backend.Option
	fonts    []string
	preview  *Preview
	busy     inflight
}

func newEditor(shell *Shell, guildID string, cfg guildconfig.Config) *Editor {
	lifetime, cancel := context.WithCancel(shell.lifetime)
	return &Editor{
		shell:    shell,
		guildID:  guildID,
		lifetime: lifetime,
		close:    cancel,
		original: cfg.Clone(),
		fields:   cfg.Fields(),
		busy:     make(inflight),
	}
}

// GuildID returns the guild the editor was opened for.
func (e *Editor) GuildID() string { return e.guildID }

// Close cancels outstanding requests and releases the current preview.
func (e *Editor) Close() {
	e.close()
	e.mu.Lock()
	e.preview = nil
	e.mu.Unlock()
}

// Reseed replaces the editor's base configuration and field values after the Shell
// adopted a newer configuration for the same guild.
func (e *Editor) Reseed(cfg guildconfig.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.original = cfg.Clone()
	e.fields = cfg.Fields()
}

// Edit applies form values. The image field is not editable directly; it changes
// through Upload and SavePreviewToUploads only.
func (e *Editor) Edit(f guildconfig.Fields) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f.Image = e.fields.Image
	e.fields = f
}

// Fields returns the current form values.
func (e *Editor) Fields() guildconfig.Fields {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fields
}

// Mount loads the data an opened editor needs: reference lists for its guild and the
// font list.
func (e *Editor) Mount(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error { e.LoadReferenceData(ctx); return nil })
	g.Go(func() error { e.LoadFontOptions(ctx); return nil })
	_ = g.Wait()
}

// LoadReferenceData fetches the channel and role lists. The two fetches run
// independently; a failed list is left empty without a notice.
func (e *Editor) LoadReferenceData(ctx context.Context) {
	ctx, cancel := bindLifetime(ctx, e.lifetime)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		opts, err := e.shell.backend.Channels(ctx, e.guildID)
		if err != nil {
			log.BackendLogger().Debug("Channel list unavailable", "guild_id", e.guildID, "error", err)
			opts = nil
		}
		e.mu.Lock()
		e.channels = opts
		e.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		opts, err := e.shell.backend.Roles(ctx, e.guildID)
		if err != nil {
			log.BackendLogger().Debug("Role list unavailable", "guild_id", e.guildID, "error", err)
			opts = nil
		}
		e.mu.Lock()
		e.roles = opts
		e.mu.Unlock()
		return nil
	})
	_ = g.Wait()
}

// LoadFontOptions fetches the supported font names. A configured font is kept; the
// first fetched font only fills an empty selection.
func (e *Editor) LoadFontOptions(ctx context.Context) {
	ctx, cancel := bindLifetime(ctx, e.lifetime)
	defer cancel()

	fonts, err := e.shell.backend.Fonts(ctx)
	if err != nil {
		log.BackendLogger().Debug("Font list unavailable", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.fonts = fonts
	if e.fields.Font == "" && len(fonts) > 0 {
		e.fields.Font = fonts[0]
	}
}

// Save merges the form values over the configuration the editor was seeded with and
// writes the result. On success the Shell adopts the merged configuration.
func (e *Editor) Save(ctx context.Context) error {
	if err := e.begin(OpSave); err != nil {
		return err
	}
	defer e.end(OpSave)

	ctx, cancel := bindLifetime(ctx, e.lifetime)
	defer cancel()

	e.mu.Lock()
	merged := e.original.Merge(e.fields)
	e.mu.Unlock()

	err := errutil.HandleBackendError("save settings", e.guildID, func() error {
		return e.shell.backend.SaveGuildConfig(ctx, e.guildID, merged)
	})
	if err != nil {
		e.shell.setNotice(failed(MsgSaveFailed))
		return err
	}

	e.mu.Lock()
	e.original = merged.Clone()
	e.mu.Unlock()

	if !e.shell.OnEditorSaved(e, merged) {
		log.ApplicationLogger().Debug("Settings saved after the editor was replaced", "guild_id", e.guildID)
	}
	e.shell.setNotice(info(MsgSaved))
	e.shell.record(ctx, storage.ChangeRecord{GuildID: e.guildID, Action: storage.ActionConfigSaved, Source: storage.SourceSettingsEditor})
	return nil
}

// Upload sends an image to the guild's uploads area and makes the identifier the
// backend returned the current image.
func (e *Editor) Upload(ctx context.Context, filename string, r io.Reader) error {
	if r == nil || strings.TrimSpace(filename) == "" {
		return ErrNoFile
	}
	if err := e.begin(OpUpload); err != nil {
		return err
	}
	defer e.end(OpUpload)

	ctx, cancel := bindLifetime(ctx, e.lifetime)
	defer cancel()

	var ref guildconfig.ImageRef
	err := errutil.HandleBackendError("upload image", e.guildID, func() error {
		var err error
		ref, err = e.shell.backend.Upload(ctx, e.guildID, filename, r)
		return err
	})
	if err != nil {
		e.shell.setNotice(failed(MsgUploadFailed))
		return err
	}

	e.setImage(ref)
	e.shell.setNotice(info(MsgUploadOK))
	e.shell.record(ctx, storage.ChangeRecord{GuildID: e.guildID, Action: storage.ActionImageUpload, Source: storage.SourceSettingsEditor, Image: ref.String()})
	return nil
}

// RequestPreview renders the current form values without persisting anything. The
// previous preview is released before the new one is stored.
func (e *Editor) RequestPreview(ctx context.Context) (*Preview, error) {
	if err := e.begin(OpPreview); err != nil {
		return nil, err
	}
	defer e.end(OpPreview)

	ctx, cancel := bindLifetime(ctx, e.lifetime)
	defer cancel()

	fields := e.Fields()
	var img backend.Image
	err := errutil.HandleBackendError("render preview", e.guildID, func() error {
		var err error
		img, err = e.shell.backend.Preview(ctx, e.guildID, fields)
		return err
	})
	if err != nil {
		e.shell.setNotice(failed(MsgPreviewFailed))
		return nil, err
	}

	p := &Preview{ID: uuid.NewString(), ContentType: img.ContentType, Data: img.Data}
	e.mu.Lock()
	e.preview = p
	e.mu.Unlock()
	return p, nil
}

// SavePreviewToUploads renders the current form values into the guild's uploads area
// and makes the stored image the current one.
func (e *Editor) SavePreviewToUploads(ctx context.Context) error {
	if err := e.begin(OpSavePreview); err != nil {
		return err
	}
	defer e.end(OpSavePreview)

	ctx, cancel := bindLifetime(ctx, e.lifetime)
	defer cancel()

	fields := e.Fields()
	var ref guildconfig.ImageRef
	err := errutil.HandleBackendError("save preview", e.guildID, func() error {
		var err error
		ref, err = e.shell.backend.SavePreview(ctx, e.guildID, fields)
		return err
	})
	if err != nil {
		e.shell.setNotice(failed(MsgPreviewSaveFailed))
		return err
	}

	e.setImage(ref)
	e.shell.setNotice(info(MsgPreviewSaved))
	e.shell.record(ctx, storage.ChangeRecord{GuildID: e.guildID, Action: storage.ActionPreviewSaved, Source: storage.SourceSettingsEditor, Image: ref.String()})
	return nil
}

// CurrentPreview returns the preview with the given id when it is still the current
// one.
func (e *Editor) CurrentPreview(id string) (*Preview, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.preview == nil || e.preview.ID != id {
		return nil, false
	}
	return e.preview, true
}

// EditorView is a consistent snapshot of the Editor for rendering.
type EditorView struct {
	GuildID   string
	Fields    guildconfig.Fields
	Channels  []backend.Option
	Roles     []backend.Option
	Fonts     []string
	ImageURL  string
	PreviewID string
	Busy      map[string]bool
}

// View snapshots the Editor. Every option list includes the configured value, so a
// channel, role or font the backend did not list stays selected and is submitted
// back unchanged.
func (e *Editor) View() EditorView {
	e.mu.Lock()
	defer e.mu.Unlock()

	fonts := slices.Clone(e.fonts)
	if f := e.fields.Font; f != "" && !slices.Contains(fonts, f) {
		fonts = append([]string{f}, fonts...)
	}
	busy := make(map[string]bool, len(e.busy))
	for op := range e.busy {
		busy[op] = true
	}
	v := EditorView{
		GuildID:  e.guildID,
		Fields:   e.fields,
		Channels: withSelected(e.channels, e.fields.AnnouncementChannelID),
		Roles:    withSelected(e.roles, e.fields.RoleID),
		Fonts:    fonts,
		ImageURL: backend.UploadPath(e.guildID, guildconfig.ImageRef(e.fields.Image)),
		Busy:     busy,
	}
	if e.preview != nil {
		v.PreviewID = e.preview.ID
	}
	return v
}

// withSelected returns a copy of opts that contains value, labelled by the id itself
// when the list does not carry it.
func withSelected(opts []backend.Option, value string) []backend.Option {
	out := slices.Clone(opts)
	if value == "" || slices.ContainsFunc(out, func(o backend.Option) bool { return o.Value == value }) {
		return out
	}
	return append([]backend.Option{{Value: value, Label: value}}, out...)
}

func (e *Editor) setImage(ref guildconfig.ImageRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields.Image = ref.String()
}

func (e *Editor) begin(op string) error {
	if e.lifetime.Err() != nil {
		return ErrClosed
	}
	e.mu.Lock()
	started := e.busy.begin(op)
	e.mu.Unlock()
	if !started {
		e.shell.setNotice(info(MsgOperationInFlight))
		return ErrBusy
	}
	return nil
}

func (e *Editor) end(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy.end(op)
}
