package dashboard

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/small-frappuccino/guilddash/pkg/backend"
	"github.com/small-frappuccino/guilddash/pkg/guildconfig"
	"github.com/small-frappuccino/guilddash/pkg/storage"
)

var errBackendDown = errors.New("backend down")

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

// fakeBackend is an in-memory Backend that counts calls per method.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	configs  map[string]guildconfig.Config
	saved    map[string]guildconfig.Config
	channels []backend.Option
	roles    []backend.Option
	fonts    []string
	guilds   []backend.Guild
	uploadID guildconfig.ImageRef
	preview  backend.Image

	fail map[string]error

	// block, when set for a method, is waited on before the method returns.
	block map[string]chan struct{}
	// detached methods keep waiting on block after their context is cancelled, like
	// a reply already on the wire.
	detached map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:    make(map[string]int),
		configs:  make(map[string]guildconfig.Config),
		saved:    make(map[string]guildconfig.Config),
		fail:     make(map[string]error),
		block:    make(map[string]chan struct{}),
		detached: make(map[string]bool),
		preview:  backend.Image{Data: []byte("\x89PNG"), ContentType: "image/png"},
	}
}

func (f *fakeBackend) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	err := f.fail[method]
	wait := f.block[method]
	detached := f.detached[method]
	f.mu.Unlock()
	if wait != nil && detached {
		<-wait
		return err
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeBackend) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) Me(ctx context.Context) ([]backend.Guild, error) {
	if err := f.enter(ctx, "Me"); err != nil {
		return nil, err
	}
	return f.guilds, nil
}

func (f *fakeBackend) GuildConfig(ctx context.Context, guildID string) (guildconfig.Config, error) {
	if err := f.enter(ctx, "GuildConfig"); err != nil {
		return guildconfig.Config{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[guildID].Clone(), nil
}

func (f *fakeBackend) SaveGuildConfig(ctx context.Context, guildID string, cfg guildconfig.Config) error {
	if err := f.enter(ctx, "SaveGuildConfig"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[guildID] = cfg.Clone()
	f.configs[guildID] = cfg.Clone()
	return nil
}

func (f *fakeBackend) Channels(ctx context.Context, _ string) ([]backend.Option, error) {
	if err := f.enter(ctx, "Channels"); err != nil {
		return nil, err
	}
	return f.channels, nil
}

func (f *fakeBackend) Roles(ctx context.Context, _ string) ([]backend.Option, error) {
	if err := f.enter(ctx, "Roles"); err != nil {
		return nil, err
	}
	return f.roles, nil
}

func (f *fakeBackend) Fonts(ctx context.Context) ([]string, error) {
	if err := f.enter(ctx, "Fonts"); err != nil {
		return nil, err
	}
	return f.fonts, nil
}

func (f *fakeBackend) Upload(ctx context.Context, _, _ string, r io.Reader) (guildconfig.ImageRef, error) {
	if err := f.enter(ctx, "Upload"); err != nil {
		return "", err
	}
	_, _ = io.Copy(io.Discard, r)
	return f.uploadID, nil
}

func (f *fakeBackend) Preview(ctx context.Context, _ string, _ guildconfig.Fields) (backend.Image, error) {
	if err := f.enter(ctx, "Preview"); err != nil {
		return backend.Image{}, err
	}
	return f.preview, nil
}

func (f *fakeBackend) SavePreview(ctx context.Context, _ string, _ guildconfig.Fields) (guildconfig.ImageRef, error) {
	if err := f.enter(ctx, "SavePreview"); err != nil {
		return "", err
	}
	return f.uploadID, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []storage.ChangeRecord
}

func (m *memRecorder) RecordChange(_ context.Context, rec storage.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) records() []storage.ChangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.ChangeRecord(nil), m.recs...)
}

func mustParse(raw string) guildconfig.Config {
	cfg, err := guildconfig.Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return cfg
}
