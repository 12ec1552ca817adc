package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/guilddash/pkg/guildconfig"
	"github.com/small-frappuccino/guilddash/pkg/log"
)

const (
	defaultTimeout       = 15 * time.Second
	maxErrorBodyBytes    = 512
	maxJSONResponseBytes = 4 << 20
	maxImageBytes        = 16 << 20
)

// ErrEmptyGuildID is returned without a request when a guild-scoped call gets no id.
var ErrEmptyGuildID = errors.New("guild id is empty")

// ErrInvalidGuildID is returned without a request when a guild id is not a snowflake.
var ErrInvalidGuildID = errors.New("guild id must be a numeric snowflake")

// Options configures NewClient.
type Options struct {
	// BaseURL is the backend origin, e.g. http://127.0.0.1:8000.
	BaseURL string
	// InternalToken is the shared secret for bot-authenticated endpoints.
	InternalToken string
	// SessionCookie names the backend session cookie. Defaults to DefaultSessionCookie.
	SessionCookie string
	// Timeout bounds each request. Defaults to 15s.
	Timeout time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
	// Strategies overrides the per-capability authenticators.
	Strategies map[Capability]Authenticator
}

// Client talks to the configuration backend.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	strategies map[Capability]Authenticator
}

// NewClient returns a backend client for opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("backend base URL is empty")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base URL must be http or https, got %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	strategies := opts.Strategies
	if strategies == nil {
		strategies = DefaultStrategies(opts.SessionCookie, opts.InternalToken)
	}

	return &Client{base: base, httpClient: hc, strategies: strategies}, nil
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Me resolves the browser's backend session into the guilds it can manage.
func (c *Client) Me(ctx context.Context) ([]Guild, error) {
	var resp meResponse
	if err := c.getJSON(ctx, "resolve session", CapabilitySession, "/auth/me", &resp); err != nil {
		return nil, err
	}
	return guildsFrom(resp.Guilds), nil
}

// GuildConfig fetches a guild's configuration.
func (c *Client) GuildConfig(ctx context.Context, guildID string) (guildconfig.Config, error) {
	p, err := guildPath(guildID, "config")
	if err != nil {
		return guildconfig.Config{}, err
	}
	var cfg guildconfig.Config
	if err := c.getJSON(ctx, "load config", CapabilityGuildConfig, p, &cfg); err != nil {
		return guildconfig.Config{}, err
	}
	return cfg, nil
}

// SaveGuildConfig replaces a guild's configuration with cfg.
func (c *Client) SaveGuildConfig(ctx context.Context, guildID string, cfg guildconfig.Config) error {
	p, err := guildPath(guildID, "config")
	if err != nil {
		return err
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	resp, err := c.do(ctx, "save config", CapabilityGuildConfig, http.MethodPost, p, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Channels lists the guild's text and announcement channels.
func (c *Client) Channels(ctx context.Context, guildID string) ([]Option, error) {
	p, err := guildPath(guildID, "channels")
	if err != nil {
		return nil, err
	}
	var channels []*discordgo.Channel
	if err := c.getJSON(ctx, "list channels", CapabilityBot, p, &channels); err != nil {
		return nil, err
	}
	return channelOptions(channels), nil
}

// Roles lists the guild's roles.
func (c *Client) Roles(ctx context.Context, guildID string) ([]Option, error) {
	p, err := guildPath(guildID, "roles")
	if err != nil {
		return nil, err
	}
	var roles []*discordgo.Role
	if err := c.getJSON(ctx, "list roles", CapabilityBot, p, &roles); err != nil {
		return nil, err
	}
	return roleOptions(roles), nil
}

// Fonts lists the font names the renderer supports.
func (c *Client) Fonts(ctx context.Context) ([]string, error) {
	var resp fontsResponse
	if err := c.getJSON(ctx, "list fonts", CapabilityPublic, "/api/fonts", &resp); err != nil {
		return nil, err
	}
	return resp.Fonts, nil
}

// Upload stores an image in the guild's uploads area and returns the identifier the
// backend assigned to it.
func (c *Client) Upload(ctx context.Context, guildID, filename string, r io.Reader) (guildconfig.ImageRef, error) {
	p, err := guildPath(guildID, "upload")
	if err != nil {
		return "", err
	}
	if r == nil || strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("upload: no file")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload: create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("upload: read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload: close form: %w", err)
	}

	resp, err := c.do(ctx, "upload image", CapabilityBot, http.MethodPost, p, mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	return readImageRef(resp, "upload image")
}

// Preview renders a welcome card from fields without persisting it.
func (c *Client) Preview(ctx context.Context, guildID string, fields guildconfig.Fields) (Image, error) {
	p, err := guildPath(guildID, "preview")
	if err != nil {
		return Image{}, err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return Image{}, fmt.Errorf("encode preview fields: %w", err)
	}
	resp, err := c.do(ctx, "render preview", CapabilityBot, http.MethodPost, p, "application/json", bytes.NewReader(body))
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("render preview: read body: %w", err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("render preview: image exceeds %d bytes", maxImageBytes)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: ct}, nil
}

// SavePreview renders a welcome card and stores it in the guild's uploads area.
func (c *Client) SavePreview(ctx context.Context, guildID string, fields guildconfig.Fields) (guildconfig.ImageRef, error) {
	p, err := guildPath(guildID, "preview", "save")
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode preview fields: %w", err)
	}
	resp, err := c.do(ctx, "save preview", CapabilityBot, http.MethodPost, p, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	return readImageRef(resp, "save preview")
}

// UploadPath returns the backend path that serves a stored image.
func UploadPath(guildID string, ref guildconfig.ImageRef) string {
	name := ref.Name()
	if guildID == "" || name == "" {
		return ""
	}
	return "/api/guilds/" + url.PathEscape(guildID) + "/uploads/" + url.PathEscape(name)
}

func (c *Client) getJSON(ctx context.Context, op string, capability Capability, p string, out any) error {
	resp, err := c.do(ctx, op, capability, http.MethodGet, p, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// do sends one request and returns the response only for 2xx statuses.
func (c *Client) do(ctx context.Context, op string, capability Capability, method, p, contentType string, body io.Reader) (*http.Response, error) {
	u := c.base.JoinPath(p)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, image/*")

	auth, ok := c.strategies[capability]
	if !ok {
		return nil, fmt.Errorf("%s: no authenticator for capability %s", op, capability)
	}
	if err := auth.Authenticate(ctx, req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.BackendLogger().Debug("Backend request",
		"op", op, "method", method, "path", u.Path, "status", resp.StatusCode,
		"duration", time.Since(started).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

func readImageRef(resp *http.Response, op string) (guildconfig.ImageRef, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%s: read body: %w", op, err)
	}
	ref := guildconfig.ImageRefFromResponse(b)
	if ref.IsZero() {
		return "", fmt.Errorf("%s: response carries no image identifier", op)
	}
	return ref, nil
}

// CheckGuildID reports whether guildID can be placed in a backend path. Only
// Discord snowflakes, unsigned decimal integers, are accepted.
func CheckGuildID(guildID string) error {
	if guildID == "" {
		return ErrEmptyGuildID
	}
	if _, err := strconv.ParseUint(guildID, 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidGuildID, guildID)
	}
	return nil
}

func guildPath(guildID string, parts ...string) (string, error) {
	guildID = strings.TrimSpace(guildID)
	if err := CheckGuildID(guildID); err != nil {
		return "", err
	}
	return "/api/guilds/" + url.PathEscape(guildID) + "/" + strings.Join(parts, "/"), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxJSONResponseBytes))
	_ = resp.Body.Close()
}
