// Package guildconfig models the per-guild welcome configuration edited by the dashboard.
//
// The backend stores the configuration as an untyped JSON object. Config keeps the
// keys the dashboard understands in typed fields and carries every other key verbatim
// in Extra, so an edit round-trip never drops data it does not know about.
package guildconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Known configuration keys.
const (
	KeyWelcomeMessage        = "welcome_message"
	KeyAnnouncementChannelID = "announcement_channel_id"
	KeyRoleID                = "role_id"
	KeyFont                  = "font"
	KeyImage                 = "image"
)

var knownKeys = []string{
	KeyWelcomeMessage,
	KeyAnnouncementChannelID,
	KeyRoleID,
	KeyFont,
	KeyImage,
}

// ErrNotObject is returned when a configuration document is valid JSON but not an object.
var ErrNotObject = errors.New("configuration must be a JSON object")

// Config is one guild's configuration.
//
// Known fields are nil when the key is absent from the source document. A known key
// whose value is not a JSON string is left untouched in Extra.
type Config struct {
	WelcomeMessage        *string
	AnnouncementChannelID *string
	RoleID                *string
	Font                  *string
	Image                 *string

	Extra map[string]json.RawMessage
}

// Fields are the editable values of a Config, with absent keys read as "".
type Fields struct {
	WelcomeMessage        string `json:"welcome_message"`
	AnnouncementChannelID string `json:"announcement_channel_id"`
	RoleID                string `json:"role_id"`
	Font                  string `json:"font"`
	Image                 string `json:"image"`
}

// Parse decodes a configuration document. It fails for malformed JSON and for
// documents whose top-level value is not an object.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Config) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotObject
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}

	*c = Config{}
	for _, key := range knownKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			// Non-string values stay in Extra untouched.
			continue
		}
		*c.field(key) = &s
		delete(raw, key)
	}
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Keys are emitted in sorted order.
func (c Config) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+len(knownKeys))
	maps.Copy(out, c.Extra)
	for _, key := range knownKeys {
		p := c.fieldValue(key)
		if p == nil {
			continue
		}
		b, err := json.Marshal(*p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = b
	}
	return json.Marshal(out)
}

// Pretty returns the two-space indented JSON form shown in the raw editor.
func (c Config) Pretty() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		// Extra holds only values that already decoded as JSON.
		return "{}"
	}
	return string(b)
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := Config{}
	for _, key := range knownKeys {
		if p := c.fieldValue(key); p != nil {
			v := *p
			*out.field(key) = &v
		}
	}
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Fields returns the editable values, defaulting absent keys to "".
func (c Config) Fields() Fields {
	return Fields{
		WelcomeMessage:        deref(c.WelcomeMessage),
		AnnouncementChannelID: deref(c.AnnouncementChannelID),
		RoleID:                deref(c.RoleID),
		Font:                  deref(c.Font),
		Image:                 deref(c.Image),
	}
}

// Merge returns a copy of c with every field of f written over it. Unknown keys in
// Extra are kept; a known key previously held in Extra as a non-string is replaced.
func (c Config) Merge(f Fields) Config {
	out := c.Clone()
	set := func(key, v string) {
		*out.field(key) = &v
		delete(out.Extra, key)
	}
	set(KeyWelcomeMessage, f.WelcomeMessage)
	set(KeyAnnouncementChannelID, f.AnnouncementChannelID)
	set(KeyRoleID, f.RoleID)
	set(KeyFont, f.Font)
	set(KeyImage, f.Image)
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

func (c *Config) field(key string) **string {
	switch key {
	case KeyWelcomeMessage:
		return &c.WelcomeMessage
	case KeyAnnouncementChannelID:
		return &c.AnnouncementChannelID
	case KeyRoleID:
		return &c.RoleID
	case KeyFont:
		return &c.Font
	case KeyImage:
		return &c.Image
	}
	panic("guildconfig: unknown key " + key)
}

func (c Config) fieldValue(key string) *string {
	return *c.field(key)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
