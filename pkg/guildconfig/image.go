package guildconfig

import (
	"encoding/json"
	"path"
	"strings"
)

// ImageRef is the stored reference to a guild's welcome image. The backend answers
// uploads and preview saves with differently shaped identifiers; both are normalized
// into an ImageRef before they become the configuration's image value.
type ImageRef string

// imageRefKeys lists response keys in the order they are trusted.
var imageRefKeys = []string{"path", "id", "filename", "name"}

// ImageRefFromResponse extracts the identifier from an upload or preview-save
// response body. It returns "" when the body carries no usable identifier.
func ImageRefFromResponse(body []byte) ImageRef {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range imageRefKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return ImageRef(s)
		}
	}
	return ""
}

// Name returns the file name component used to address the image in the guild's
// uploads area.
func (r ImageRef) Name() string {
	s := strings.TrimSpace(strings.ReplaceAll(string(r), `\`, "/"))
	if s == "" {
		return ""
	}
	name := path.Base(s)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// IsZero reports whether the reference is empty.
func (r ImageRef) IsZero() bool { return strings.TrimSpace(string(r)) == "" }

func (r ImageRef) String() string { return string(r) }
