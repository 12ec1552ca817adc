package backend

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Option is a selectable (value, label) pair for channel and role selectors.
type Option struct {
	Value string
	Label string
}

// Guild is one entry of the signed-in user's guild list.
type Guild struct {
	ID    string
	Name  string
	Owner bool
}

// Image is a rendered welcome card.
type Image struct {
	Data        []byte
	ContentType string
}

type meResponse struct {
	Guilds []*discordgo.UserGuild `json:"guilds"`
}

type fontsResponse struct {
	Fonts []string `json:"fonts"`
}

// announcementChannelTypes are the channel kinds a welcome announcement can be posted to.
var announcementChannelTypes = map[discordgo.ChannelType]bool{
	discordgo.ChannelTypeGuildText: true,
	discordgo.ChannelTypeGuildNews: true,
}

func channelOptions(channels []*discordgo.Channel) []Option {
	out := make([]Option, 0, len(channels))
	for _, c := range channels {
		if c == nil || c.ID == "" || !announcementChannelTypes[c.Type] {
			continue
		}
		out = append(out, Option{Value: c.ID, Label: labelOr(c.Name, c.ID)})
	}
	return out
}

func roleOptions(roles []*discordgo.Role) []Option {
	out := make([]Option, 0, len(roles))
	for _, r := range roles {
		if r == nil || r.ID == "" {
			continue
		}
		out = append(out, Option{Value: r.ID, Label: labelOr(r.Name, r.ID)})
	}
	return out
}

func guildsFrom(in []*discordgo.UserGuild) []Guild {
	out := make([]Guild, 0, len(in))
	for _, g := range in {
		if g == nil {
			continue
		}
		out = append(out, Guild{ID: g.ID, Name: g.Name, Owner: g.Owner})
	}
	return out
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}

// StatusError is a non-success response from the backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.Status, e.Body)
}
