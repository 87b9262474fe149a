package backup

import (
	"slices"
	"strings"

	"github.com/glotchimo/ark/internal/snapshot"
)

const (
	fence = "```"
	// reserved is kept free at the end of a rendering for the closing fence.
	reserved = 10
)

// Info renders read-only summaries of a snapshot for display.
type Info struct {
	data *snapshot.Snapshot
}

func NewInfo(data *snapshot.Snapshot) *Info {
	if data == nil {
		data = snapshot.New(snapshot.GuildSettings{})
	}
	return &Info{data: data}
}

func (i *Info) Name() string {
	return i.data.Name
}

func (i *Info) IconURL() string {
	return i.data.IconURL
}

func (i *Info) MemberCount() int {
	return i.data.MemberCount
}

// ChatLog is the largest message count recorded on any text channel.
func (i *Info) ChatLog() int {
	n := 0
	for _, c := range i.data.TextChannels {
		n = max(n, len(c.Messages))
	}
	return n
}

// Channels renders the channel tree: uncategorized channels first, then each category with
// its children.
func (i *Info) Channels(limit int) string {
	var b strings.Builder
	b.WriteString(fence)

	for _, c := range i.data.TextChannels {
		if c.Category == nil {
			b.WriteString("\n#\u200a" + c.Name)
		}
	}
	for _, c := range i.data.VoiceChannels {
		if c.Category == nil {
			b.WriteString("\n \u200a" + c.Name)
		}
	}
	b.WriteString("\n")

	for _, cat := range i.data.Categories {
		b.WriteString("\n⯆\u200a" + cat.Name)
		for _, c := range i.data.TextChannels {
			if snapshot.Deref(c.Category) == cat.ID {
				b.WriteString("\n  #\u200a" + c.Name)
			}
		}
		for _, c := range i.data.VoiceChannels {
			if snapshot.Deref(c.Category) == cat.ID {
				b.WriteString("\n   \u200a" + c.Name)
			}
		}
		b.WriteString("\n")
	}

	return truncate(b.String(), limit)
}

// Roles lists role names lowest authority first.
func (i *Info) Roles(limit int) string {
	var b strings.Builder
	b.WriteString(fence)

	roles := slices.Clone(i.data.Roles)
	slices.Reverse(roles)
	for _, r := range roles {
		b.WriteString("\n" + r.Name)
	}

	return truncate(b.String(), limit)
}

func truncate(s string, limit int) string {
	keep := max(limit-reserved, 0)
	if r := []rune(s); len(r) > keep {
		s = string(r[:keep])
	}
	return s + fence
}
