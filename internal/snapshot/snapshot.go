package snapshot

// MemberLimit is the number of members kept by a snapshot, ordered by role count.
const MemberLimit = 1000

// GuildSettings holds the top-level guild fields. It is embedded in Snapshot so the
// fields sit at the document root.
type GuildSettings struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	IconURL               string  `json:"icon_url"`
	Owner                 string  `json:"owner"`
	MemberCount           int     `json:"member_count"`
	Region                string  `json:"region"`
	SystemChannel         *string `json:"system_channel"`
	AFKTimeout            int     `json:"afk_timeout"`
	AFKChannel            *string `json:"afk_channel"`
	MFALevel              int     `json:"mfa_level"`
	VerificationLevel     int     `json:"verification_level"`
	ExplicitContentFilter int     `json:"explicit_content_filter"`
	Large                 bool    `json:"large"`
}

type Snapshot struct {
	GuildSettings

	TextChannels  []TextChannel  `json:"text_channels"`
	VoiceChannels []VoiceChannel `json:"voice_channels"`
	Categories    []Category     `json:"categories"`
	Roles         []Role         `json:"roles"`
	Members       []Member       `json:"members"`
	Bans          []Ban          `json:"bans"`
}

// New returns an empty snapshot with every section allocated, so an empty section
// encodes as [] rather than null.
func New(settings GuildSettings) *Snapshot {
	return &Snapshot{
		GuildSettings: settings,
		TextChannels:  []TextChannel{},
		VoiceChannels: []VoiceChannel{},
		Categories:    []Category{},
		Roles:         []Role{},
		Members:       []Member{},
		Bans:          []Ban{},
	}
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions int64  `json:"permissions"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Position    int    `json:"position"`
	Mentionable bool   `json:"mentionable"`
	Default     bool   `json:"default"`
}

type Category struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Position   int        `json:"position"`
	Category   *string    `json:"category"`
	Overwrites Overwrites `json:"overwrites"`
}

type TextChannel struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Position      int        `json:"position"`
	Category      *string    `json:"category"`
	Overwrites    Overwrites `json:"overwrites"`
	Topic         string     `json:"topic"`
	SlowmodeDelay int        `json:"slowmode_delay"`
	NSFW          bool       `json:"nsfw"`
	Messages      []Message  `json:"messages"`
	Webhooks      []Webhook  `json:"webhooks"`
}

type VoiceChannel struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Position   int        `json:"position"`
	Category   *string    `json:"category"`
	Overwrites Overwrites `json:"overwrites"`
	Bitrate    int        `json:"bitrate"`
	UserLimit  int        `json:"user_limit"`
}

// Message is a placeholder; builders leave the list empty.
type Message struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

type Webhook struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
	URL     string `json:"url"`
}

type Member struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Discriminator string   `json:"discriminator"`
	Nick          string   `json:"nick"`
	Roles         []string `json:"roles"`
}

type Ban struct {
	User   string `json:"user"`
	Reason string `json:"reason"`
}

// Member returns the member record with the given id.
func (s *Snapshot) Member(id string) (Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// CustomRoleCount is the number of non-default roles in the snapshot.
func (s *Snapshot) CustomRoleCount() int {
	n := 0
	for _, r := range s.Roles {
		if !r.Default {
			n++
		}
	}
	return n
}

// Ref converts an id to a nullable reference; empty ids become nil.
func Ref(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Deref returns the referenced id or "".
func Deref(ref *string) string {
	if ref == nil {
		return ""
	}
	return *ref
}
