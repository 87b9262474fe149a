package backup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	dg "github.com/bwmarrin/discordgo"
)

var errNotFound = errors.New("not found")

func forbidden() error {
	return &dg.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden, Status: "403 Forbidden"},
		Message:  &dg.APIErrorMessage{Code: dg.ErrCodeMissingPermissions, Message: "Missing Permissions"},
	}
}

// fakeGuild is an in-memory guild. New roles land at position 1 and push the rest up,
// which is how the platform places them.
type fakeGuild struct {
	mu sync.Mutex

	guild    *dg.Guild
	self     *dg.Member
	roles    []*dg.Role
	channels []*dg.Channel
	members  []*dg.Member
	bans     []*dg.GuildBan
	webhooks map[string][]*dg.Webhook

	// fail maps "op:id" to the error that call returns.
	fail    map[string]error
	calls   []string
	reasons []string
	seq     int
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		guild: &dg.Guild{ID: "g", Name: "Target", OwnerID: "owner", Region: "us-west"},
		self:  &dg.Member{User: &dg.User{ID: "bot"}, Roles: []string{"bot"}},
		roles: []*dg.Role{
			{ID: "g", Name: "@everyone", Position: 0},
			{ID: "bot", Name: "Ark", Position: 10, Managed: true},
		},
		webhooks: make(map[string][]*dg.Webhook),
		fail:     make(map[string]error),
	}
}

func (f *fakeGuild) record(op, id, reason string) error {
	f.calls = append(f.calls, op+":"+id)
	if reason != "" {
		f.reasons = append(f.reasons, reason)
	}
	return f.fail[op+":"+id]
}

func (f *fakeGuild) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeGuild) called(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.calls {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			out = append(out, c[len(op)+1:])
		}
	}
	return out
}

func (f *fakeGuild) role(id string) *dg.Role {
	for _, r := range f.roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *fakeGuild) roleNamed(name string) *dg.Role {
	for _, r := range f.roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (f *fakeGuild) channel(id string) *dg.Channel {
	for _, c := range f.channels {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeGuild) channelNamed(name string) *dg.Channel {
	for _, c := range f.channels {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (f *fakeGuild) member(id string) *dg.Member {
	for _, m := range f.members {
		if m.User.ID == id {
			return m
		}
	}
	return nil
}

// hierarchy lists role names highest position first.
func (f *fakeGuild) hierarchy() []string {
	roles := slices.Clone(f.roles)
	slices.SortFunc(roles, func(a, b *dg.Role) int { return b.Position - a.Position })

	var out []string
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}

func (f *fakeGuild) Guild(_ context.Context, guildID string) (*dg.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("guild", guildID, ""); err != nil {
		return nil, err
	}
	if guildID != f.guild.ID {
		return nil, errNotFound
	}
	g := *f.guild
	return &g, nil
}

func (f *fakeGuild) Self(context.Context, string) (*dg.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("self", "", ""); err != nil {
		return nil, err
	}
	return f.self, nil
}

func (f *fakeGuild) Roles(context.Context, string) ([]*dg.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("roles", "", ""); err != nil {
		return nil, err
	}
	out := make([]*dg.Role, 0, len(f.roles))
	for _, r := range f.roles {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeGuild) Channels(context.Context, string) ([]*dg.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("channels", "", ""); err != nil {
		return nil, err
	}
	out := make([]*dg.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		c := *ch
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeGuild) Members(context.Context, string) ([]*dg.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("members", "", ""); err != nil {
		return nil, err
	}
	out := make([]*dg.Member, 0, len(f.members))
	for _, m := range f.members {
		c := *m
		c.Roles = slices.Clone(m.Roles)
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeGuild) Bans(context.Context, string) ([]*dg.GuildBan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("bans", "", ""); err != nil {
		return nil, err
	}
	return slices.Clone(f.bans), nil
}

func (f *fakeGuild) Webhooks(_ context.Context, channelID string) ([]*dg.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("webhooks", channelID, ""); err != nil {
		return nil, err
	}
	return f.webhooks[channelID], nil
}

func applyRole(r *dg.Role, p *dg.RoleParams) {
	if p.Name != "" {
		r.Name = p.Name
	}
	if p.Color != nil {
		r.Color = *p.Color
	}
	if p.Hoist != nil {
		r.Hoist = *p.Hoist
	}
	if p.Permissions != nil {
		r.Permissions = *p.Permissions
	}
	if p.Mentionable != nil {
		r.Mentionable = *p.Mentionable
	}
}

func (f *fakeGuild) CreateRole(_ context.Context, _ string, params *dg.RoleParams, reason string) (*dg.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("create_role", params.Name, reason); err != nil {
		return nil, err
	}

	for _, r := range f.roles {
		if r.Position >= 1 {
			r.Position++
		}
	}
	r := &dg.Role{ID: f.nextID("role"), Position: 1}
	applyRole(r, params)
	f.roles = append(f.roles, r)

	c := *r
	return &c, nil
}

func (f *fakeGuild) EditRole(_ context.Context, _ string, roleID string, params *dg.RoleParams, reason string) (*dg.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("edit_role", roleID, reason); err != nil {
		return nil, err
	}
	r := f.role(roleID)
	if r == nil {
		return nil, errNotFound
	}
	applyRole(r, params)

	c := *r
	return &c, nil
}

func (f *fakeGuild) DeleteRole(_ context.Context, _ string, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("delete_role", roleID, reason); err != nil {
		return err
	}
	i := slices.IndexFunc(f.roles, func(r *dg.Role) bool { return r.ID == roleID })
	if i < 0 {
		return errNotFound
	}
	f.roles = slices.Delete(f.roles, i, i+1)
	return nil
}

func (f *fakeGuild) CreateChannel(_ context.Context, _ string, data dg.GuildChannelCreateData, reason string) (*dg.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("create_channel", data.Name, reason); err != nil {
		return nil, err
	}
	ch := &dg.Channel{
		ID:                   f.nextID("chan"),
		GuildID:              f.guild.ID,
		Name:                 data.Name,
		Type:                 data.Type,
		ParentID:             data.ParentID,
		PermissionOverwrites: data.PermissionOverwrites,
		Position:             len(f.channels),
	}
	f.channels = append(f.channels, ch)

	c := *ch
	return &c, nil
}

func (f *fakeGuild) EditChannel(_ context.Context, channelID string, data *dg.ChannelEdit, reason string) (*dg.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("edit_channel", channelID, reason); err != nil {
		return nil, err
	}
	ch := f.channel(channelID)
	if ch == nil {
		return nil, errNotFound
	}
	if data.Topic != "" {
		ch.Topic = data.Topic
	}
	if data.NSFW != nil {
		ch.NSFW = *data.NSFW
	}
	if data.RateLimitPerUser != nil {
		ch.RateLimitPerUser = *data.RateLimitPerUser
	}
	if data.Bitrate != 0 {
		ch.Bitrate = data.Bitrate
	}
	if data.UserLimit != 0 {
		ch.UserLimit = data.UserLimit
	}

	c := *ch
	return &c, nil
}

func (f *fakeGuild) DeleteChannel(_ context.Context, channelID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("delete_channel", channelID, reason); err != nil {
		return err
	}
	i := slices.IndexFunc(f.channels, func(c *dg.Channel) bool { return c.ID == channelID })
	if i < 0 {
		return errNotFound
	}
	f.channels = slices.Delete(f.channels, i, i+1)
	return nil
}

func (f *fakeGuild) EditGuild(_ context.Context, guildID string, params *dg.GuildParams, reason string) (*dg.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("edit_guild", guildID, reason); err != nil {
		return nil, err
	}
	if params.Name != "" {
		f.guild.Name = params.Name
	}
	if params.Region != "" {
		f.guild.Region = params.Region
	}
	f.guild.AfkChannelID = params.AfkChannelID
	f.guild.AfkTimeout = params.AfkTimeout
	f.guild.SystemChannelID = params.SystemChannelID
	if params.VerificationLevel != nil {
		f.guild.VerificationLevel = *params.VerificationLevel
	}

	g := *f.guild
	return &g, nil
}

func (f *fakeGuild) Ban(_ context.Context, _ string, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ban", userID, ""); err != nil {
		return err
	}
	f.bans = append(f.bans, &dg.GuildBan{User: &dg.User{ID: userID}, Reason: reason})
	return nil
}

func (f *fakeGuild) EditMember(_ context.Context, _ string, userID string, params *dg.GuildMemberParams, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("edit_member", userID, reason); err != nil {
		return err
	}
	m := f.member(userID)
	if m == nil {
		return errNotFound
	}
	if params.Nick != "" {
		m.Nick = params.Nick
	}
	if params.Roles != nil {
		m.Roles = slices.Clone(*params.Roles)
	}
	return nil
}

func (f *fakeGuild) Nickname(_ context.Context, _ string, userID, nick, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("nickname", userID, reason); err != nil {
		return err
	}
	m := f.member(userID)
	if m == nil {
		return errNotFound
	}
	m.Nick = nick
	return nil
}

func (f *fakeGuild) AddMemberRole(_ context.Context, _ string, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("add_member_role", userID+"/"+roleID, reason); err != nil {
		return err
	}
	m := f.member(userID)
	if m == nil {
		return errNotFound
	}
	if !slices.Contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}
