package backup

import (
	"context"

	dg "github.com/bwmarrin/discordgo"
	"github.com/graxinc/errutil"
)

const pageSize = 1000

// SessionClient implements Client on a discordgo session. Rate limiting is handled by
// the session's own ratelimiter.
type SessionClient struct {
	s *dg.Session
}

func NewSessionClient(s *dg.Session) *SessionClient {
	return &SessionClient{s: s}
}

func opts(ctx context.Context, reason string) []dg.RequestOption {
	o := []dg.RequestOption{dg.WithContext(ctx)}
	if reason != "" {
		o = append(o, dg.WithAuditLogReason(reason))
	}
	return o
}

func (c *SessionClient) Guild(ctx context.Context, guildID string) (*dg.Guild, error) {
	g, err := c.s.Guild(guildID, opts(ctx, "")...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return g, nil
}

func (c *SessionClient) Self(ctx context.Context, guildID string) (*dg.Member, error) {
	if c.s.State == nil || c.s.State.User == nil {
		return nil, errutil.With(ErrGuildUnavailable)
	}

	if m, err := c.s.State.Member(guildID, c.s.State.User.ID); err == nil {
		return m, nil
	}

	m, err := c.s.GuildMember(guildID, c.s.State.User.ID, opts(ctx, "")...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return m, nil
}

func (c *SessionClient) Roles(ctx context.Context, guildID string) ([]*dg.Role, error) {
	roles, err := c.s.GuildRoles(guildID, opts(ctx, "")...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return roles, nil
}

func (c *SessionClient) Channels(ctx context.Context, guildID string) ([]*dg.Channel, error) {
	channels, err := c.s.GuildChannels(guildID, opts(ctx, "")...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return channels, nil
}

func (c *SessionClient) Members(ctx context.Context, guildID string) ([]*dg.Member, error) {
	var all []*dg.Member
	after := ""
	for {
		page, err := c.s.GuildMembers(guildID, after, pageSize, opts(ctx, "")...)
		if err != nil {
			return all, errutil.With(err)
		}
		all = append(all, page...)

		if len(page) < pageSize || page[len(page)-1].User == nil {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (c *SessionClient) Bans(ctx context.Context, guildID string) ([]*dg.GuildBan, error) {
	var all []*dg.GuildBan
	after := ""
	for {
		page, err := c.s.GuildBans(guildID, pageSize, "", after, opts(ctx, "")...)
		if err != nil {
			return all, errutil.With(err)
		}
		all = append(all, page...)

		if len(page) < pageSize || page[len(page)-1].User == nil {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (c *SessionClient) Webhooks(ctx context.Context, channelID string) ([]*dg.Webhook, error) {
	hooks, err := c.s.ChannelWebhooks(channelID, opts(ctx, "")...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return hooks, nil
}

func (c *SessionClient) CreateRole(ctx context.Context, guildID string, params *dg.RoleParams, reason string) (*dg.Role, error) {
	r, err := c.s.GuildRoleCreate(guildID, params, opts(ctx, reason)...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return r, nil
}

func (c *SessionClient) EditRole(ctx context.Context, guildID, roleID string, params *dg.RoleParams, reason string) (*dg.Role, error) {
	r, err := c.s.GuildRoleEdit(guildID, roleID, params, opts(ctx, reason)...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return r, nil
}

func (c *SessionClient) DeleteRole(ctx context.Context, guildID, roleID, reason string) error {
	if err := c.s.GuildRoleDelete(guildID, roleID, opts(ctx, reason)...); err != nil {
		return errutil.With(err)
	}
	return nil
}

func (c *SessionClient) CreateChannel(ctx context.Context, guildID string, data dg.GuildChannelCreateData, reason string) (*dg.Channel, error) {
	ch, err := c.s.GuildChannelCreateComplex(guildID, data, opts(ctx, reason)...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return ch, nil
}

func (c *SessionClient) EditChannel(ctx context.Context, channelID string, data *dg.ChannelEdit, reason string) (*dg.Channel, error) {
	ch, err := c.s.ChannelEdit(channelID, data, opts(ctx, reason)...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return ch, nil
}

func (c *SessionClient) DeleteChannel(ctx context.Context, channelID, reason string) error {
	if _, err := c.s.ChannelDelete(channelID, opts(ctx, reason)...); err != nil {
		return errutil.With(err)
	}
	return nil
}

func (c *SessionClient) EditGuild(ctx context.Context, guildID string, params *dg.GuildParams, reason string) (*dg.Guild, error) {
	g, err := c.s.GuildEdit(guildID, params, opts(ctx, reason)...)
	if err != nil {
		return nil, errutil.With(err)
	}
	return g, nil
}

func (c *SessionClient) Ban(ctx context.Context, guildID, userID, reason string) error {
	if err := c.s.GuildBanCreateWithReason(guildID, userID, reason, 0, opts(ctx, "")...); err != nil {
		return errutil.With(err)
	}
	return nil
}

func (c *SessionClient) EditMember(ctx context.Context, guildID, userID string, params *dg.GuildMemberParams, reason string) error {
	if _, err := c.s.GuildMemberEdit(guildID, userID, params, opts(ctx, reason)...); err != nil {
		return errutil.With(err)
	}
	return nil
}

func (c *SessionClient) Nickname(ctx context.Context, guildID, userID, nick, reason string) error {
	if err := c.s.GuildMemberNickname(guildID, userID, nick, opts(ctx, reason)...); err != nil {
		return errutil.With(err)
	}
	return nil
}

func (c *SessionClient) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	if err := c.s.GuildMemberRoleAdd(guildID, userID, roleID, opts(ctx, reason)...); err != nil {
		return errutil.With(err)
	}
	return nil
}
