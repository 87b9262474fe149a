package backup

import (
	"context"
	"fmt"

	dg "github.com/bwmarrin/discordgo"
)

// Client is the guild transport the builder and restorer call through. Every method is a
// single remote call from the caller's point of view; retries and rate limiting belong
// to the implementation.
type Client interface {
	Guild(ctx context.Context, guildID string) (*dg.Guild, error)
	// Self returns the acting bot's member on the guild.
	Self(ctx context.Context, guildID string) (*dg.Member, error)
	Roles(ctx context.Context, guildID string) ([]*dg.Role, error)
	Channels(ctx context.Context, guildID string) ([]*dg.Channel, error)
	Members(ctx context.Context, guildID string) ([]*dg.Member, error)
	Bans(ctx context.Context, guildID string) ([]*dg.GuildBan, error)
	Webhooks(ctx context.Context, channelID string) ([]*dg.Webhook, error)

	CreateRole(ctx context.Context, guildID string, params *dg.RoleParams, reason string) (*dg.Role, error)
	EditRole(ctx context.Context, guildID, roleID string, params *dg.RoleParams, reason string) (*dg.Role, error)
	DeleteRole(ctx context.Context, guildID, roleID, reason string) error
	CreateChannel(ctx context.Context, guildID string, data dg.GuildChannelCreateData, reason string) (*dg.Channel, error)
	EditChannel(ctx context.Context, channelID string, data *dg.ChannelEdit, reason string) (*dg.Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	EditGuild(ctx context.Context, guildID string, params *dg.GuildParams, reason string) (*dg.Guild, error)
	Ban(ctx context.Context, guildID, userID, reason string) error
	EditMember(ctx context.Context, guildID, userID string, params *dg.GuildMemberParams, reason string) error
	// Nickname sets a member's nickname; an empty nick clears it.
	Nickname(ctx context.Context, guildID, userID, nick, reason string) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
}

// Principal is the user a restore is performed on behalf of.
type Principal struct {
	ID   string
	Name string
}

func PrincipalFromUser(u *dg.User) Principal {
	if u == nil {
		return Principal{}
	}
	return Principal{ID: u.ID, Name: u.String()}
}

func (p Principal) String() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func (p Principal) reason() string {
	return fmt.Sprintf("Backup loaded by %s", p)
}
