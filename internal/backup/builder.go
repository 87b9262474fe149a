package backup

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/graxinc/errutil"
)

type BuilderOption func(*Builder)

// WithMemberLimit caps how many members a snapshot keeps. It never exceeds
// snapshot.MemberLimit, which Validate enforces on import.
func WithMemberLimit(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.memberLimit = min(n, snapshot.MemberLimit)
		}
	}
}

// Builder reads a live guild into a snapshot. Each section is built by an independent
// step; a failing step leaves its section partial and the remaining steps still run.
type Builder struct {
	c           Client
	l           *slog.Logger
	memberLimit int
}

func NewBuilder(c Client, l *slog.Logger, opts ...BuilderOption) *Builder {
	if l == nil {
		l = slog.Default()
	}

	b := &Builder{c: c, l: l, memberLimit: snapshot.MemberLimit}
	for _, o := range opts {
		o(b)
	}
	return b
}

type buildStep struct {
	phase Phase
	fn    func(context.Context, *dg.Guild, *snapshot.Snapshot, *PhaseReport) error
}

// Build snapshots the guild. The error is non-nil only when the guild itself cannot be
// fetched.
func (b *Builder) Build(ctx context.Context, guildID string) (*snapshot.Snapshot, *Report, error) {
	g, err := b.c.Guild(ctx, guildID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrGuildUnavailable, err)
	}
	if g == nil {
		return nil, nil, ErrGuildUnavailable
	}

	data := snapshot.New(settings(g))
	report := newReport(guildID)

	steps := []buildStep{
		{PhaseRoles, b.saveRoles},
		{PhaseChannels, b.saveChannels},
		{PhaseMembers, b.saveMembers},
		{PhaseBans, b.saveBans},
	}

	for _, s := range steps {
		b.run(ctx, g, data, report.phase(s.phase), s.fn)
	}

	report.Finished = time.Now().UTC()
	b.l.Debug("built backup", "guild", guildID, "saved", report.Succeeded(), "skipped", report.Skipped(), "duration", report.Duration())

	return data, report, nil
}

func (b *Builder) run(ctx context.Context, g *dg.Guild, data *snapshot.Snapshot, pr *PhaseReport, fn func(context.Context, *dg.Guild, *snapshot.Snapshot, *PhaseReport) error) {
	defer func() {
		if r := recover(); r != nil {
			pr.Err = &SkipError{Kind: DataError, Err: panicError{r}}
			b.l.Error("panic recovered while building backup", "guild", g.ID, "phase", pr.Phase, "recovered", r)
		}
	}()

	b.l.Debug("saving section", "guild", g.ID, "phase", pr.Phase)
	if err := fn(ctx, g, data, pr); err != nil {
		pr.Err = Classify(err)
		b.l.Error("error saving section", "guild", g.ID, "phase", pr.Phase, "error", err)
	}
}

// save runs one record conversion. A panic skips only that record.
func (b *Builder) save(g *dg.Guild, pr *PhaseReport, kind, id, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			pr.skip(kind, id, name, &SkipError{Kind: DataError, Err: panicError{r}})
			b.l.Error("panic recovered while saving record", "guild", g.ID, "phase", pr.Phase, "kind", kind, "id", id, "recovered", r)
		}
	}()

	fn()
	pr.ok(kind, id, name, "", ActionSaved)
}

func settings(g *dg.Guild) snapshot.GuildSettings {
	count := g.MemberCount
	if count == 0 {
		count = g.ApproximateMemberCount
	}

	return snapshot.GuildSettings{
		ID:                    g.ID,
		Name:                  g.Name,
		IconURL:               g.IconURL(""),
		Owner:                 g.OwnerID,
		MemberCount:           count,
		Region:                g.Region,
		SystemChannel:         snapshot.Ref(g.SystemChannelID),
		AFKTimeout:            g.AfkTimeout,
		AFKChannel:            snapshot.Ref(g.AfkChannelID),
		MFALevel:              int(g.MfaLevel),
		VerificationLevel:     int(g.VerificationLevel),
		ExplicitContentFilter: int(g.ExplicitContentFilter),
		Large:                 g.Large,
	}
}

func (b *Builder) saveRoles(ctx context.Context, g *dg.Guild, data *snapshot.Snapshot, pr *PhaseReport) error {
	roles, err := b.c.Roles(ctx, g.ID)
	if err != nil {
		return err
	}

	for _, r := range roles {
		if r == nil {
			pr.skip("role", "", "", fmt.Errorf("%w: nil role", snapshot.ErrInvalid))
			continue
		}
		if r.Managed {
			continue
		}

		b.save(g, pr, "role", r.ID, r.Name, func() {
			data.Roles = append(data.Roles, snapshot.Role{
				ID:          r.ID,
				Name:        r.Name,
				Permissions: r.Permissions,
				Color:       r.Color,
				Hoist:       r.Hoist,
				Position:    r.Position,
				Mentionable: r.Mentionable,
				Default:     r.ID == g.ID,
			})
		})
	}

	snapshot.SortRoles(data.Roles)
	return nil
}

// Overwrites converts platform overwrites into snapshot records keyed by target id.
// Unreadable entries are dropped rather than failing the channel.
func Overwrites(in []*dg.PermissionOverwrite) snapshot.Overwrites {
	out := make(snapshot.Overwrites, len(in))
	for _, ow := range in {
		if ow == nil || ow.ID == "" {
			continue
		}

		t := snapshot.OverwriteRole
		if ow.Type == dg.PermissionOverwriteTypeMember {
			t = snapshot.OverwriteMember
		}

		out[ow.ID] = snapshot.Overwrite{
			Type:  t,
			Allow: ow.Allow,
			Deny:  ow.Deny &^ ow.Allow,
		}
	}
	return out
}

func byPosition(channels []*dg.Channel) {
	slices.SortStableFunc(channels, func(a, b *dg.Channel) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (b *Builder) saveChannels(ctx context.Context, g *dg.Guild, data *snapshot.Snapshot, pr *PhaseReport) error {
	channels, err := b.c.Channels(ctx, g.ID)
	if err != nil {
		return err
	}

	valid := make([]*dg.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch == nil || ch.ID == "" {
			pr.skip("channel", "", "", fmt.Errorf("%w: nil channel", snapshot.ErrInvalid))
			continue
		}
		valid = append(valid, ch)
	}
	byPosition(valid)

	for _, ch := range valid {
		switch ch.Type {
		case dg.ChannelTypeGuildCategory:
			b.save(g, pr, "category", ch.ID, ch.Name, func() {
				data.Categories = append(data.Categories, snapshot.Category{
					ID:         ch.ID,
					Name:       ch.Name,
					Position:   ch.Position,
					Category:   snapshot.Ref(ch.ParentID),
					Overwrites: Overwrites(ch.PermissionOverwrites),
				})
			})

		case dg.ChannelTypeGuildText, dg.ChannelTypeGuildNews:
			b.save(g, pr, "text_channel", ch.ID, ch.Name, func() {
				data.TextChannels = append(data.TextChannels, snapshot.TextChannel{
					ID:            ch.ID,
					Name:          ch.Name,
					Position:      ch.Position,
					Category:      snapshot.Ref(ch.ParentID),
					Overwrites:    Overwrites(ch.PermissionOverwrites),
					Topic:         ch.Topic,
					SlowmodeDelay: ch.RateLimitPerUser,
					NSFW:          ch.NSFW,
					Messages:      []snapshot.Message{},
					Webhooks:      b.webhooks(ctx, g.ID, ch.ID),
				})
			})

		case dg.ChannelTypeGuildVoice:
			b.save(g, pr, "voice_channel", ch.ID, ch.Name, func() {
				data.VoiceChannels = append(data.VoiceChannels, snapshot.VoiceChannel{
					ID:         ch.ID,
					Name:       ch.Name,
					Position:   ch.Position,
					Category:   snapshot.Ref(ch.ParentID),
					Overwrites: Overwrites(ch.PermissionOverwrites),
					Bitrate:    ch.Bitrate,
					UserLimit:  ch.UserLimit,
				})
			})
		}
	}

	return nil
}

func (b *Builder) webhooks(ctx context.Context, guildID, channelID string) []snapshot.Webhook {
	out := []snapshot.Webhook{}

	hooks, err := b.c.Webhooks(ctx, channelID)
	if err != nil {
		b.l.Debug("error listing webhooks", "guild", guildID, "channel", channelID, "error", err)
		return out
	}

	for _, h := range hooks {
		if h == nil {
			continue
		}

		var avatar, url string
		if h.Avatar != "" {
			avatar = dg.EndpointUserAvatar(h.ID, h.Avatar)
		}
		if h.Token != "" {
			url = dg.EndpointWebhookToken(h.ID, h.Token)
		}

		out = append(out, snapshot.Webhook{
			Channel: h.ChannelID,
			Name:    h.Name,
			Avatar:  avatar,
			URL:     url,
		})
	}

	return out
}

func (b *Builder) saveMembers(ctx context.Context, g *dg.Guild, data *snapshot.Snapshot, pr *PhaseReport) error {
	managed := make(map[string]bool)
	roles, err := b.c.Roles(ctx, g.ID)
	if err != nil {
		b.l.Warn("error listing roles for member filter", "guild", g.ID, "error", err)
	}
	for _, r := range roles {
		if r != nil && r.Managed {
			managed[r.ID] = true
		}
	}

	members, err := b.c.Members(ctx, g.ID)
	if err != nil && len(members) == 0 {
		return err
	}
	if err != nil {
		b.l.Warn("member listing truncated", "guild", g.ID, "fetched", len(members), "error", err)
	}

	valid := make([]*dg.Member, 0, len(members))
	for _, m := range members {
		if m == nil || m.User == nil {
			pr.skip("member", "", "", fmt.Errorf("%w: member without user", snapshot.ErrInvalid))
			continue
		}
		valid = append(valid, m)
	}

	slices.SortStableFunc(valid, func(a, b *dg.Member) int {
		return cmp.Compare(len(b.Roles), len(a.Roles))
	})
	if len(valid) > b.memberLimit {
		valid = valid[:b.memberLimit]
	}

	for _, m := range valid {
		b.save(g, pr, "member", m.User.ID, m.User.Username, func() {
			ids := make([]string, 0, len(m.Roles))
			for _, id := range m.Roles {
				if id == g.ID || managed[id] {
					continue
				}
				ids = append(ids, id)
			}

			data.Members = append(data.Members, snapshot.Member{
				ID:            m.User.ID,
				Name:          m.User.Username,
				Discriminator: m.User.Discriminator,
				Nick:          m.Nick,
				Roles:         ids,
			})
		})
	}

	return nil
}

func (b *Builder) saveBans(ctx context.Context, g *dg.Guild, data *snapshot.Snapshot, pr *PhaseReport) error {
	bans, err := b.c.Bans(ctx, g.ID)
	if err != nil && len(bans) == 0 {
		return err
	}

	for _, ban := range bans {
		if ban == nil || ban.User == nil {
			pr.skip("ban", "", "", fmt.Errorf("%w: ban without user", snapshot.ErrInvalid))
			continue
		}

		b.save(g, pr, "ban", ban.User.ID, ban.User.Username, func() {
			data.Bans = append(data.Bans, snapshot.Ban{User: ban.User.ID, Reason: ban.Reason})
		})
	}

	if err != nil {
		return errors.Join(errutil.With(err), fmt.Errorf("saved %d bans before failure", len(data.Bans)))
	}
	return nil
}
