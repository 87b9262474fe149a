package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/snapshot"
)

// Restorer replays snapshots onto live guilds. It holds no per-restore state and may be
// shared across goroutines restoring different guilds.
type Restorer struct {
	c Client
	l *slog.Logger
}

func NewRestorer(c Client, l *slog.Logger) *Restorer {
	if l == nil {
		l = slog.Default()
	}
	return &Restorer{c: c, l: l}
}

// restore is the state of a single Restore call.
type restore struct {
	c      Client
	l      *slog.Logger
	guild  *dg.Guild
	self   *dg.Member
	data   *snapshot.Snapshot
	opts   Options
	ids    *Translator
	reason string
	report *Report

	// members holds the ids of the target's current members, loaded for overwrite
	// resolution.
	members map[string]bool
}

type restorePhase struct {
	phase   Phase
	enabled bool
	fn      func(context.Context, *PhaseReport) error
}

// Restore mutates the guild to approximate data. Once the guild resolves every failure is
// recorded in the report and the remaining work continues; the error is non-nil only when
// the guild cannot be fetched or data is nil.
func (r *Restorer) Restore(ctx context.Context, guildID string, loader Principal, data *snapshot.Snapshot, opts Options) (*Report, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil snapshot", snapshot.ErrInvalid)
	}

	g, err := r.c.Guild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGuildUnavailable, err)
	}
	if g == nil {
		return nil, ErrGuildUnavailable
	}

	// Once the target is known every gated phase runs to completion.
	ctx = context.WithoutCancel(ctx)

	st := &restore{
		c:       r.c,
		l:       r.l.With("guild", guildID),
		guild:   g,
		data:    data,
		opts:    opts,
		ids:     NewTranslator(),
		reason:  loader.reason(),
		report:  newReport(guildID),
		members: make(map[string]bool),
	}

	st.self, err = r.c.Self(ctx, guildID)
	if err != nil {
		st.l.Warn("error fetching own member, assuming no authority", "error", err)
		st.self = &dg.Member{}
	}

	phases := []restorePhase{
		{PhasePrepare, opts.Roles || opts.Channels, st.prepare},
		{PhaseRoles, opts.Roles, st.restoreRoles},
		{PhaseChannels, opts.Channels, st.restoreChannels},
		{PhaseSettings, opts.Settings, st.restoreSettings},
		{PhaseBans, opts.Bans, st.restoreBans},
		{PhaseMembers, opts.Members, st.restoreMembers},
	}

	st.l.Debug("loading backup", "options", opts.String(), "loader", loader.String())
	for _, p := range phases {
		if !p.enabled {
			continue
		}
		st.run(ctx, st.report.phase(p.phase), p.fn)
	}

	st.report.Finished = time.Now().UTC()
	st.l.Debug("finished loading backup", "applied", st.report.Succeeded(), "skipped", st.report.Skipped(), "duration", st.report.Duration())

	return st.report, nil
}

func (r *restore) run(ctx context.Context, pr *PhaseReport, fn func(context.Context, *PhaseReport) error) {
	defer func() {
		if rec := recover(); rec != nil {
			pr.Err = &SkipError{Kind: DataError, Err: panicError{rec}}
			r.l.Error("panic recovered while loading backup", "phase", pr.Phase, "recovered", rec)
		}
	}()

	r.l.Debug("loading section", "phase", pr.Phase)
	if err := fn(ctx, pr); err != nil {
		pr.Err = Classify(err)
		r.l.Error("error loading section", "phase", pr.Phase, "error", err)
	}
}

// item runs one mutation and records its outcome. A panic or error skips only this item.
func (r *restore) item(pr *PhaseReport, kind, localID, name string, fn func() (string, Action, error)) {
	defer func() {
		if rec := recover(); rec != nil {
			pr.skip(kind, localID, name, &SkipError{Kind: DataError, Err: panicError{rec}})
			r.l.Error("panic recovered while loading item", "phase", pr.Phase, "kind", kind, "id", localID, "recovered", rec)
		}
	}()

	assigned, action, err := fn()
	if err != nil {
		pr.skip(kind, localID, name, err)
		r.l.Warn("skipped item", "phase", pr.Phase, "kind", kind, "id", localID, "name", name, "error", err)
		return
	}
	pr.ok(kind, localID, name, assigned, action)
}

func roleAuthority(a, b *dg.Role) int {
	return snapshot.ByAuthority(
		snapshot.Role{ID: a.ID, Position: a.Position},
		snapshot.Role{ID: b.ID, Position: b.Position},
	)
}

// topPosition is the highest position among the given role ids, or zero.
func topPosition(held []string, roles []*dg.Role) int {
	top := 0
	for _, role := range roles {
		if role != nil && role.Position > top && slices.Contains(held, role.ID) {
			top = role.Position
		}
	}
	return top
}

// assignable returns the roles below the acting member that may be reused or deleted,
// highest authority first.
func (r *restore) assignable(roles []*dg.Role) []*dg.Role {
	top := topPosition(r.self.Roles, roles)

	out := make([]*dg.Role, 0, len(roles))
	for _, role := range roles {
		if role == nil || role.Managed || role.ID == r.guild.ID || role.Position >= top {
			continue
		}
		out = append(out, role)
	}

	slices.SortStableFunc(out, roleAuthority)
	return out
}

func (r *restore) prepare(ctx context.Context, pr *PhaseReport) error {
	var errs []error
	if r.opts.Roles {
		if err := r.pruneRoles(ctx, pr); err != nil {
			errs = append(errs, err)
		}
	}
	if r.opts.Channels {
		if err := r.clearChannels(ctx, pr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pruneRoles deletes the fewest assignable roles needed so that no more remain than the
// snapshot has custom roles. Lowest authority goes first and failed deletions move on to
// the next candidate.
func (r *restore) pruneRoles(ctx context.Context, pr *PhaseReport) error {
	roles, err := r.c.Roles(ctx, r.guild.ID)
	if err != nil {
		return err
	}

	candidates := r.assignable(roles)
	excess := len(candidates) - r.data.CustomRoleCount()

	for i := len(candidates) - 1; i >= 0 && excess > 0; i-- {
		role := candidates[i]
		if err := r.c.DeleteRole(ctx, r.guild.ID, role.ID, r.reason); err != nil {
			pr.skip("role", "", role.Name, err)
			r.l.Warn("error deleting role", "role", role.ID, "error", err)
			continue
		}
		pr.ok("role", "", role.Name, role.ID, ActionDeleted)
		excess--
	}

	return nil
}

func (r *restore) clearChannels(ctx context.Context, pr *PhaseReport) error {
	channels, err := r.c.Channels(ctx, r.guild.ID)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if ch == nil {
			continue
		}
		if err := r.c.DeleteChannel(ctx, ch.ID, r.reason); err != nil {
			pr.skip("channel", "", ch.Name, err)
			r.l.Warn("error deleting channel", "channel", ch.ID, "error", err)
			continue
		}
		pr.ok("channel", "", ch.Name, ch.ID, ActionDeleted)
	}

	return nil
}

func (r *restore) restoreRoles(ctx context.Context, pr *PhaseReport) error {
	roles, err := r.c.Roles(ctx, r.guild.ID)
	if err != nil {
		r.l.Warn("error listing roles, creating every role", "error", err)
	}
	pool := r.assignable(roles)

	for _, role := range snapshot.ReplayOrder(r.data.Roles) {
		r.item(pr, "role", role.ID, role.Name, func() (string, Action, error) {
			if err := role.Validate(); err != nil {
				return "", "", err
			}

			if role.Default {
				perms := role.Permissions
				params := &dg.RoleParams{Permissions: &perms}
				if _, err := r.c.EditRole(ctx, r.guild.ID, r.guild.ID, params, r.reason); err != nil {
					return "", "", err
				}
				r.ids.Set(role.ID, r.guild.ID)
				return r.guild.ID, ActionEdited, nil
			}

			var target *dg.Role
			action := ActionReused
			if len(pool) > 0 {
				target, pool = pool[0], pool[1:]
			} else {
				created, err := r.c.CreateRole(ctx, r.guild.ID, &dg.RoleParams{Name: role.Name}, r.reason)
				if err != nil {
					return "", "", err
				}
				target, action = created, ActionCreated
			}

			color, hoist, perms, mentionable := role.Color, role.Hoist, role.Permissions, role.Mentionable
			params := &dg.RoleParams{
				Name:        role.Name,
				Color:       &color,
				Hoist:       &hoist,
				Permissions: &perms,
				Mentionable: &mentionable,
			}
			if _, err := r.c.EditRole(ctx, r.guild.ID, target.ID, params, r.reason); err != nil {
				return "", "", err
			}

			r.ids.Set(role.ID, target.ID)
			return target.ID, action, nil
		})
	}

	return nil
}

func (r *restore) loadMembers(ctx context.Context) []*dg.Member {
	members, err := r.c.Members(ctx, r.guild.ID)
	if err != nil {
		r.l.Warn("error listing members", "fetched", len(members), "error", err)
	}

	for _, m := range members {
		if m != nil && m.User != nil {
			r.members[m.User.ID] = true
		}
	}
	return members
}

// overwrites resolves snapshot overwrites against the target guild. A key naming a current
// member becomes a member overwrite; otherwise it must name a restored role. The source
// guild's default role maps onto the target's. Anything else is dropped.
func (r *restore) overwrites(in snapshot.Overwrites) []*dg.PermissionOverwrite {
	keys := make([]string, 0, len(in))
	for id := range in {
		keys = append(keys, id)
	}
	slices.Sort(keys)

	out := make([]*dg.PermissionOverwrite, 0, len(keys))
	for _, id := range keys {
		ow := in[id]
		if ow.Validate() != nil {
			continue
		}

		po := &dg.PermissionOverwrite{Allow: ow.Allow, Deny: ow.Deny}
		switch {
		case r.members[id]:
			po.ID, po.Type = id, dg.PermissionOverwriteTypeMember
		case r.ids.Has(id):
			po.ID, _ = r.ids.Get(id)
			po.Type = dg.PermissionOverwriteTypeRole
		case id == r.data.ID:
			po.ID, po.Type = r.guild.ID, dg.PermissionOverwriteTypeRole
		default:
			r.l.Debug("dropping unresolved overwrite", "target", id)
			continue
		}
		out = append(out, po)
	}
	return out
}

func (r *restore) restoreChannels(ctx context.Context, pr *PhaseReport) error {
	r.loadMembers(ctx)

	for _, c := range r.data.Categories {
		r.item(pr, "category", c.ID, c.Name, func() (string, Action, error) {
			if err := c.Validate(); err != nil {
				return "", "", err
			}

			ch, err := r.c.CreateChannel(ctx, r.guild.ID, dg.GuildChannelCreateData{
				Name:                 c.Name,
				Type:                 dg.ChannelTypeGuildCategory,
				PermissionOverwrites: r.overwrites(c.Overwrites),
			}, r.reason)
			if err != nil {
				return "", "", err
			}

			r.ids.Set(c.ID, ch.ID)
			return ch.ID, ActionCreated, nil
		})
	}

	for _, tc := range r.data.TextChannels {
		var created *dg.Channel
		r.item(pr, "text_channel", tc.ID, tc.Name, func() (string, Action, error) {
			if err := tc.Validate(); err != nil {
				return "", "", err
			}

			ch, err := r.c.CreateChannel(ctx, r.guild.ID, dg.GuildChannelCreateData{
				Name:                 tc.Name,
				Type:                 dg.ChannelTypeGuildText,
				PermissionOverwrites: r.overwrites(tc.Overwrites),
				ParentID:             r.ids.Resolve(tc.Category),
			}, r.reason)
			if err != nil {
				return "", "", err
			}

			r.ids.Set(tc.ID, ch.ID)
			created = ch
			return ch.ID, ActionCreated, nil
		})
		if created == nil {
			continue
		}

		r.item(pr, "text_channel", tc.ID, tc.Name, func() (string, Action, error) {
			nsfw, slowmode := tc.NSFW, tc.SlowmodeDelay
			_, err := r.c.EditChannel(ctx, created.ID, &dg.ChannelEdit{
				Topic:            tc.Topic,
				NSFW:             &nsfw,
				RateLimitPerUser: &slowmode,
			}, r.reason)
			return created.ID, ActionEdited, err
		})
	}

	for _, vc := range r.data.VoiceChannels {
		var created *dg.Channel
		r.item(pr, "voice_channel", vc.ID, vc.Name, func() (string, Action, error) {
			if err := vc.Validate(); err != nil {
				return "", "", err
			}

			ch, err := r.c.CreateChannel(ctx, r.guild.ID, dg.GuildChannelCreateData{
				Name:                 vc.Name,
				Type:                 dg.ChannelTypeGuildVoice,
				PermissionOverwrites: r.overwrites(vc.Overwrites),
				ParentID:             r.ids.Resolve(vc.Category),
			}, r.reason)
			if err != nil {
				return "", "", err
			}

			r.ids.Set(vc.ID, ch.ID)
			created = ch
			return ch.ID, ActionCreated, nil
		})
		if created == nil {
			continue
		}

		r.item(pr, "voice_channel", vc.ID, vc.Name, func() (string, Action, error) {
			_, err := r.c.EditChannel(ctx, created.ID, &dg.ChannelEdit{
				Bitrate:   vc.Bitrate,
				UserLimit: vc.UserLimit,
			}, r.reason)
			return created.ID, ActionEdited, err
		})
	}

	return nil
}

// restoreSettings never touches the verification level; raising it can lock the loader
// out of the guild.
func (r *restore) restoreSettings(ctx context.Context, pr *PhaseReport) error {
	r.item(pr, "guild", r.data.ID, r.data.Name, func() (string, Action, error) {
		_, err := r.c.EditGuild(ctx, r.guild.ID, &dg.GuildParams{
			Name:            r.data.Name,
			Region:          r.data.Region,
			AfkChannelID:    r.ids.Resolve(r.data.AFKChannel),
			AfkTimeout:      r.data.AFKTimeout,
			SystemChannelID: r.ids.Resolve(r.data.SystemChannel),
		}, r.reason)
		return r.guild.ID, ActionEdited, err
	})
	return nil
}

func (r *restore) restoreBans(ctx context.Context, pr *PhaseReport) error {
	for _, b := range r.data.Bans {
		r.item(pr, "ban", b.User, "", func() (string, Action, error) {
			if err := b.Validate(); err != nil {
				return "", "", err
			}
			return b.User, ActionBanned, r.c.Ban(ctx, r.guild.ID, b.User, b.Reason)
		})
	}
	return nil
}

func (r *restore) restoreMembers(ctx context.Context, pr *PhaseReport) error {
	roles, err := r.c.Roles(ctx, r.guild.ID)
	if err != nil {
		return err
	}

	managed := make(map[string]bool)
	for _, role := range roles {
		if role != nil && role.Managed {
			managed[role.ID] = true
		}
	}
	top := topPosition(r.self.Roles, roles)

	members := r.loadMembers(ctx)
	for _, m := range members {
		if m == nil || m.User == nil {
			continue
		}

		rec, ok := r.data.Member(m.User.ID)
		if !ok {
			continue
		}

		r.item(pr, "member", rec.ID, rec.Name, func() (string, Action, error) {
			if err := rec.Validate(); err != nil {
				return "", "", err
			}

			held := make(map[string]bool, len(m.Roles))
			for _, id := range m.Roles {
				held[id] = true
			}

			var desired, add []string
			for _, local := range rec.Roles {
				id, ok := r.ids.Get(local)
				if !ok || slices.Contains(desired, id) {
					continue
				}
				desired = append(desired, id)
				if !held[id] {
					add = append(add, id)
				}
			}

			if top > topPosition(m.Roles, roles) && m.User.ID != r.guild.OwnerID {
				set := make([]string, 0, len(m.Roles)+len(desired))
				for _, id := range m.Roles {
					if managed[id] {
						set = append(set, id)
					}
				}
				set = append(set, desired...)

				err := r.c.EditMember(ctx, r.guild.ID, m.User.ID, &dg.GuildMemberParams{Nick: rec.Nick, Roles: &set}, r.reason)
				if err == nil {
					if rec.Nick == "" && m.Nick != "" {
						if err := r.c.Nickname(ctx, r.guild.ID, m.User.ID, "", r.reason); err != nil {
							r.l.Warn("error clearing nickname", "member", m.User.ID, "error", err)
						}
					}
					return m.User.ID, ActionEdited, nil
				}
				if !isForbidden(err) {
					return "", "", err
				}
				r.l.Debug("member edit forbidden, granting roles instead", "member", m.User.ID, "error", err)
			}

			return r.grant(ctx, m.User.ID, add)
		})
	}

	return nil
}

func (r *restore) grant(ctx context.Context, userID string, roleIDs []string) (string, Action, error) {
	if len(roleIDs) == 0 {
		return userID, ActionUnchanged, nil
	}

	var errs []error
	for _, id := range roleIDs {
		if err := r.c.AddMemberRole(ctx, r.guild.ID, userID, id, r.reason); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(roleIDs) {
		return "", "", errors.Join(errs...)
	}
	if len(errs) > 0 {
		r.l.Warn("some roles not granted", "member", userID, "error", errors.Join(errs...))
	}
	return userID, ActionGranted, nil
}
