package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/archive"
	"github.com/glotchimo/ark/internal/backup"
	"github.com/glotchimo/ark/internal/cache"
	"github.com/glotchimo/ark/internal/database"
	"github.com/glotchimo/ark/internal/handlers"
	"github.com/glotchimo/ark/internal/models"
	rp "github.com/glotchimo/ark/internal/response"
	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/glotchimo/ark/internal/utils"
	"github.com/graxinc/errutil"
)

const (
	maxUpload    = 25 << 20
	maxListed    = 25
	maxSkipLines = 10
	fieldLimit   = 1024

	formatArchive = "archive"
	formatJSON    = "json"

	colorOK      = 0x2ECC71
	colorPartial = 0xFFA500
)

var adminPermission int64 = dg.PermissionAdministrator

type Backup struct{}

func idOption(description string) *dg.ApplicationCommandOption {
	return &dg.ApplicationCommandOption{
		Type:        dg.ApplicationCommandOptionString,
		Name:        "id",
		Description: description,
		Required:    true,
	}
}

func (c *Backup) Metadata() dg.ApplicationCommand {
	dm := false
	return dg.ApplicationCommand{
		Name:                     "backup",
		Description:              "Save and load server backups",
		DefaultMemberPermissions: &adminPermission,
		DMPermission:             &dm,
		Options: []*dg.ApplicationCommandOption{
			{
				Type:        dg.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Save this server as a new backup",
				Options: []*dg.ApplicationCommandOption{{
					Type:        dg.ApplicationCommandOptionString,
					Name:        "name",
					Description: "A name for the backup, defaults to the server name",
				}},
			},
			{
				Type:        dg.ApplicationCommandOptionSubCommand,
				Name:        "load",
				Description: "Load one of your backups onto this server",
				Options: []*dg.ApplicationCommandOption{
					idOption("The backup to load"),
					{
						Type:        dg.ApplicationCommandOptionString,
						Name:        "options",
						Description: `Sections to load, e.g. "bans !settings" or "*"`,
					},
				},
			},
			{
				Type:        dg.ApplicationCommandOptionSubCommand,
				Name:        "info",
				Description: "Show what a backup contains",
				Options:     []*dg.ApplicationCommandOption{idOption("The backup to inspect")},
			},
			{
				Type:        dg.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List your backups",
			},
			{
				Type:        dg.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Delete one of your backups",
				Options:     []*dg.ApplicationCommandOption{idOption("The backup to delete")},
			},
			{
				Type:        dg.ApplicationCommandOptionSubCommand,
				Name:        "export",
				Description: "Download a backup as an archive",
				Options: []*dg.ApplicationCommandOption{
					idOption("The backup to export"),
					{
						Type:        dg.ApplicationCommandOptionString,
						Name:        "format",
						Description: "File format, defaults to archive",
						Choices: []*dg.ApplicationCommandOptionChoice{
							{Name: "archive", Value: formatArchive},
							{Name: "json", Value: formatJSON},
						},
					},
					{
						Type:        dg.ApplicationCommandOptionString,
						Name:        "passphrase",
						Description: "Encrypt the file with this passphrase",
					},
				},
			},
			{
				Type:        dg.ApplicationCommandOptionSubCommand,
				Name:        "import",
				Description: "Store an exported backup file as one of your backups",
				Options: []*dg.ApplicationCommandOption{
					{
						Type:        dg.ApplicationCommandOptionAttachment,
						Name:        "file",
						Description: "An archive or json file from /backup export",
						Required:    true,
					},
					{
						Type:        dg.ApplicationCommandOptionString,
						Name:        "passphrase",
						Description: "The passphrase the file was encrypted with",
					},
				},
			},
		},
	}
}

func (c *Backup) Handle(ctx context.Context, dep handlers.Dependencies) error {
	if err := dep.Responder.Defer(dep.Interaction, true); err != nil {
		return err
	}

	user := interactionUser(dep.Interaction)
	if user == nil || dep.Interaction.GuildID == "" {
		return utils.Failure{Type: utils.ErrNotAllowed, Message: "Backups can only be managed from a server."}
	}

	l := dep.Logger.With("guild", dep.Interaction.GuildID, "user", user.ID, "subcommand", dep.Subcommand)

	var embed *dg.MessageEmbed
	var files []*dg.File
	var err error

	switch dep.Subcommand {
	case "create":
		embed, err = c.create(ctx, dep, l, user)
	case "load":
		embed, err = c.load(ctx, dep, l, user)
	case "info":
		embed, err = c.info(ctx, dep, l, user)
	case "list":
		embed, err = c.list(ctx, dep, user)
	case "delete":
		embed, err = c.delete(ctx, dep, user)
	case "export":
		embed, files, err = c.export(ctx, dep, l, user)
	case "import":
		embed, err = c.importFile(ctx, dep, l, user)
	default:
		err = utils.Failure{Type: utils.ErrNotFound, Message: "Unknown subcommand"}
	}
	if err != nil {
		return err
	}

	_, err = dep.Responder.Send(dep.Interaction, rp.MessageOptions{
		Embeds:    []*dg.MessageEmbed{embed},
		Files:     files,
		Ephemeral: true,
	})
	return err
}

func interactionUser(i *dg.InteractionCreate) *dg.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func requireAdmin(i *dg.InteractionCreate) error {
	if i.Member == nil || i.Member.Permissions&dg.PermissionAdministrator == 0 {
		return utils.Failure{Type: utils.ErrNotAllowed, Message: "You need the Administrator permission on this server."}
	}
	return nil
}

func (c *Backup) create(ctx context.Context, dep handlers.Dependencies, l *slog.Logger, user *dg.User) (*dg.MessageEmbed, error) {
	if err := requireAdmin(dep.Interaction); err != nil {
		return nil, err
	}

	b := backup.NewBuilder(dep.Client, l, backup.WithMemberLimit(dep.Limits.MemberLimit))
	data, report, err := b.Build(ctx, dep.Interaction.GuildID)
	dep.Metrics.ObserveBuild(report, err)
	if err != nil {
		return nil, utils.Failure{Type: utils.ErrInternal, Message: "Failed to create backup", Data: map[string]any{"error": err}}
	}

	name := dep.Options.String("name")
	if name == "" {
		name = data.Name
	}

	row := models.Backup{
		ID:        utils.GenerateID(),
		GuildID:   dep.Interaction.GuildID,
		CreatorID: user.ID,
		Name:      name,
		Data:      data,
	}
	if err := dep.Database.PutBackup(ctx, row, dep.Limits.Backups); err != nil {
		if errors.Is(err, database.ErrLimitReached) {
			return nil, utils.Failure{
				Type:    utils.ErrLimit,
				Message: fmt.Sprintf("You can keep at most %d backups. Delete one with `/backup delete` first.", dep.Limits.Backups),
			}
		}
		return nil, err
	}

	if err := dep.Cache.PutSnapshot(ctx, row.ID, data); err != nil {
		l.Warn("error caching backup", "backup", row.ID, "error", err)
	}

	if dep.Guild != nil {
		g := *dep.Guild
		g.Settings.LastBackupID = row.ID
		if err := dep.Database.PutGuildSettings(ctx, g); err != nil {
			l.Warn("error recording last backup", "backup", row.ID, "error", err)
		}
	}

	l.Info("backup created", "backup", row.ID, "roles", len(data.Roles), "members", len(data.Members), "skipped", report.Skipped())

	return createdEmbed(row, report), nil
}

// fetch loads a backup owned by userID, preferring the cached document.
func fetch(ctx context.Context, dep handlers.Dependencies, l *slog.Logger, userID string) (*models.Backup, error) {
	id := strings.TrimSpace(dep.Options.String("id"))
	missing := utils.Failure{Type: utils.ErrNotFound, Message: fmt.Sprintf("You have no backup with the id `%s`.", id)}
	if id == "" {
		return nil, missing
	}

	head, err := dep.Database.GetBackupHeader(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	if head.CreatorID != userID {
		return nil, missing
	}

	data, err := dep.Cache.Snapshot(ctx, id)
	if err == nil {
		head.Data = data
		return head, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		l.Warn("error reading cached backup", "backup", id, "error", err)
	}

	full, err := dep.Database.GetBackup(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}

	if err := dep.Cache.PutSnapshot(ctx, id, full.Data); err != nil {
		l.Warn("error caching backup", "backup", id, "error", err)
	}
	return full, nil
}

func (c *Backup) load(ctx context.Context, dep handlers.Dependencies, l *slog.Logger, user *dg.User) (*dg.MessageEmbed, error) {
	if err := requireAdmin(dep.Interaction); err != nil {
		return nil, err
	}

	opts, err := backup.ParseOptions(dep.Options.String("options"))
	if err != nil {
		return nil, utils.Failure{Type: utils.ErrBadInput, Message: err.Error()}
	}
	if !opts.Any() {
		return nil, utils.Failure{Type: utils.ErrBadInput, Message: "Every section is disabled, so there is nothing to load."}
	}

	b, err := fetch(ctx, dep, l, user.ID)
	if err != nil {
		return nil, err
	}

	guildID := dep.Interaction.GuildID
	if !dep.Cache.Lock(ctx, guildID, dep.Limits.LockTTL) {
		return nil, utils.Failure{Type: utils.ErrBusy, Message: "A backup is already being loaded on this server."}
	}
	defer dep.Cache.Unlock(context.WithoutCancel(ctx), guildID)

	l.Info("loading backup", "backup", b.ID, "options", opts.String())

	report, err := backup.NewRestorer(dep.Client, l).Restore(ctx, guildID, backup.PrincipalFromUser(user), b.Data, opts)
	dep.Metrics.ObserveRestore(report, err)
	if err != nil {
		return nil, utils.Failure{Type: utils.ErrInternal, Message: "Failed to load backup", Data: map[string]any{"error": err}}
	}

	if err := dep.Database.SaveRestore(ctx, models.Restore{
		ID:       utils.GenerateID(),
		BackupID: b.ID,
		GuildID:  guildID,
		LoaderID: user.ID,
		Options:  opts,
		Report:   report,
	}); err != nil {
		l.Warn("error recording restore", "backup", b.ID, "error", err)
	}

	return restoredEmbed(b, opts, report), nil
}

func (c *Backup) info(ctx context.Context, dep handlers.Dependencies, l *slog.Logger, user *dg.User) (*dg.MessageEmbed, error) {
	b, err := fetch(ctx, dep, l, user.ID)
	if err != nil {
		return nil, err
	}
	return infoEmbed(b), nil
}

func (c *Backup) list(ctx context.Context, dep handlers.Dependencies, user *dg.User) (*dg.MessageEmbed, error) {
	backups, err := dep.Database.ListBackups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return listEmbed(backups), nil
}

func (c *Backup) delete(ctx context.Context, dep handlers.Dependencies, user *dg.User) (*dg.MessageEmbed, error) {
	id := strings.TrimSpace(dep.Options.String("id"))

	if err := dep.Database.DeleteBackup(ctx, id, user.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, utils.Failure{Type: utils.ErrNotFound, Message: fmt.Sprintf("You have no backup with the id `%s`.", id)}
		}
		return nil, err
	}
	dep.Cache.Forget(ctx, id)

	return &dg.MessageEmbed{
		Title:       "Backup deleted",
		Description: fmt.Sprintf("Backup `%s` was deleted.", id),
		Color:       colorOK,
	}, nil
}

func (c *Backup) export(ctx context.Context, dep handlers.Dependencies, l *slog.Logger, user *dg.User) (*dg.MessageEmbed, []*dg.File, error) {
	b, err := fetch(ctx, dep, l, user.ID)
	if err != nil {
		return nil, nil, err
	}

	f, size, err := exportFile(b, dep.Options.String("format"), dep.Options.String("passphrase"))
	if err != nil {
		return nil, nil, err
	}

	embed := &dg.MessageEmbed{
		Title:       "Backup exported",
		Description: fmt.Sprintf("`%s` (%s)", f.Name, utils.FormatSize(size)),
		Color:       colorOK,
	}
	return embed, []*dg.File{f}, nil
}

// exportFile renders a backup as a tar archive or a bare JSON document, encrypted when a
// passphrase is given.
func exportFile(b *models.Backup, format, passphrase string) (*dg.File, int, error) {
	var raw []byte
	var err error

	name := "ark-" + b.ID
	switch format {
	case formatJSON:
		raw, err = archive.EncodeJSON(b.Data)
		name += ".json"
	case "", formatArchive:
		raw, err = archive.Write(b.Data, b.Created, map[string]string{
			"id":    b.ID,
			"guild": b.GuildID,
			"name":  b.Name,
		})
		name += ".tar"
	default:
		return nil, 0, utils.Failure{Type: utils.ErrBadInput, Message: fmt.Sprintf("Unknown format %q.", format)}
	}
	if err != nil {
		return nil, 0, err
	}

	if passphrase != "" {
		raw, err = archive.Encrypt(raw, []byte(passphrase))
		if errors.Is(err, archive.ErrPassphraseTooShort) {
			return nil, 0, utils.Failure{Type: utils.ErrBadInput, Message: err.Error()}
		}
		if err != nil {
			return nil, 0, err
		}
		name += ".arkx"
	}

	if len(raw) > maxUpload {
		return nil, 0, utils.Failure{
			Type:    utils.ErrTooLarge,
			Message: fmt.Sprintf("The archive is %s, above the %s upload limit.", utils.FormatSize(len(raw)), utils.FormatSize(maxUpload)),
		}
	}

	return &dg.File{
		Name:        name,
		ContentType: "application/octet-stream",
		Reader:      bytes.NewReader(raw),
	}, len(raw), nil
}

func (c *Backup) importFile(ctx context.Context, dep handlers.Dependencies, l *slog.Logger, user *dg.User) (*dg.MessageEmbed, error) {
	a := attachment(dep.Interaction, dep.Options, "file")
	if a == nil {
		return nil, utils.Failure{Type: utils.ErrBadInput, Message: "Attach a file exported with `/backup export`."}
	}

	raw, err := download(ctx, dep.Session.Client, a)
	if err != nil {
		return nil, err
	}

	data, err := decodeImport(raw, dep.Options.String("passphrase"))
	if err != nil {
		return nil, err
	}

	row := models.Backup{
		ID:        utils.GenerateID(),
		GuildID:   data.ID,
		CreatorID: user.ID,
		Name:      data.Name,
		Data:      data,
	}
	if err := dep.Database.PutBackup(ctx, row, dep.Limits.Backups); err != nil {
		if errors.Is(err, database.ErrLimitReached) {
			return nil, utils.Failure{
				Type:    utils.ErrLimit,
				Message: fmt.Sprintf("You can keep at most %d backups. Delete one with `/backup delete` first.", dep.Limits.Backups),
			}
		}
		return nil, err
	}

	if err := dep.Cache.PutSnapshot(ctx, row.ID, data); err != nil {
		l.Warn("error caching backup", "backup", row.ID, "error", err)
	}

	l.Info("backup imported", "backup", row.ID, "file", a.Filename, "size", len(raw))

	return &dg.MessageEmbed{
		Title:       "Backup imported",
		Description: fmt.Sprintf("Load it with `/backup load id:%s`.", row.ID),
		Color:       colorOK,
		Footer:      &dg.MessageEmbedFooter{Text: "ID: " + row.ID},
	}, nil
}

func attachment(i *dg.InteractionCreate, opts utils.Options, name string) *dg.MessageAttachment {
	opt, ok := opts[name]
	if !ok || opt.Type != dg.ApplicationCommandOptionAttachment {
		return nil
	}
	id, _ := opt.Value.(string)

	data := i.ApplicationCommandData()
	if data.Resolved == nil {
		return nil
	}
	return data.Resolved.Attachments[id]
}

func download(ctx context.Context, c *http.Client, a *dg.MessageAttachment) ([]byte, error) {
	if a.Size > maxUpload {
		return nil, utils.Failure{Type: utils.ErrTooLarge, Message: fmt.Sprintf("The file is %s, above the %s limit.", utils.FormatSize(a.Size), utils.FormatSize(maxUpload))}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, errutil.With(err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, errutil.With(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download attachment: %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpload+1))
	if err != nil {
		return nil, errutil.With(err)
	}
	if len(raw) > maxUpload {
		return nil, utils.Failure{Type: utils.ErrTooLarge, Message: fmt.Sprintf("The file is above the %s limit.", utils.FormatSize(maxUpload))}
	}
	return raw, nil
}

// decodeImport accepts anything exportFile produces: an archive or JSON document,
// optionally encrypted.
func decodeImport(raw []byte, passphrase string) (*snapshot.Snapshot, error) {
	if archive.IsEncrypted(raw) {
		if passphrase == "" {
			return nil, utils.Failure{Type: utils.ErrBadInput, Message: "This file is encrypted. Pass the passphrase it was exported with."}
		}
		plain, err := archive.Decrypt(raw, []byte(passphrase))
		if err != nil {
			return nil, utils.Failure{Type: utils.ErrBadInput, Message: "Wrong passphrase or corrupted file."}
		}
		raw = plain
	}

	_, data, err := archive.Read(raw)
	if errors.Is(err, archive.ErrBadMagic) {
		data, err = archive.DecodeJSON(raw)
	}
	if errors.Is(err, archive.ErrTooLarge) {
		return nil, utils.Failure{Type: utils.ErrTooLarge, Message: "The backup in this file is too large to import."}
	}
	if err != nil {
		return nil, utils.Failure{Type: utils.ErrBadInput, Message: "The file is not a backup exported by this bot."}
	}

	if errs := data.Validate(); len(errs) > 0 {
		return nil, utils.Failure{Type: utils.ErrBadInput, Message: "The backup is invalid: " + errors.Join(errs...).Error()}
	}
	return data, nil
}

func createdEmbed(b models.Backup, r *backup.Report) *dg.MessageEmbed {
	info := backup.NewInfo(b.Data)

	e := &dg.MessageEmbed{
		Title:       "Backup created",
		Description: fmt.Sprintf("Load it with `/backup load id:%s`.", b.ID),
		Color:       colorOK,
		Fields: []*dg.MessageEmbedField{
			{Name: "Name", Value: b.Name, Inline: true},
			{Name: "Members", Value: strconv.Itoa(len(b.Data.Members)), Inline: true},
			{Name: "Roles", Value: strconv.Itoa(len(b.Data.Roles)), Inline: true},
			{Name: "Channels", Value: info.Channels(fieldLimit)},
		},
		Footer: &dg.MessageEmbedFooter{Text: "ID: " + b.ID},
	}

	if n := r.Skipped(); n > 0 {
		e.Color = colorPartial
		e.Fields = append(e.Fields, &dg.MessageEmbedField{Name: "Skipped", Value: skipLines(r)})
	}
	return e
}

func restoredEmbed(b *models.Backup, opts backup.Options, r *backup.Report) *dg.MessageEmbed {
	var sb strings.Builder
	counts := r.Counts()
	for _, pr := range r.Phases {
		c := counts[pr.Phase]
		fmt.Fprintf(&sb, "**%s**: %d done, %d skipped", pr.Phase, c.OK, c.Skipped)
		if pr.Err != nil {
			fmt.Fprintf(&sb, " (stopped: %s)", pr.Err.Kind)
		}
		sb.WriteString("\n")
	}

	e := &dg.MessageEmbed{
		Title:       "Loaded " + b.Name,
		Description: sb.String(),
		Color:       colorOK,
		Footer: &dg.MessageEmbedFooter{
			Text: fmt.Sprintf("Options: %s · took %s", opts, utils.FormatDuration(r.Duration())),
		},
	}

	if r.Skipped() > 0 || len(r.Failed()) > 0 {
		e.Color = colorPartial
	}
	if r.Skipped() > 0 {
		e.Fields = []*dg.MessageEmbedField{{Name: "Skipped", Value: skipLines(r)}}
	}
	return e
}

func skipLines(r *backup.Report) string {
	skips := r.Skips()

	var sb strings.Builder
	for i, s := range skips {
		if i == maxSkipLines {
			fmt.Fprintf(&sb, "and %d more", len(skips)-i)
			break
		}
		label := s.Name
		if label == "" {
			label = s.LocalID
		}
		fmt.Fprintf(&sb, "- %s %s: %s\n", s.Kind, label, s.Skip.Kind)
	}

	out := []rune(sb.String())
	if len(out) > fieldLimit {
		out = out[:fieldLimit]
	}
	return string(out)
}

func infoEmbed(b *models.Backup) *dg.MessageEmbed {
	info := backup.NewInfo(b.Data)

	e := &dg.MessageEmbed{
		Title: info.Name(),
		Fields: []*dg.MessageEmbedField{
			{Name: "Created", Value: utils.FormatTimestamp(b.Created, utils.TimestampShortDateTime), Inline: true},
			{Name: "Members", Value: strconv.Itoa(info.MemberCount()), Inline: true},
			{Name: "Messages", Value: strconv.Itoa(info.ChatLog()), Inline: true},
			{Name: "Channels", Value: info.Channels(fieldLimit)},
			{Name: "Roles", Value: info.Roles(fieldLimit)},
		},
		Footer: &dg.MessageEmbedFooter{Text: "ID: " + b.ID},
	}
	if url := info.IconURL(); url != "" {
		e.Thumbnail = &dg.MessageEmbedThumbnail{URL: url}
	}
	return e
}

func listEmbed(backups []models.Backup) *dg.MessageEmbed {
	e := &dg.MessageEmbed{Title: "Your backups", Color: colorOK}

	if len(backups) == 0 {
		e.Description = "You have no backups yet. Create one with `/backup create`."
		return e
	}

	var sb strings.Builder
	for i, b := range backups {
		if i == maxListed {
			fmt.Fprintf(&sb, "and %d more", len(backups)-i)
			break
		}
		fmt.Fprintf(&sb, "`%s` **%s** %s\n", b.ID, b.Name, utils.FormatTimestamp(b.Created, utils.TimestampRelative))
	}
	e.Description = sb.String()
	return e
}
