package commands

import (
	"errors"
	"io"
	"testing"
	"time"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/archive"
	"github.com/glotchimo/ark/internal/backup"
	"github.com/glotchimo/ark/internal/models"
	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/glotchimo/ark/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stored() *models.Backup {
	s := snapshot.New(snapshot.GuildSettings{ID: "100", Name: "Source", MemberCount: 3})
	s.Roles = []snapshot.Role{
		{ID: "2", Name: "Admin", Position: 1},
		{ID: "100", Name: "@everyone", Default: true},
	}
	s.Categories = []snapshot.Category{{ID: "10", Name: "Team", Overwrites: snapshot.Overwrites{}}}
	s.TextChannels = []snapshot.TextChannel{{ID: "20", Name: "general", Category: snapshot.Ref("10"), Overwrites: snapshot.Overwrites{}}}

	return &models.Backup{
		ID:        "cn1",
		GuildID:   "100",
		CreatorID: "u1",
		Name:      "weekly",
		Data:      s,
		Created:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMetadataValid(t *testing.T) {
	cmd := (&Backup{}).Metadata()
	result := utils.ValidateCommand(&cmd)
	assert.False(t, result.WasModified, result.Errors)

	var names []string
	for _, opt := range cmd.Options {
		names = append(names, opt.Name)
	}
	assert.Equal(t, []string{"create", "load", "info", "list", "delete", "export", "import"}, names)
}

func TestExportFile(t *testing.T) {
	b := stored()

	f, size, err := exportFile(b, "", "")
	require.NoError(t, err)
	assert.Equal(t, "ark-cn1.tar", f.Name)

	raw, err := io.ReadAll(f.Reader)
	require.NoError(t, err)
	assert.Len(t, raw, size)

	meta, got, err := archive.Read(raw)
	require.NoError(t, err)
	assert.Equal(t, "cn1", meta.Extra["id"])
	assert.Equal(t, "Source", got.Name)
}

func TestExportFileEncrypted(t *testing.T) {
	f, _, err := exportFile(stored(), formatArchive, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ark-cn1.arkx", f.Name)

	raw, err := io.ReadAll(f.Reader)
	require.NoError(t, err)
	plain, err := archive.Decrypt(raw, []byte("correct horse"))
	require.NoError(t, err)
	_, got, err := archive.Read(plain)
	require.NoError(t, err)
	assert.Len(t, got.Roles, 2)

	_, _, err = exportFile(stored(), formatArchive, "short")
	var f2 utils.Failure
	require.True(t, errors.As(err, &f2))
	assert.Equal(t, utils.ErrBadInput, f2.Type)
}

func TestImportRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		format, passphrase, name string
	}{
		{formatArchive, "", "ark-cn1.tar"},
		{formatJSON, "", "ark-cn1.json"},
		{formatArchive, "correct horse", "ark-cn1.tar.arkx"},
		{formatJSON, "correct horse", "ark-cn1.json.arkx"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, _, err := exportFile(stored(), tc.format, tc.passphrase)
			require.NoError(t, err)
			assert.Equal(t, tc.name, f.Name)

			raw, err := io.ReadAll(f.Reader)
			require.NoError(t, err)

			got, err := decodeImport(raw, tc.passphrase)
			require.NoError(t, err)
			assert.Equal(t, "Source", got.Name)
			assert.Len(t, got.Roles, 2)
			assert.Equal(t, "10", *got.TextChannels[0].Category)
		})
	}
}

func TestDecodeImportRejects(t *testing.T) {
	f, _, err := exportFile(stored(), formatArchive, "correct horse")
	require.NoError(t, err)
	raw, err := io.ReadAll(f.Reader)
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		raw        []byte
		passphrase string
	}{
		"no passphrase":    {raw, ""},
		"wrong passphrase": {raw, "wrong horse"},
		"garbage":          {[]byte("definitely not a backup"), ""},
		"invalid document": {[]byte(`{"roles":[{"id":"1","name":"a"},{"id":"1","name":"b"}]}`), ""},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeImport(tc.raw, tc.passphrase)
			var f utils.Failure
			require.True(t, errors.As(err, &f), err)
			assert.Equal(t, utils.ErrBadInput, f.Type)
		})
	}

	_, _, err = exportFile(stored(), "yaml", "")
	require.Error(t, err)
}

func TestAttachment(t *testing.T) {
	i := &dg.InteractionCreate{Interaction: &dg.Interaction{
		Type: dg.InteractionApplicationCommand,
		Data: dg.ApplicationCommandInteractionData{
			Name: "backup",
			Resolved: &dg.ApplicationCommandInteractionDataResolved{
				Attachments: map[string]*dg.MessageAttachment{"a1": {ID: "a1", Filename: "ark.tar"}},
			},
		},
	}}

	opts := utils.Options{"file": {Name: "file", Type: dg.ApplicationCommandOptionAttachment, Value: "a1"}}
	a := attachment(i, opts, "file")
	require.NotNil(t, a)
	assert.Equal(t, "ark.tar", a.Filename)

	assert.Nil(t, attachment(i, utils.Options{}, "file"))
}

func TestListEmbed(t *testing.T) {
	e := listEmbed(nil)
	assert.Contains(t, e.Description, "no backups")

	e = listEmbed([]models.Backup{*stored()})
	assert.Contains(t, e.Description, "`cn1` **weekly**")
}

func TestInfoEmbed(t *testing.T) {
	e := infoEmbed(stored())
	assert.Equal(t, "Source", e.Title)
	assert.Nil(t, e.Thumbnail)
	require.Len(t, e.Fields, 5)
	assert.Contains(t, e.Fields[3].Value, "Team")
	assert.Contains(t, e.Fields[4].Value, "Admin")
	assert.Equal(t, "ID: cn1", e.Footer.Text)
}

func TestRestoredEmbed(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &backup.Report{
		Started:  started,
		Finished: started.Add(65 * time.Second),
		Phases: []*backup.PhaseReport{
			{Phase: backup.PhaseRoles, Results: []backup.Result{{Kind: "role", Name: "Admin", Action: backup.ActionCreated}}},
			{Phase: backup.PhaseBans, Results: []backup.Result{
				{Kind: "ban", LocalID: "9", Skip: &backup.SkipError{Kind: backup.TransportError, Err: errors.New("unknown user")}},
			}},
		},
	}

	e := restoredEmbed(stored(), backup.DefaultOptions(), r)
	assert.Equal(t, "Loaded weekly", e.Title)
	assert.Contains(t, e.Description, "**roles**: 1 done, 0 skipped")
	assert.Contains(t, e.Description, "**bans**: 0 done, 1 skipped")
	assert.Equal(t, colorPartial, e.Color)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "- ban 9: transport\n", e.Fields[0].Value)
	assert.Contains(t, e.Footer.Text, "1m 5s")
}

func TestRequireAdmin(t *testing.T) {
	i := &dg.InteractionCreate{Interaction: &dg.Interaction{Member: &dg.Member{Permissions: dg.PermissionManageRoles}}}
	require.Error(t, requireAdmin(i))

	i.Member.Permissions |= dg.PermissionAdministrator
	require.NoError(t, requireAdmin(i))

	require.Error(t, requireAdmin(&dg.InteractionCreate{Interaction: &dg.Interaction{}}))
}
