package archive

import (
	"bytes"
	"testing"
	"time"

	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *snapshot.Snapshot {
	s := snapshot.New(snapshot.GuildSettings{
		ID:                    "100",
		Name:                  "Source",
		IconURL:               "https://cdn/icon.png",
		Owner:                 "1",
		MemberCount:           3,
		Region:                "us-east",
		SystemChannel:         snapshot.Ref("20"),
		AFKTimeout:            300,
		MFALevel:              1,
		VerificationLevel:     2,
		ExplicitContentFilter: 1,
	})
	s.Roles = []snapshot.Role{
		{ID: "2", Name: "Admin", Permissions: 8, Color: 0xff0000, Hoist: true, Position: 1},
		{ID: "100", Name: "@everyone", Permissions: 104324673, Default: true},
	}
	s.Categories = []snapshot.Category{{
		ID:         "10",
		Name:       "Team",
		Overwrites: snapshot.Overwrites{"2": {Type: snapshot.OverwriteRole, Allow: 1024}},
	}}
	s.TextChannels = []snapshot.TextChannel{{
		ID:            "20",
		Name:          "general",
		Category:      snapshot.Ref("10"),
		Overwrites:    snapshot.Overwrites{"1": {Type: snapshot.OverwriteMember, Deny: 2048}},
		Topic:         "chat",
		SlowmodeDelay: 5,
		NSFW:          true,
		Messages:      []snapshot.Message{},
		Webhooks:      []snapshot.Webhook{{Channel: "20", Name: "feed", URL: "https://hook"}},
	}}
	s.VoiceChannels = []snapshot.VoiceChannel{{ID: "30", Name: "Lounge", Bitrate: 64000, UserLimit: 10, Overwrites: snapshot.Overwrites{}}}
	s.Members = []snapshot.Member{{ID: "1", Name: "owner", Discriminator: "0001", Nick: "Boss", Roles: []string{"2"}}}
	s.Bans = []snapshot.Ban{{User: "9", Reason: "spam"}}
	return s
}

func TestJSONRoundTrip(t *testing.T) {
	want := sample()

	b, err := EncodeJSON(want)
	require.NoError(t, err)

	got, err := DecodeJSON(b)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONKeys(t *testing.T) {
	b, err := EncodeJSON(sample())
	require.NoError(t, err)

	for _, key := range []string{`"id":"100"`, `"icon_url"`, `"system_channel":"20"`, `"afk_channel":null`, `"text_channels"`, `"slowmode_delay":5`, `"user_limit":10`, `"default":true`} {
		assert.Contains(t, string(b), key)
	}
}

func TestDecodeJSONRejectsBadOverwrite(t *testing.T) {
	doc := `{"categories":[{"id":"1","name":"x","overwrites":{"2":{"type":"role","allow":1,"deny":1}}}]}`
	_, err := DecodeJSON([]byte(doc))
	require.ErrorIs(t, err, snapshot.ErrInvalid)

	doc = `{"categories":[{"id":"1","name":"x","overwrites":{"2":{"type":"channel"}}}]}`
	_, err = DecodeJSON([]byte(doc))
	require.ErrorIs(t, err, snapshot.ErrInvalid)
}

func TestMsgpackRoundTrip(t *testing.T) {
	want := sample()

	b, err := EncodeMsgpack(want)
	require.NoError(t, err)

	got, err := DecodeMsgpack(b)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	want := sample()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	b, err := Write(want, created, map[string]string{"guild": "100"})
	require.NoError(t, err)

	meta, got, err := Read(b)
	require.NoError(t, err)

	assert.Equal(t, Protocol, meta.Protocol)
	assert.Equal(t, TypeBackup, meta.Type)
	assert.True(t, created.Equal(meta.CreatedAt))
	assert.Equal(t, "100", meta.Extra["guild"])

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	sections, err := ReadSections(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Len(t, sections, 2)
	assert.Contains(t, sections, SectionMeta)
	assert.Contains(t, sections, SectionCore)
}

func TestArchiveRejectsOversizedDocument(t *testing.T) {
	b, err := Write(sample(), time.Now(), nil)
	require.NoError(t, err)

	_, _, err = Read(b)
	require.NoError(t, err)

	old := maxDocument
	maxDocument = 1 << 20
	t.Cleanup(func() { maxDocument = old })

	padded := make(map[string]any)
	padded["name"] = "bomb"
	padded["padding"] = string(bytes.Repeat([]byte(" "), 4<<20))

	f := NewFile()
	require.NoError(t, f.WriteJSONSection(Meta{Protocol: Protocol, Type: TypeBackup}, SectionMeta))
	require.NoError(t, f.WriteJSONGzSection(padded, SectionCore))
	buf, err := f.Build()
	require.NoError(t, err)
	assert.Less(t, buf.Len(), 1<<20)

	_, _, err = Read(buf.Bytes())
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestArchiveRejectsForeignProtocol(t *testing.T) {
	f := NewFile()
	require.NoError(t, f.WriteJSONSection(Meta{Protocol: "frostpaw-rev7", Type: TypeBackup}, SectionMeta))
	buf, err := f.Build()
	require.NoError(t, err)

	_, _, err = Read(buf.Bytes())
	require.ErrorIs(t, err, ErrBadMagic)

	_, _, err = Read([]byte("definitely not a tar file"))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestEncryptRoundTrip(t *testing.T) {
	plain, err := Write(sample(), time.Now(), nil)
	require.NoError(t, err)

	blob, err := Encrypt(plain, []byte("correct horse"))
	require.NoError(t, err)
	assert.True(t, IsEncrypted(blob))
	assert.False(t, IsEncrypted(plain))

	got, err := Decrypt(blob, []byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = Decrypt(blob, []byte("wrong horse!"))
	require.ErrorIs(t, err, ErrPassphrase)

	tampered := bytes.Clone(blob)
	tampered[len(magic)+2] ^= 0xff
	_, err = Decrypt(tampered, []byte("correct horse"))
	require.ErrorIs(t, err, ErrPassphrase)
}

func TestEncryptValidation(t *testing.T) {
	_, err := Encrypt([]byte("x"), []byte("short"))
	require.ErrorIs(t, err, ErrPassphraseTooShort)

	_, err = Decrypt([]byte("nope"), []byte("correct horse"))
	require.ErrorIs(t, err, ErrBadMagic)
}
