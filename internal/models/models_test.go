package models

import (
	"encoding/json"
	"testing"

	"github.com/glotchimo/ark/internal/backup"
	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupMap(t *testing.T) {
	b := Backup{
		ID:        "cn1",
		GuildID:   "g",
		CreatorID: "u",
		Name:      "Source",
		Data:      snapshot.New(snapshot.GuildSettings{ID: "g", Name: "Source"}),
	}

	m := b.Map()
	assert.Equal(t, TableBackups, b.Table())
	assert.Equal(t, "cn1", m["id"])
	assert.NotContains(t, m, "created")

	var decoded snapshot.Snapshot
	require.NoError(t, json.Unmarshal(m["data"].([]byte), &decoded))
	assert.Equal(t, "Source", decoded.Name)
	assert.NotNil(t, decoded.Roles)
}

func TestRestoreMap(t *testing.T) {
	r := Restore{ID: "cn2", BackupID: "cn1", GuildID: "g", LoaderID: "u", Options: backup.DefaultOptions()}

	m := r.Map()
	assert.Equal(t, TableRestores, r.Table())
	assert.JSONEq(t, `{"roles":true,"channels":true,"settings":true,"bans":false,"members":false}`, string(m["options"].([]byte)))
	assert.JSONEq(t, `null`, string(m["report"].([]byte)))
}
