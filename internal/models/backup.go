package models

import (
	"encoding/json"
	"time"

	"github.com/glotchimo/ark/internal/snapshot"
)

// Backup is a stored snapshot. Backups belong to the user who created them and can be
// loaded onto any guild that user manages.
type Backup struct {
	ID        string
	GuildID   string
	CreatorID string
	Name      string
	Data      *snapshot.Snapshot
	Created   time.Time
	Deleted   *time.Time
}

func (b Backup) Map() map[string]any {
	data, _ := json.Marshal(b.Data)

	return map[string]any{
		"id":         b.ID,
		"guild_id":   b.GuildID,
		"creator_id": b.CreatorID,
		"name":       b.Name,
		"data":       data,
	}
}

func (b Backup) Table() Table {
	return TableBackups
}
