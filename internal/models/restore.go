package models

import (
	"encoding/json"
	"time"

	"github.com/glotchimo/ark/internal/backup"
)

// Restore records one load of a backup onto a guild and its outcome.
type Restore struct {
	ID       string
	BackupID string
	GuildID  string
	LoaderID string
	Options  backup.Options
	Report   *backup.Report
	Created  time.Time
}

func (r Restore) Map() map[string]any {
	options, _ := json.Marshal(r.Options)
	report, _ := json.Marshal(r.Report)

	return map[string]any{
		"id":        r.ID,
		"backup_id": r.BackupID,
		"guild_id":  r.GuildID,
		"loader_id": r.LoaderID,
		"options":   options,
		"report":    report,
	}
}

func (r Restore) Table() Table {
	return TableRestores
}
