package models

type Table string

const (
	TableGuilds   Table = "guilds"
	TableBackups  Table = "backups"
	TableRestores Table = "restores"
)

// Mappable is a row that can be written with Database.Create.
type Mappable interface {
	Table() Table
	Map() map[string]any
}
