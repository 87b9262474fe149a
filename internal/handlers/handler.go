package handlers

import (
	"context"
	"log/slog"
	"time"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/backup"
	ch "github.com/glotchimo/ark/internal/cache"
	db "github.com/glotchimo/ark/internal/database"
	"github.com/glotchimo/ark/internal/metrics"
	md "github.com/glotchimo/ark/internal/models"
	rp "github.com/glotchimo/ark/internal/response"
	"github.com/glotchimo/ark/internal/utils"
)

// Limits bounds what a single user can do with backups.
type Limits struct {
	Backups     int
	MemberLimit int
	CacheTTL    time.Duration
	LockTTL     time.Duration
}

type Dependencies struct {
	Session     *dg.Session
	Client      backup.Client
	Database    *db.Database
	Cache       *ch.Cache
	Metrics     *metrics.Collector
	Responder   *rp.Responder
	Logger      *slog.Logger
	Limits      Limits
	Guild       *md.Guild
	Interaction *dg.InteractionCreate
	Subcommand  string
	Options     utils.Options
}

type Handler interface {
	Metadata() dg.ApplicationCommand
	Handle(context.Context, Dependencies) error
}
