package bot

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/backup"
	"github.com/glotchimo/ark/internal/cache"
	"github.com/glotchimo/ark/internal/database"
	"github.com/glotchimo/ark/internal/handlers"
	"github.com/glotchimo/ark/internal/handlers/commands"
	"github.com/glotchimo/ark/internal/metrics"
	"github.com/glotchimo/ark/internal/models"
	"github.com/glotchimo/ark/internal/response"
	"github.com/glotchimo/ark/internal/utils"
	"github.com/graxinc/errutil"
)

var lookup = map[string]handlers.Handler{
	"ping":   &commands.Ping{},
	"backup": &commands.Backup{},
}

type EventType int

const (
	EventTypeGuildUpdate EventType = iota
	EventTypeInteraction
)

type GuildEvent struct {
	Type EventType

	GuildUpdate *dg.GuildUpdate
	Interaction *dg.InteractionCreate
}

type GuildContext struct {
	Context context.Context
	Cancel  context.CancelFunc
	Events  chan GuildEvent
}

type Config struct {
	Token       string
	Intents     int
	DatabaseURL string
	CacheURL    string
	ShardID     int
	ShardCount  int
	Limits      handlers.Limits
}

type Bot struct {
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	s *dg.Session
	d *database.Database
	c *cache.Cache
	l *slog.Logger
	r *response.Responder
	m *metrics.Collector

	client backup.Client
	limits handlers.Limits

	contexts map[string]*GuildContext
}

func NewLogger(debug bool) *slog.Logger {
	if debug {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}

func NewBot(conf Config, l *slog.Logger, m *metrics.Collector) (*Bot, error) {
	b := Bot{
		l:        l,
		m:        m,
		limits:   conf.Limits,
		contexts: make(map[string]*GuildContext),
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	database, err := database.NewDatabase(b.l, conf.DatabaseURL)
	if err != nil {
		return nil, errutil.With(err)
	}
	b.d = database

	session, err := dg.New("Bot " + conf.Token)
	if err != nil {
		return nil, errutil.With(err)
	}
	b.s = session
	b.client = backup.NewSessionClient(session)

	b.s.Identify.Intents = dg.Intent(conf.Intents)

	b.s.ShardID = conf.ShardID
	b.s.ShardCount = conf.ShardCount
	b.l.Info("sharding enabled", "shard_id", conf.ShardID, "shard_count", conf.ShardCount)

	cache, err := cache.NewCache(conf.CacheURL, b.l, conf.Limits.CacheTTL)
	if err != nil {
		return nil, errutil.With(err)
	}
	b.c = cache

	if err := b.c.Ping(b.ctx); err != nil {
		b.l.Warn("redis unavailable, using in-process cache", "error", err)
	}

	b.r = response.NewSessionResponder(b.s, b.l)

	b.s.AddHandler(func(s *dg.Session, r *dg.Ready) {
		b.l.Info("bot connected to gateway",
			"bot", r.User.String(),
			"guilds", len(s.State.Guilds),
			"version", utils.GetCommit(),
			"shard_id", conf.ShardID,
			"shard_count", conf.ShardCount,
		)
	})

	if err := b.s.Open(); err != nil {
		return nil, errutil.With(err)
	}

	b.s.AddHandler(func(s *dg.Session, g *dg.GuildCreate) { b.register(g.Guild) })
	b.s.AddHandler(func(s *dg.Session, g *dg.GuildDelete) { b.remove(g.Guild) })
	b.s.AddHandler(func(s *dg.Session, g *dg.GuildUpdate) {
		b.enqueue(g.ID, GuildEvent{Type: EventTypeGuildUpdate, GuildUpdate: g})
	})
	b.s.AddHandler(func(s *dg.Session, i *dg.InteractionCreate) {
		b.enqueue(i.GuildID, GuildEvent{Type: EventTypeInteraction, Interaction: i})
	})

	go b.status()

	return &b, nil
}

func (b *Bot) Close() {
	defer b.s.Close()
	defer b.d.Close()
	defer b.c.Close()

	b.cancel()
}

func (b *Bot) status() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	s := 0
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			var msg string
			switch s % 2 {
			case 0:
				count, err := b.d.Count(b.ctx, models.TableGuilds, sq.Eq{"deleted": nil})
				if err != nil {
					b.l.Error("error counting guilds", "error", err)
					continue
				}
				msg = fmt.Sprintf("Protecting %d servers", count)

			case 1:
				count, err := b.d.Count(b.ctx, models.TableBackups, sq.Eq{"deleted": nil})
				if err != nil {
					b.l.Error("error counting backups", "error", err)
					continue
				}
				msg = fmt.Sprintf("%d backups stored", count)
			}

			if err := b.s.UpdateStatusComplex(dg.UpdateStatusData{
				Status: string(dg.StatusOnline),
				Activities: []*dg.Activity{{
					Name:  b.s.State.User.Username,
					Type:  dg.ActivityTypeCustom,
					State: msg,
				}},
			}); err != nil {
				b.l.Error("error setting bot status", "error", err)
			}

			s++
		}
	}
}

func (b *Bot) ensure(guildID string) *GuildContext {
	b.mu.RLock()
	if guildCtx, exists := b.contexts[guildID]; exists {
		b.mu.RUnlock()
		return guildCtx
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if guildCtx, exists := b.contexts[guildID]; exists {
		return guildCtx
	}

	ctx, cancel := context.WithCancel(b.ctx)
	guildCtx := &GuildContext{
		Context: ctx,
		Cancel:  cancel,
		Events:  make(chan GuildEvent, 100),
	}

	b.contexts[guildID] = guildCtx
	return guildCtx
}

func (b *Bot) dispatch(guildID string, gc *GuildContext) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			stack = stack[:runtime.Stack(stack, false)]
			b.l.Error("panic recovered", "guild", guildID, "recovered", r, "stack", stack)
			go b.dispatch(guildID, gc)
		}
	}()

	for {
		select {
		case <-gc.Context.Done():
			return
		case e := <-gc.Events:
			switch e.Type {
			case EventTypeGuildUpdate:
				if err := b.d.Update(b.ctx, models.TableGuilds, sq.Eq{"id": guildID}, map[string]any{"name": e.GuildUpdate.Name}); err != nil {
					b.l.Warn("error updating guild name", "guild", guildID, "error", err)
				}
			case EventTypeInteraction:
				b.interact(gc, e.Interaction)
			}
		}
	}
}

func (b *Bot) interact(gc *GuildContext, i *dg.InteractionCreate) {
	if i == nil || i.Type != dg.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	h, ok := lookup[data.Name]
	if !ok {
		b.r.Fail(i, utils.Failure{Type: utils.ErrNotFound, Message: "No registered command"})
		return
	}

	g, err := b.d.GetGuild(b.ctx, i.GuildID)
	if err != nil {
		b.l.Warn("error fetching guild", "guild", i.GuildID, "error", err)
	}

	sub, opts := utils.MapOptions(i)
	b.l.Info("command issued", "guild", i.GuildID, "called", utils.FormatInteraction(i))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := make([]byte, 4096)
				stack = stack[:runtime.Stack(stack, false)]
				b.l.Error("panic recovered", "command", data.Name, "guild", i.GuildID, "recovered", r, "stack", stack)
			}
		}()

		if err := h.Handle(gc.Context, handlers.Dependencies{
			Session:     b.s,
			Client:      b.client,
			Database:    b.d,
			Cache:       b.c,
			Metrics:     b.m,
			Responder:   b.r,
			Logger:      b.l,
			Limits:      b.limits,
			Guild:       g,
			Interaction: i,
			Subcommand:  sub,
			Options:     opts,
		}); err != nil {
			var f utils.Failure
			if !errors.As(err, &f) {
				b.l.Error("error handling command", "error", err, "command", data.Name, "guild", i.GuildID)
			}
			if err := b.r.Fail(i, err); err != nil {
				b.l.Warn("error reporting failure", "error", err, "guild", i.GuildID)
			}
		}
	}()
}

// commandSetHash identifies a command set so unchanged sets are not uploaded again.
func commandSetHash(commands []*dg.ApplicationCommand) string {
	raw, err := json.Marshal(commands)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}

func commandSet(l *slog.Logger) []*dg.ApplicationCommand {
	commands := make([]*dg.ApplicationCommand, 0, len(lookup))
	for _, name := range []string{"backup", "ping"} {
		cmd := lookup[name].Metadata()
		result := utils.ValidateCommand(&cmd)
		if result.WasModified {
			l.Warn("command was modified during validation", "command", cmd.Name, "errors", result.Errors)
		}
		commands = append(commands, result.Command)
	}
	return commands
}

func (b *Bot) load(guildID string) {
	start := time.Now()

	g, err := b.d.GetGuild(b.ctx, guildID)
	if err != nil {
		b.l.Error("error getting guild", "error", err, "guild", guildID)
		return
	}

	commands := commandSet(b.l)
	hash := commandSetHash(commands)
	if hash == g.Settings.CommandSetHash {
		b.l.Debug("command set unchanged", "guild", guildID)
		return
	}

	if _, err := b.s.ApplicationCommandBulkOverwrite(b.s.State.User.ID, guildID, commands); err != nil {
		b.l.Error("error loading guild commands", "error", err, "guild", guildID)
		return
	}

	if err := b.d.Update(b.ctx, models.TableGuilds, sq.Eq{"id": guildID}, map[string]any{
		"settings": sq.Expr("jsonb_set(COALESCE(settings, '{}'::jsonb), '{command_set_hash}', to_jsonb(?::text))", hash),
	}); err != nil {
		b.l.Warn("error updating command set hash", "error", err, "guild", guildID, "hash", hash)
	}

	b.l.Info("command set loaded", "guild", guildID, "loaded", len(commands), "duration", time.Since(start))
}

func (b *Bot) enqueue(guildID string, event GuildEvent) {
	b.mu.RLock()
	ctx, ok := b.contexts[guildID]
	b.mu.RUnlock()

	if !ok {
		b.l.Warn("attempted to enqueue event for unknown guild", "guild", guildID)
		return
	}

	select {
	case ctx.Events <- event:
	case <-ctx.Context.Done():
		b.l.Debug("dropped event for cancelled guild context", "guild", guildID)
	default:
		b.l.Warn("event channel full, dropping event", "guild", guildID)
	}
}

func (b *Bot) register(g *dg.Guild) {
	b.mu.Lock()
	if existing, ok := b.contexts[g.ID]; ok {
		existing.Cancel()
		delete(b.contexts, g.ID)
	}
	b.mu.Unlock()

	gc := b.ensure(g.ID)

	_, err := b.d.GetGuild(b.ctx, g.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		if err := b.d.PutGuild(b.ctx, models.Guild{ID: g.ID, Name: g.Name}); err != nil {
			b.l.Error("error storing new guild", "error", err, "guild", g.ID)
			return
		}
	case err != nil:
		b.l.Error("error fetching guild", "error", err, "guild", g.ID)
		return
	default:
		if err := b.d.Update(b.ctx, models.TableGuilds, sq.Eq{"id": g.ID}, map[string]any{"name": g.Name}); err != nil {
			b.l.Error("error updating guild", "error", err, "guild", g.ID)
			return
		}
	}

	b.l.Info("registered guild", "id", g.ID, "name", g.Name)

	go b.load(g.ID)
	go b.dispatch(g.ID, gc)
}

func (b *Bot) remove(g *dg.Guild) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if guildCtx, ok := b.contexts[g.ID]; ok {
		guildCtx.Cancel()
		delete(b.contexts, g.ID)
	}

	b.l.Info("removed guild", "id", g.ID)
}
