package commands

import (
	"context"
	"fmt"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/handlers"
	rp "github.com/glotchimo/ark/internal/response"
)

type Ping struct{}

func (p *Ping) Metadata() dg.ApplicationCommand {
	return dg.ApplicationCommand{
		Name:        "ping",
		Description: "Ping the backend",
	}
}

func (p *Ping) Handle(ctx context.Context, dep handlers.Dependencies) error {
	if err := dep.Responder.Defer(dep.Interaction, true); err != nil {
		return err
	}

	cache := "ok"
	if err := dep.Cache.Ping(ctx); err != nil {
		cache = fmt.Sprintf("unavailable (breaker %s)", dep.Cache.Breaker())
	}

	embed := dg.MessageEmbed{
		Title: "Pong!",
		Fields: []*dg.MessageEmbedField{
			{Name: "Latency", Value: dep.Session.HeartbeatLatency().String(), Inline: true},
			{Name: "Cache", Value: cache, Inline: true},
		},
	}

	_, err := dep.Responder.Send(dep.Interaction, rp.MessageOptions{Embeds: []*dg.MessageEmbed{&embed}, Ephemeral: true})
	return err
}
