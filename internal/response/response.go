package response

import (
	"errors"
	"log/slog"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/utils"
)

type MessageOptions struct {
	Content   string
	Embeds    []*dg.MessageEmbed
	Files     []*dg.File
	Ephemeral bool
}

// Responder answers interactions through deferred responses and follow-up messages.
type Responder struct {
	s *dg.Session
	l *slog.Logger
}

func NewSessionResponder(s *dg.Session, l *slog.Logger) *Responder {
	return &Responder{s: s, l: l}
}

func (r *Responder) Defer(i *dg.InteractionCreate, ephemeral bool) error {
	resp := &dg.InteractionResponse{Type: dg.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &dg.InteractionResponseData{Flags: dg.MessageFlagsEphemeral}
	}
	return r.s.InteractionRespond(i.Interaction, resp)
}

// Send posts a follow-up message and returns its id.
func (r *Responder) Send(i *dg.InteractionCreate, opts MessageOptions) (string, error) {
	params := &dg.WebhookParams{
		Content: opts.Content,
		Embeds:  opts.Embeds,
		Files:   opts.Files,
	}
	if opts.Ephemeral {
		params.Flags = dg.MessageFlagsEphemeral
	}

	m, err := r.s.FollowupMessageCreate(i.Interaction, true, params)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// Fail reports a failure to the user. Errors that are not a utils.Failure are shown as
// internal errors.
func (r *Responder) Fail(i *dg.InteractionCreate, err error) error {
	var f utils.Failure
	if !errors.As(err, &f) {
		f = utils.Failure{Type: utils.ErrInternal, Message: "Failed to handle command", Data: map[string]any{"error": err}}
	}

	r.l.Warn("handler failure", "type", f.Type, "message", f.Message, "data", f.Data)

	_, err = r.s.FollowupMessageCreate(i.Interaction, true, &dg.WebhookParams{
		Embeds: []*dg.MessageEmbed{f.Embed()},
		Flags:  dg.MessageFlagsEphemeral,
	})
	return err
}
