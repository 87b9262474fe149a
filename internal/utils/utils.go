package utils

import (
	"runtime/debug"

	dg "github.com/bwmarrin/discordgo"
	"github.com/rs/xid"
)

func GenerateID() string {
	return xid.New().String()
}

type Options map[string]*dg.ApplicationCommandInteractionDataOption

func (o Options) String(name string) string {
	if opt, ok := o[name]; ok && opt.Type == dg.ApplicationCommandOptionString {
		return opt.StringValue()
	}
	return ""
}

// MapOptions indexes the options of a command by name. When the command was invoked
// through a subcommand, the subcommand name is returned with its own options.
func MapOptions(i *dg.InteractionCreate) (string, Options) {
	opts := i.ApplicationCommandData().Options

	var sub string
	if len(opts) == 1 && opts[0].Type == dg.ApplicationCommandOptionSubCommand {
		sub = opts[0].Name
		opts = opts[0].Options
	}

	om := make(Options, len(opts))
	for _, opt := range opts {
		om[opt.Name] = opt
	}
	return sub, om
}

// GetCommit returns the vcs revision the binary was built from, if recorded.
func GetCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
