package utils

import (
	"fmt"

	dg "github.com/bwmarrin/discordgo"
)

const (
	maxNameLength        = 32
	maxDescriptionLength = 100
	maxOptions           = 25
	maxChoices           = 25
	maxChoiceLength      = 100
)

type ValidationResult struct {
	Command     *dg.ApplicationCommand
	WasModified bool
	Errors      []string
}

func (r *ValidationResult) fix(what string) {
	r.WasModified = true
	r.Errors = append(r.Errors, what)
}

func clip(s string, n int) (string, bool) {
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}

// ValidateCommand trims a command and its options, nested subcommands included, to the
// limits the platform accepts. The command is modified in place.
func ValidateCommand(cmd *dg.ApplicationCommand) ValidationResult {
	result := ValidationResult{Command: cmd}

	var cut bool
	if cmd.Name, cut = clip(cmd.Name, maxNameLength); cut {
		result.fix("command name was truncated")
	}
	if cmd.Description, cut = clip(cmd.Description, maxDescriptionLength); cut {
		result.fix("command description was truncated")
	}

	cmd.Options = validateOptions(&result, cmd.Name, cmd.Options)
	return result
}

func validateOptions(result *ValidationResult, path string, opts []*dg.ApplicationCommandOption) []*dg.ApplicationCommandOption {
	if len(opts) > maxOptions {
		opts = opts[:maxOptions]
		result.fix(path + ": excess options were removed")
	}

	for _, opt := range opts {
		var cut bool
		if opt.Name, cut = clip(opt.Name, maxNameLength); cut {
			result.fix(path + ": option name was truncated")
		}
		if opt.Description, cut = clip(opt.Description, maxDescriptionLength); cut {
			result.fix(fmt.Sprintf("%s %s: option description was truncated", path, opt.Name))
		}

		if len(opt.Choices) > maxChoices {
			opt.Choices = opt.Choices[:maxChoices]
			result.fix(fmt.Sprintf("%s %s: excess choices were removed", path, opt.Name))
		}
		for _, choice := range opt.Choices {
			if choice.Name, cut = clip(choice.Name, maxChoiceLength); cut {
				result.fix(fmt.Sprintf("%s %s: choice name was truncated", path, opt.Name))
			}
			if s, ok := choice.Value.(string); ok {
				if s, cut = clip(s, maxChoiceLength); cut {
					choice.Value = s
					result.fix(fmt.Sprintf("%s %s: choice value was truncated", path, opt.Name))
				}
			}
		}

		opt.Options = validateOptions(result, path+" "+opt.Name, opt.Options)
	}

	return opts
}
