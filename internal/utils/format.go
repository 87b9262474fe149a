package utils

import (
	"fmt"
	"strings"
	"time"

	dg "github.com/bwmarrin/discordgo"
)

type TimestampType string

const (
	TimestampShortDateTime TimestampType = "f" // 20 April 2021 16:20
	TimestampRelative      TimestampType = "R" // 2 months ago
)

func FormatTimestamp(t time.Time, style TimestampType) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

// FormatDuration renders d to the second, e.g. "1h 2m 5s".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

func FormatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// FormatInteraction renders a command invocation for logs, e.g. "/backup load id:abc".
// Resolved user, channel and role options are printed by id.
func FormatInteraction(i *dg.InteractionCreate) string {
	if i.Type != dg.InteractionApplicationCommand {
		return ""
	}

	data := i.ApplicationCommandData()
	parts := []string{"/" + data.Name}
	for _, opt := range data.Options {
		parts = append(parts, formatCommandOption(opt))
	}
	return strings.Join(parts, " ")
}

func formatCommandOption(opt *dg.ApplicationCommandInteractionDataOption) string {
	switch opt.Type {
	case dg.ApplicationCommandOptionSubCommand, dg.ApplicationCommandOptionSubCommandGroup:
		parts := []string{opt.Name}
		for _, sub := range opt.Options {
			parts = append(parts, formatCommandOption(sub))
		}
		return strings.Join(parts, " ")
	case dg.ApplicationCommandOptionString:
		return fmt.Sprintf("%s:%s", opt.Name, opt.StringValue())
	case dg.ApplicationCommandOptionInteger:
		return fmt.Sprintf("%s:%d", opt.Name, opt.IntValue())
	case dg.ApplicationCommandOptionBoolean:
		return fmt.Sprintf("%s:%t", opt.Name, opt.BoolValue())
	}
	return fmt.Sprintf("%s:%v", opt.Name, opt.Value)
}
