package backup

import (
	"fmt"
	"strings"
)

// Options selects which sections a restore replays. The order among enabled sections is
// fixed.
type Options struct {
	Roles    bool `json:"roles"`
	Channels bool `json:"channels"`
	Settings bool `json:"settings"`
	Bans     bool `json:"bans"`
	Members  bool `json:"members"`
}

func DefaultOptions() Options {
	return Options{Roles: true, Channels: true, Settings: true}
}

func AllOptions() Options {
	return Options{Roles: true, Channels: true, Settings: true, Bans: true, Members: true}
}

func (o Options) Any() bool {
	return o.Roles || o.Channels || o.Settings || o.Bans || o.Members
}

func (o Options) String() string {
	var parts []string
	for _, f := range o.fields() {
		if *f.v {
			parts = append(parts, f.name)
		} else {
			parts = append(parts, "!"+f.name)
		}
	}
	return strings.Join(parts, " ")
}

type optionField struct {
	name string
	v    *bool
}

func (o *Options) fields() []optionField {
	return []optionField{
		{"roles", &o.Roles},
		{"channels", &o.Channels},
		{"settings", &o.Settings},
		{"bans", &o.Bans},
		{"members", &o.Members},
	}
}

// ParseOptions applies space separated toggles on top of the defaults. "name" enables a
// section, "!name" or "-name" disables it, and "*" / "!*" toggle all of them.
func ParseOptions(raw string) (Options, error) {
	o := DefaultOptions()

	for _, tok := range strings.Fields(strings.ToLower(raw)) {
		value := true
		if strings.HasPrefix(tok, "!") || strings.HasPrefix(tok, "-") {
			value = false
			tok = tok[1:]
		} else if strings.HasPrefix(tok, "+") {
			tok = tok[1:]
		}

		if tok == "*" {
			for _, f := range o.fields() {
				*f.v = value
			}
			continue
		}

		found := false
		for _, f := range o.fields() {
			if f.name == tok {
				*f.v = value
				found = true
				break
			}
		}
		if !found {
			return o, fmt.Errorf("unknown restore option %q", tok)
		}
	}

	return o, nil
}
