package snapshot

import (
	"errors"
	"fmt"
)

var ErrInvalid = errors.New("invalid snapshot record")

func (r Role) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: role %q has no id", ErrInvalid, r.Name)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: role %s has no name", ErrInvalid, r.ID)
	}
	return nil
}

func (c Category) Validate() error {
	if c.ID == "" || c.Name == "" {
		return fmt.Errorf("%w: category %q/%q", ErrInvalid, c.ID, c.Name)
	}
	return validateOverwrites(c.Overwrites)
}

func (c TextChannel) Validate() error {
	if c.ID == "" || c.Name == "" {
		return fmt.Errorf("%w: text channel %q/%q", ErrInvalid, c.ID, c.Name)
	}
	if c.SlowmodeDelay < 0 {
		return fmt.Errorf("%w: text channel %s has negative slowmode", ErrInvalid, c.ID)
	}
	return validateOverwrites(c.Overwrites)
}

func (c VoiceChannel) Validate() error {
	if c.ID == "" || c.Name == "" {
		return fmt.Errorf("%w: voice channel %q/%q", ErrInvalid, c.ID, c.Name)
	}
	if c.Bitrate < 0 || c.UserLimit < 0 {
		return fmt.Errorf("%w: voice channel %s has negative limits", ErrInvalid, c.ID)
	}
	return validateOverwrites(c.Overwrites)
}

func (m Member) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: member %q has no id", ErrInvalid, m.Name)
	}
	return nil
}

func (b Ban) Validate() error {
	if b.User == "" {
		return fmt.Errorf("%w: ban has no user", ErrInvalid)
	}
	return nil
}

func validateOverwrites(ows Overwrites) error {
	for id, ow := range ows {
		if id == "" {
			return fmt.Errorf("%w: overwrite with empty target", ErrInvalid)
		}
		if err := ow.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the document-level invariants: unique ids per section, resolvable
// category references, and the member cap. Every violation is returned.
func (s *Snapshot) Validate() []error {
	var errs []error

	unique := func(section string, ids []string) {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				errs = append(errs, fmt.Errorf("%w: duplicate %s id %s", ErrInvalid, section, id))
			}
			seen[id] = struct{}{}
		}
	}

	roles := make([]string, 0, len(s.Roles))
	for _, r := range s.Roles {
		roles = append(roles, r.ID)
	}
	unique("role", roles)

	categories := make(map[string]struct{}, len(s.Categories))
	ids := make([]string, 0, len(s.Categories))
	for _, c := range s.Categories {
		categories[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	unique("category", ids)

	parent := func(kind, id string, ref *string) {
		if ref == nil {
			return
		}
		if _, ok := categories[*ref]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s channel %s references unknown category %s", ErrInvalid, kind, id, *ref))
		}
	}

	ids = ids[:0]
	for _, c := range s.TextChannels {
		ids = append(ids, c.ID)
		parent("text", c.ID, c.Category)
	}
	unique("text channel", ids)

	ids = ids[:0]
	for _, c := range s.VoiceChannels {
		ids = append(ids, c.ID)
		parent("voice", c.ID, c.Category)
	}
	unique("voice channel", ids)

	ids = ids[:0]
	for _, m := range s.Members {
		ids = append(ids, m.ID)
	}
	unique("member", ids)

	if len(s.Members) > MemberLimit {
		errs = append(errs, fmt.Errorf("%w: %d members exceeds limit of %d", ErrInvalid, len(s.Members), MemberLimit))
	}

	return errs
}
