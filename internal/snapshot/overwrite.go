package snapshot

import (
	"encoding/json"
	"fmt"
)

type OverwriteType string

const (
	OverwriteRole   OverwriteType = "role"
	OverwriteMember OverwriteType = "member"
)

// Overwrite is a per-channel permission override for one role or member. A bit set in
// Allow grants the permission, a bit set in Deny revokes it, and a bit in neither
// inherits from the role.
type Overwrite struct {
	Type  OverwriteType `json:"type"`
	Allow int64         `json:"allow"`
	Deny  int64         `json:"deny"`
}

// Overwrites is keyed by the target's local id.
type Overwrites map[string]Overwrite

func (o Overwrite) Validate() error {
	switch o.Type {
	case OverwriteRole, OverwriteMember:
	default:
		return fmt.Errorf("%w: unknown overwrite type %q", ErrInvalid, o.Type)
	}

	if o.Allow&o.Deny != 0 {
		return fmt.Errorf("%w: overwrite allows and denies %#x", ErrInvalid, o.Allow&o.Deny)
	}

	return nil
}

func (o *Overwrite) UnmarshalJSON(b []byte) error {
	type raw Overwrite
	var r raw
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}

	ow := Overwrite(r)
	if err := ow.Validate(); err != nil {
		return err
	}

	*o = ow
	return nil
}
