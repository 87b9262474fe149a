// Package archive encodes snapshots for storage and export.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/vmihailenco/msgpack/v5"
)

func EncodeJSON(s *snapshot.Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeJSON parses a snapshot document. Overwrite records are validated while decoding;
// document-level checks are left to Snapshot.Validate.
func DecodeJSON(b []byte) (*snapshot.Snapshot, error) {
	s := snapshot.New(snapshot.GuildSettings{})
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}

// EncodeMsgpack writes the snapshot with the same field names as the JSON document.
func EncodeMsgpack(s *snapshot.Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)

	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeMsgpack(b []byte) (*snapshot.Snapshot, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseInternedStrings(true)
	dec.SetCustomStructTag("json")

	s := snapshot.New(snapshot.GuildSettings{})
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if errs := overwriteErrors(s); len(errs) > 0 {
		return nil, fmt.Errorf("failed to decode snapshot: %w", errs[0])
	}
	return s, nil
}

// overwriteErrors validates every overwrite, which JSON decoding does on the fly.
func overwriteErrors(s *snapshot.Snapshot) []error {
	var errs []error
	check := func(ows snapshot.Overwrites) {
		for _, ow := range ows {
			if err := ow.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, c := range s.Categories {
		check(c.Overwrites)
	}
	for _, c := range s.TextChannels {
		check(c.Overwrites)
	}
	for _, c := range s.VoiceChannels {
		check(c.Overwrites)
	}
	return errs
}
