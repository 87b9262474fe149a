package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	dg "github.com/bwmarrin/discordgo"
	"github.com/glotchimo/ark/internal/snapshot"
)

var ErrGuildUnavailable = errors.New("guild unavailable")

type ErrorKind int

const (
	// TransportError is a rejected remote call: not found, rate limited, server error.
	TransportError ErrorKind = iota
	// DataError is a malformed or missing snapshot or platform field.
	DataError
	// PolicyError is a structural change the acting member lacks authority for.
	PolicyError
)

func (k ErrorKind) String() string {
	switch k {
	case TransportError:
		return "transport"
	case DataError:
		return "data"
	case PolicyError:
		return "policy"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// SkipError is why a single item was skipped.
type SkipError struct {
	Kind ErrorKind
	Err  error
}

func (e *SkipError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

func (e *SkipError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"kind":  e.Kind.String(),
		"error": e.Err.Error(),
	})
}

func (e *SkipError) UnmarshalJSON(b []byte) error {
	var raw struct {
		Kind  string `json:"kind"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch raw.Kind {
	case "data":
		e.Kind = DataError
	case "policy":
		e.Kind = PolicyError
	default:
		e.Kind = TransportError
	}
	e.Err = errors.New(raw.Error)
	return nil
}

// Classify assigns an error to the skip taxonomy.
func Classify(err error) *SkipError {
	var se *SkipError
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, snapshot.ErrInvalid):
		return &SkipError{Kind: DataError, Err: err}
	case isForbidden(err):
		return &SkipError{Kind: PolicyError, Err: err}
	}

	return &SkipError{Kind: TransportError, Err: err}
}

func isForbidden(err error) bool {
	var rest *dg.RESTError
	if !errors.As(err, &rest) {
		return false
	}

	if rest.Message != nil && rest.Message.Code == dg.ErrCodeMissingPermissions {
		return true
	}

	return rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden
}

type panicError struct {
	recovered any
}

func (p panicError) Error() string {
	return fmt.Sprintf("recovered: %v", p.recovered)
}
