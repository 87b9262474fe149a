package utils

import (
	"fmt"

	dg "github.com/bwmarrin/discordgo"
)

type ErrorType int

const (
	ErrInternal ErrorType = iota
	ErrBadInput
	ErrNotAllowed
	ErrNotFound
	ErrTooLarge
	ErrBusy
	ErrLimit
)

const (
	colorError   = 0xFF0000
	colorWarning = 0xFFA500
)

// Failure is an error shown to the user that issued a command.
type Failure struct {
	Type    ErrorType
	Message string
	Data    map[string]any
}

func (f Failure) Error() string {
	return f.Message
}

func (f Failure) Embed() *dg.MessageEmbed {
	e := &dg.MessageEmbed{Description: f.Message, Color: colorWarning}

	switch f.Type {
	case ErrInternal:
		detail := "An unexpected error occurred."
		if v, ok := f.Data["error"]; ok {
			detail = fmt.Sprintf("%v", v)
		}
		e.Description = fmt.Sprintf("%s\n\nError details (please share with support):\n```%s```", f.Message, detail)
		e.Color = colorError

	case ErrBadInput:
		e.Title = "Invalid Input"
		e.Description = f.Message + "\n\nDouble-check your input and try again."

	case ErrNotAllowed:
		e.Title = "Permission Denied"
		e.Description = f.Message + "\n\nIf this doesn't seem right, let an admin know."
		e.Color = colorError

	case ErrNotFound:
		e.Title = "Not Found"

	case ErrTooLarge:
		e.Title = "Too Large"

	case ErrBusy:
		e.Title = "Busy"
		e.Description = f.Message + "\n\nWait for it to finish and try again."

	case ErrLimit:
		e.Title = "Limit Reached"
	}

	return e
}
