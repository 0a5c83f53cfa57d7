package action

import (
	"errors"
	"fmt"
)

// EncodingError is returned when an identifier cannot be rendered.
type EncodingError struct {
	Verb   Verb
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %q: %s", e.Verb, e.Reason)
}

// MalformedError is returned when a raw string is not an identifier the bot issued.
type MalformedError struct {
	Raw    string
	Reason string
}

func (e *MalformedError) Error() string {
	raw := e.Raw
	if len(raw) > 32 {
		raw = raw[:32] + "..."
	}
	return fmt.Sprintf("malformed identifier %q: %s", raw, e.Reason)
}

// IsMalformed reports whether err is a decode failure.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

func arityReason(want, got int) string {
	return fmt.Sprintf("expected %d segments, got %d", want, got)
}

func lengthReason(n int) string {
	return fmt.Sprintf("length %d exceeds %d", n, MaxLength)
}
