package callback

import (
	"errors"
	"fmt"
)

// ErrNoRoute is returned by Router.Dispatch when no registered variant
// matches the incoming data. It is the normal outcome for buttons issued by
// an older build or for foreign payloads.
var ErrNoRoute = errors.New("callback: no matching variant")

// UnknownVariantError reports a token whose tag is not the expected one.
type UnknownVariantError struct {
	Token string
	Want  string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("callback: token %q is not a %q event", e.Token, e.Want)
}

// ArityMismatchError reports a token with the wrong number of fields.
type ArityMismatchError struct {
	Token string
	Tag   string
	Want  int
	Got   int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("callback: %q event wants %d fields, token %q has %d", e.Tag, e.Want, e.Token, e.Got)
}

// FieldFormatError reports a field whose wire form does not parse.
type FieldFormatError struct {
	Token string
	Tag   string
	Field string
	Value string
	Err   error
}

func (e *FieldFormatError) Error() string {
	return fmt.Sprintf("callback: %q event field %s=%q in token %q: %v", e.Tag, e.Field, e.Value, e.Token, e.Err)
}

func (e *FieldFormatError) Unwrap() error { return e.Err }

// IsStale reports whether err means the token is stale or foreign: an
// unknown tag, a wrong field count, a malformed field, or no route at all.
// Such errors are shown to the user as an expired button, never treated as
// a fault.
func IsStale(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoRoute) {
		return true
	}
	var (
		uv *UnknownVariantError
		am *ArityMismatchError
		ff *FieldFormatError
	)
	return errors.As(err, &uv) || errors.As(err, &am) || errors.As(err, &ff)
}
