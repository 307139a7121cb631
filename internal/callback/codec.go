// Package callback encodes navigation state into the short opaque strings
// carried as button payloads by the messaging platforms, and routes those
// strings back to typed handlers.
//
// A token has the form
//
//	tag:field1:field2:...:fieldN
//
// and several tokens may be chained with a comma to carry breadcrumbs:
//
//	re:1234:5:300:i:b,sh:1234,bn:subject:12:1:40
//
// The first token is the event to handle; the remainder is passed through
// untouched so a "back" button can reproduce the previous screen.
package callback

import (
	"fmt"
	"strings"
)

const (
	// Sep separates the tag and fields inside one token.
	Sep = ":"
	// OuterSep separates tokens in a joined breadcrumb chain.
	OuterSep = ","
)

// Variant is the schema of one kind of navigation event: a tag and the
// ordered fields of T that go on the wire. Variants are built once at
// start-up and shared read-only.
type Variant[T any] struct {
	tag    string
	fields []Field[T]
}

// NewVariant returns a variant with the given tag and fields. It panics on
// an empty tag, a tag containing a separator, or duplicate field names.
func NewVariant[T any](tag string, fields ...Field[T]) *Variant[T] {
	if tag == "" {
		panic("callback: variant tag cannot be empty")
	}
	if strings.Contains(tag, Sep) || strings.Contains(tag, OuterSep) {
		panic(fmt.Sprintf("callback: variant tag %q contains a separator", tag))
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" || f.Parse == nil || f.Format == nil {
			panic(fmt.Sprintf("callback: variant %q has an incomplete field", tag))
		}
		if seen[f.Name] {
			panic(fmt.Sprintf("callback: variant %q declares field %q twice", tag, f.Name))
		}
		seen[f.Name] = true
	}
	return &Variant[T]{tag: tag, fields: fields}
}

// Tag returns the variant's tag.
func (v *Variant[T]) Tag() string { return v.tag }

// FieldNames returns the declared field names in wire order.
func (v *Variant[T]) FieldNames() []string {
	names := make([]string, len(v.fields))
	for i, f := range v.fields {
		names[i] = f.Name
	}
	return names
}

// Encode renders e as a token.
func (v *Variant[T]) Encode(e T) string {
	if len(v.fields) == 0 {
		return v.tag
	}
	var b strings.Builder
	b.WriteString(v.tag)
	for _, f := range v.fields {
		b.WriteString(Sep)
		b.WriteString(f.Format(&e))
	}
	return b.String()
}

// Matches reports whether token carries this variant's tag: the token is
// the tag itself or starts with the tag and a separator. A tag that is a
// prefix of another tag never matches the longer one's tokens. The rule is
// the same for every variant, so a token that matches fails Decode only on
// arity or field format.
func (v *Variant[T]) Matches(token string) bool {
	return token == v.tag || strings.HasPrefix(token, v.tag+Sep)
}

// Decode parses token into a T. Decoding is strict: the tag must match and
// the number of fields must equal the declared count.
func (v *Variant[T]) Decode(token string) (T, error) {
	var e T
	if !v.Matches(token) {
		return e, &UnknownVariantError{Token: token, Want: v.tag}
	}

	var parts []string
	if tail := token[len(v.tag):]; tail != "" {
		parts = strings.Split(tail[len(Sep):], Sep)
	}
	if len(parts) != len(v.fields) {
		return e, &ArityMismatchError{
			Token: token,
			Tag:   v.tag,
			Want:  len(v.fields),
			Got:   len(parts),
		}
	}
	for i, f := range v.fields {
		if err := f.Parse(&e, parts[i]); err != nil {
			var zero T
			return zero, &FieldFormatError{
				Token: token,
				Tag:   v.tag,
				Field: f.Name,
				Value: parts[i],
				Err:   err,
			}
		}
	}
	return e, nil
}

// Fields decodes token and returns its field values as strings keyed by
// name, in wire order. It is meant for diagnostics.
func (v *Variant[T]) Fields(token string) ([][2]string, error) {
	e, err := v.Decode(token)
	if err != nil {
		return nil, err
	}
	out := make([][2]string, len(v.fields))
	for i, f := range v.fields {
		out[i] = [2]string{f.Name, f.Format(&e)}
	}
	return out, nil
}
