package callback

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc handles one decoded event. rest is the breadcrumb tail of the
// joined token, passed through without parsing.
type HandlerFunc[R, T any] func(ctx context.Context, req R, event T, rest string) error

type route[R any] struct {
	tag     string
	matches func(token string) bool
	fields  func(token string) ([][2]string, error)
	run     func(ctx context.Context, req R, token, rest string) error
}

// Router maps incoming button data to the handler of the first variant that
// matches it. Routes are registered at start-up and read-only afterwards, so
// Dispatch needs no locking. R is the request type handed to every handler.
type Router[R any] struct {
	routes []route[R]
	tags   map[string]bool
	tracer trace.Tracer
}

// NewRouter returns an empty router.
func NewRouter[R any]() *Router[R] {
	return &Router[R]{
		tags:   make(map[string]bool),
		tracer: otel.Tracer("github.com/tjfontaine/hebrewbooks-bot/internal/callback"),
	}
}

// Handle registers h for tokens of variant v. It panics if the tag is
// already registered.
func Handle[R, T any](r *Router[R], v *Variant[T], h HandlerFunc[R, T]) {
	if r.tags[v.tag] {
		panic(fmt.Sprintf("callback: variant %q already registered", v.tag))
	}
	r.tags[v.tag] = true
	r.routes = append(r.routes, route[R]{
		tag:     v.tag,
		matches: v.Matches,
		fields:  v.Fields,
		run: func(ctx context.Context, req R, token, rest string) error {
			e, err := v.Decode(token)
			if err != nil {
				return err
			}
			return h(ctx, req, e, rest)
		},
	})
}

// Dispatch splits data into its primary token and breadcrumb tail and runs
// the handler of the first matching variant. It returns ErrNoRoute when
// nothing matches and the codec error when the token does not decode; both
// satisfy IsStale.
func (r *Router[R]) Dispatch(ctx context.Context, req R, data string) error {
	ctx, span := r.tracer.Start(ctx, "callback.dispatch")
	defer span.End()

	token, rest := Split(data)
	for _, rt := range r.routes {
		if !rt.matches(token) {
			continue
		}
		span.SetAttributes(
			attribute.String("callback.tag", rt.tag),
			attribute.Bool("callback.breadcrumb", rest != ""),
		)
		err := rt.run(ctx, req, token, rest)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	span.SetAttributes(attribute.Bool("callback.unrouted", true))
	return ErrNoRoute
}

// Lookup returns the tag of the variant that would handle data, without
// decoding it.
func (r *Router[R]) Lookup(data string) (string, bool) {
	token, _ := Split(data)
	for _, rt := range r.routes {
		if rt.matches(token) {
			return rt.tag, true
		}
	}
	return "", false
}

// Describe routes data and decodes its primary token, returning the tag, the
// named field values and the breadcrumb tail.
func (r *Router[R]) Describe(data string) (tag string, fields [][2]string, rest string, err error) {
	token, rest := Split(data)
	for _, rt := range r.routes {
		if !rt.matches(token) {
			continue
		}
		fields, err = rt.fields(token)
		return rt.tag, fields, rest, err
	}
	return "", nil, rest, ErrNoRoute
}

// Tags returns the registered tags in registration order.
func (r *Router[R]) Tags() []string {
	tags := make([]string, len(r.routes))
	for i, rt := range r.routes {
		tags[i] = rt.tag
	}
	return tags
}
