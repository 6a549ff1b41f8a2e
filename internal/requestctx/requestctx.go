// Package requestctx carries the per-request actor and locale through
// context.Context so handlers never reach for process-wide state.
package requestctx

import "context"

// Actor identifies the authenticated admin behind a request. The zero value
// is an anonymous visitor.
type Actor struct {
	ID       int64
	Username string
	Role     string
}

func (a Actor) Authenticated() bool {
	return a.ID > 0
}

type Context struct {
	Locale   string
	Actor    Actor
	ClientIP string
}

type contextKey struct{}

// With returns a copy of ctx carrying rc.
func With(ctx context.Context, rc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From returns the request context stored in ctx, or the zero value.
func From(ctx context.Context) Context {
	if ctx == nil {
		return Context{}
	}
	rc, _ := ctx.Value(contextKey{}).(Context)
	return rc
}

// WithActor replaces only the actor, keeping the resolved locale.
func WithActor(ctx context.Context, actor Actor) context.Context {
	rc := From(ctx)
	rc.Actor = actor
	return With(ctx, rc)
}

// WithLocale replaces only the locale, keeping the actor.
func WithLocale(ctx context.Context, locale string) context.Context {
	rc := From(ctx)
	rc.Locale = locale
	return With(ctx, rc)
}

// WithClientIP records the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	rc := From(ctx)
	rc.ClientIP = ip
	return With(ctx, rc)
}
