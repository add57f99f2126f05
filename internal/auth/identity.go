// Package auth resolves the acting caller of each API request. The control
// plane does not authenticate; identity is taken from trusted proxy headers
// and recorded in the activity log.
package auth

import (
	"context"
	"net"
	"net/http"

	"github.com/polarfoxDev/ballast/internal/model"
)

const (
	// ActorIDHeader and ActorNameHeader are set by the fronting application
	// for the logged-in account.
	ActorIDHeader   = "X-Actor-Id"
	ActorNameHeader = "X-Actor-Name"
)

// Anonymous is recorded when the fronting application sends no identity.
var Anonymous = model.Actor{ID: "anonymous", Name: "Anonymous"}

type contextKey struct{}

// FromRequest extracts the acting caller from the request headers.
func FromRequest(r *http.Request) model.Actor {
	id := r.Header.Get(ActorIDHeader)
	if id == "" {
		return Anonymous
	}
	name := r.Header.Get(ActorNameHeader)
	if name == "" {
		name = id
	}
	return model.Actor{ID: id, Name: name}
}

// Origin returns the caller's address for audit records, preferring the
// proxy-provided client address over the socket peer.
func Origin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware stores the caller identity in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), contextKey{}, FromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the caller stored by Middleware, or Anonymous.
func ActorFromContext(ctx context.Context) model.Actor {
	if a, ok := ctx.Value(contextKey{}).(model.Actor); ok {
		return a
	}
	return Anonymous
}
