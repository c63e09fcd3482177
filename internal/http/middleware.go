package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"envelopes/internal/core"
	applog "envelopes/internal/log"
)

// UserHeader carries the caller's id, set by the authenticating proxy.
const UserHeader = "X-User-ID"

type contextKey string

const actorKey contextKey = "actor"

// ActorResolver maps an authenticated user id to its ledger role.
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID string) (core.Actor, error)
}

// identity resolves the caller from UserHeader and stores the Actor in the
// request context. Unknown users are rejected with 401.
func identity(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserHeader))
			actor, err := resolver.ResolveActor(r.Context(), userID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			ctx = applog.WithLogger(ctx, applog.FromContext(ctx).With(applog.FieldUserID, actor.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFrom(ctx context.Context) core.Actor {
	a, _ := ctx.Value(actorKey).(core.Actor)
	return a
}

// securityHeaders sets the standard hardening headers for a JSON API.
func securityHeaders(isDevelopment bool) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		STSSeconds:            31536000,
		IsDevelopment:         isDevelopment,
	})
	return sm.Handler
}

// mutationLimit throttles writes per user, falling back to the client IP.
func mutationLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
				return "user:" + id, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeProblem(w, ProblemDetail{
				Status: http.StatusTooManyRequests,
				Title:  "Too many requests",
				Detail: "rate limit exceeded, retry later",
			})
		}))
}

// onlyMutations applies mw to non-GET requests.
func onlyMutations(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
