package context

import (
	"context"
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
)

type contextKey string

const (
	authenticatedUserContextKey = contextKey("authenticatedUser")
	actorContextKey             = contextKey("actor")
)

func ContextSetAuthenticatedUser(r *http.Request, user *models.User) *http.Request {
	ctx := context.WithValue(r.Context(), authenticatedUserContextKey, user)
	return r.WithContext(ctx)
}

func ContextGetAuthenticatedUser(r *http.Request) *models.User {
	user, ok := r.Context().Value(authenticatedUserContextKey).(*models.User)
	if !ok {
		return nil
	}

	return user
}

// ContextSetActor stores the identity the request runs as. Anonymous requests
// still carry an actor with the client ip and user agent for the audit journal.
func ContextSetActor(r *http.Request, actor models.Actor) *http.Request {
	ctx := context.WithValue(r.Context(), actorContextKey, actor)
	return r.WithContext(ctx)
}

func ContextGetActor(r *http.Request) (models.Actor, bool) {
	actor, ok := r.Context().Value(actorContextKey).(models.Actor)
	return actor, ok
}
