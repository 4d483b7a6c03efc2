package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cradoe/pawnbroker/internal/context"
	"github.com/cradoe/pawnbroker/internal/errHandler"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/response"

	"github.com/pascaldekloe/jwt"
	"github.com/tomasen/realip"
)

type JwtConfig struct {
	SecretKey string
	Issuer    string
}

type Middleware struct {
	errHandler *errHandler.ErrorHandler
	logger     *slog.Logger
	UserRepo   repository.UserRepository
	jwt        JwtConfig
	// Now validates token times; tests pin it.
	Now func() time.Time
}

func New(errHandler *errHandler.ErrorHandler, logger *slog.Logger, UserRepo repository.UserRepository, jwt JwtConfig) *Middleware {
	return &Middleware{
		errHandler: errHandler,
		logger:     logger,
		UserRepo:   UserRepo,
		jwt:        jwt,
		Now:        time.Now,
	}
}

func (mid *Middleware) RecoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err != nil {
				mid.errHandler.ServerError(w, r, fmt.Errorf("%s", err))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (mid *Middleware) LogAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := response.NewMetricsResponseWriter(w)
		start := time.Now()
		next.ServeHTTP(mw, r)

		var (
			ip     = realip.FromRequest(r)
			method = r.Method
			url    = r.URL.String()
			proto  = r.Proto
		)

		userAttrs := slog.Group("user", "ip", ip)
		requestAttrs := slog.Group("request", "method", method, "url", url, "proto", proto)
		responseAttrs := slog.Group("response", "status", mw.StatusCode, "size", mw.BytesCount, "duration", time.Since(start).String())

		mid.logger.Info("access", userAttrs, requestAttrs, responseAttrs)
	})
}

// Authenticate resolves the bearer token into an actor. Requests without a
// token continue as anonymous; a token that fails any check is rejected.
func (mid *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Authorization")

		actor := models.Actor{
			IP:        realip.FromRequest(r),
			UserAgent: r.UserAgent(),
			Channel:   models.ChannelWeb,
		}

		authorizationHeader := r.Header.Get("Authorization")

		if authorizationHeader != "" {
			headerParts := strings.Split(authorizationHeader, " ")

			if len(headerParts) != 2 || headerParts[0] != "Bearer" {
				mid.errHandler.InvalidAuthenticationToken(w, r)
				return
			}

			token := headerParts[1]

			claims, err := jwt.HMACCheck([]byte(token), []byte(mid.jwt.SecretKey))
			if err != nil {
				mid.errHandler.InvalidAuthenticationToken(w, r)
				return
			}

			if !claims.Valid(mid.Now()) {
				mid.errHandler.InvalidAuthenticationToken(w, r)
				return
			}

			if claims.Issuer != mid.jwt.Issuer {
				mid.errHandler.InvalidAuthenticationToken(w, r)
				return
			}

			if !claims.AcceptAudience(mid.jwt.Issuer) {
				mid.errHandler.InvalidAuthenticationToken(w, r)
				return
			}

			user, found, err := mid.UserRepo.GetOne(r.Context(), claims.Subject)
			if err != nil {
				mid.errHandler.ServerError(w, r, err)
				return
			}

			// deleted or suspended accounts lose their sessions immediately
			if !found || user.Status != models.UserStatusActive {
				mid.errHandler.InvalidAuthenticationToken(w, r)
				return
			}

			actor.ID = user.ID
			actor.Roles = append([]string(nil), user.Roles...)
			r = context.ContextSetAuthenticatedUser(r, user)
		}

		r = context.ContextSetActor(r, actor)
		next.ServeHTTP(w, r)
	})
}

func (mid *Middleware) RequireAuthenticatedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authenticatedUser := context.ContextGetAuthenticatedUser(r)

		if authenticatedUser == nil {
			mid.errHandler.AuthenticationRequired(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole admits authenticated users holding at least one of roles.
func (mid *Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mid.RequireAuthenticatedUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := context.ContextGetActor(r)

			if !actor.HasAnyRole(roles...) {
				mid.errHandler.Forbidden(w, r)
				return
			}

			next.ServeHTTP(w, r)
		}))
	}
}
