package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/agromart/agromart-backend/api/responses"
	"github.com/agromart/agromart-backend/pkg/auth"
	"github.com/agromart/agromart-backend/pkg/config"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
)

// bearerToken pulls the credential out of an Authorization header. A bare
// token without the scheme is accepted.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}

// Auth verifies the access token and puts the caller on the request context.
// The role comes from the signed claims only.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(desc string, err error) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
				var appErr error = pkgerrors.New(pkgerrors.CodeUnauthorized, desc)
				if err != nil {
					appErr = pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, desc)
				}
				responses.WriteError(ctx, logg, w, appErr)
			}

			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := auth.ParseAccessToken(cfg, token)
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				reject("token expired", err)
				return
			case err != nil:
				reject("invalid token", err)
				return
			}

			ctx = WithActor(ctx, claims.UserID, claims.Role)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithActorRole(ctx, string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
