package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/api/responses"
	pkgAuth "github.com/dispatchboard/dispatchboard-backend/pkg/auth"
	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

// accessTokenParam carries the token for websocket upgrades, where browsers
// cannot set headers.
const accessTokenParam = "access_token"

// MembershipChecker confirms the token's company still lists the user.
type MembershipChecker interface {
	IsCompanyMember(ctx context.Context, companyID, userID uuid.UUID) (bool, error)
}

// Auth validates a bearer token and seeds the request context with the claims.
// A nil members checker trusts the token's company claim as-is.
func Auth(cfg config.JWTConfig, members MembershipChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			if members != nil {
				ok, err := members.IsCompanyMember(r.Context(), claims.ActiveCompanyID, claims.UserID)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate membership"))
					return
				}
				if !ok {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not a member of the active company"))
					return
				}
			}

			ctx := WithUserID(r.Context(), claims.UserID)
			ctx = WithCompanyID(ctx, claims.ActiveCompanyID)
			ctx = WithRole(ctx, string(claims.Role))

			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithCompanyID(ctx, claims.ActiveCompanyID.String())
				ctx = logg.WithField(ctx, "actor_role", string(claims.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return strings.TrimSpace(r.URL.Query().Get(accessTokenParam))
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
