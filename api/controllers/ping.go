package controllers

import (
	"net/http"

	"github.com/dispatchboard/dispatchboard-backend/api/middleware"
	"github.com/dispatchboard/dispatchboard-backend/api/responses"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// WhoAmI echoes the identity the access token resolved to.
func WhoAmI(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"user_id":    p.UserID.String(),
			"company_id": p.CompanyID.String(),
			"role":       string(middleware.RoleFromContext(r.Context())),
		})
	}
}
