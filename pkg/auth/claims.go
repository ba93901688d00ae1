package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID          uuid.UUID
	ActiveCompanyID uuid.UUID
	Role            enums.MemberRole
	JTI             string
}

// AccessTokenClaims represents the typed JWT presented by clients. Every
// request is scoped to exactly one company.
type AccessTokenClaims struct {
	UserID          uuid.UUID        `json:"user_id"`
	ActiveCompanyID uuid.UUID        `json:"active_company_id"`
	Role            enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}
