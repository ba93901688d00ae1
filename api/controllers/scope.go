package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/api/middleware"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
)

// EntityScope finds the company owning an entity.
type EntityScope interface {
	CompanyOf(ctx context.Context, ref directory.EntityRef) (uuid.UUID, error)
}

type principal struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
}

func principalFrom(r *http.Request) (principal, error) {
	p := principal{
		UserID:    middleware.UserIDFromContext(r.Context()),
		CompanyID: middleware.CompanyIDFromContext(r.Context()),
	}
	if p.UserID == uuid.Nil {
		return principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	if p.CompanyID == uuid.Nil {
		return principal{}, pkgerrors.New(pkgerrors.CodeForbidden, "company context missing")
	}
	return p, nil
}

// requireInCompany reports entities of other tenants as missing.
func requireInCompany(ctx context.Context, scope EntityScope, ref directory.EntityRef, companyID uuid.UUID) error {
	owner, err := scope.CompanyOf(ctx, ref)
	if err != nil {
		return err
	}
	if owner != companyID {
		return pkgerrors.New(pkgerrors.CodeNotFound, string(ref.Type)+" not found")
	}
	return nil
}
