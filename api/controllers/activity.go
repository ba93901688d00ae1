package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchboard/dispatchboard-backend/api/responses"
	"github.com/dispatchboard/dispatchboard-backend/api/validators"
	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

// ActivityFeed lists records for the caller's company, newest first unless
// order=asc. Optional filters: entityType+entityId, actorId, recipientId, action.
func ActivityFeed(ledger activity.Service, scope EntityScope, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := feedFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Entity != nil {
			if err := requireInCompany(r.Context(), scope, *filter.Entity, p.CompanyID); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		filter.CompanyID = &p.CompanyID

		result, err := ledger.Query(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// EntityTimeline lists one entity's records, oldest first unless order=desc.
func EntityTimeline(ledger activity.Service, scope EntityScope, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entityType, err := validators.ParseEntityType(chi.URLParam(r, "entityType"), "entityType")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entityID, err := validators.ParseUUIDParam(r, "entityId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref := directory.EntityRef{Type: entityType, ID: entityID}
		if err := requireInCompany(r.Context(), scope, ref, p.CompanyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := pageParams(r, pagination.OrderAsc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actions, err := validators.ParseActions(r, "action")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := ledger.Query(r.Context(), activity.Filter{Entity: &ref, Actions: actions, Page: page})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func feedFilter(r *http.Request) (activity.Filter, error) {
	var filter activity.Filter
	page, err := pageParams(r, pagination.OrderDesc)
	if err != nil {
		return filter, err
	}
	filter.Page = page

	if filter.Actions, err = validators.ParseActions(r, "action"); err != nil {
		return filter, err
	}
	if filter.ActorID, err = validators.ParseQueryUUID(r, "actorId"); err != nil {
		return filter, err
	}
	if filter.RecipientID, err = validators.ParseQueryUUID(r, "recipientId"); err != nil {
		return filter, err
	}
	if filter.UnreadOnly, err = validators.ParseQueryBool(r, "unreadOnly"); err != nil {
		return filter, err
	}

	rawType := strings.TrimSpace(r.URL.Query().Get("entityType"))
	entityID, err := validators.ParseQueryUUID(r, "entityId")
	if err != nil {
		return filter, err
	}
	switch {
	case rawType == "" && entityID == nil:
	case rawType == "" || entityID == nil:
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "entityType and entityId must be given together")
	default:
		entityType, err := validators.ParseEntityType(rawType, "entityType")
		if err != nil {
			return filter, err
		}
		filter.Entity = &directory.EntityRef{Type: entityType, ID: *entityID}
	}
	return filter, nil
}

func pageParams(r *http.Request, defaultOrder pagination.Order) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	order := defaultOrder
	if raw := r.URL.Query().Get("order"); raw != "" {
		if order, err = pagination.ParseOrder(raw); err != nil {
			return pagination.Params{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order")
		}
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		Order:  order,
	}, nil
}
