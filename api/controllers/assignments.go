package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/api/responses"
	"github.com/dispatchboard/dispatchboard-backend/api/validators"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/internal/jobs"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

type assignmentBody struct {
	EntityType string `json:"entity_type" validate:"required,entity_type"`
	EntityID   string `json:"entity_id" validate:"required,uuid"`
	Kind       string `json:"kind" validate:"required,oneof=vendor worker team"`
	TargetID   string `json:"target_id" validate:"required,uuid"`
}

type statusChangeBody struct {
	EntityType string `json:"entity_type" validate:"required,entity_type"`
	EntityID   string `json:"entity_id" validate:"required,uuid"`
	Status     string `json:"status" validate:"required,oneof=pending in_progress on_hold completed cancelled"`
}

// Reassign moves a job, task or team task to a new vendor, worker or team and
// notifies the new owner.
func Reassign(svc jobs.Service, scope EntityScope, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body assignmentBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref := directory.EntityRef{Type: enums.EntityType(body.EntityType), ID: uuid.MustParse(body.EntityID)}
		if err := requireInCompany(r.Context(), scope, ref, p.CompanyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Assign(r.Context(), jobs.AssignInput{
			Entity:   ref,
			Kind:     jobs.AssigneeKind(body.Kind),
			TargetID: uuid.MustParse(body.TargetID),
			ActorID:  p.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ChangeWorkStatus(svc jobs.Service, scope EntityScope, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body statusChangeBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref := directory.EntityRef{Type: enums.EntityType(body.EntityType), ID: uuid.MustParse(body.EntityID)}
		if err := requireInCompany(r.Context(), scope, ref, p.CompanyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ChangeStatus(r.Context(), jobs.StatusInput{
			Entity:  ref,
			Status:  enums.WorkStatus(body.Status),
			ActorID: p.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
