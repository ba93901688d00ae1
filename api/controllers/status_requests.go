package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/api/responses"
	"github.com/dispatchboard/dispatchboard-backend/api/validators"
	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/internal/statusrequests"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

type statusRequestBody struct {
	EntityType string `json:"entity_type" validate:"required,entity_type"`
	EntityID   string `json:"entity_id" validate:"required,uuid"`
	Notes      string `json:"notes" validate:"max=2000"`
}

type statusResponseBody struct {
	Notes  string  `json:"notes" validate:"max=2000"`
	Status *string `json:"status" validate:"omitempty,oneof=pending in_progress on_hold completed cancelled"`
}

type appendResponse struct {
	Record     activity.Record `json:"record"`
	Suppressed bool            `json:"suppressed"`
}

// CreateStatusRequest asks the entity's current assignee for an update.
// Answers 422 UNRESOLVED_RECIPIENT when nobody can be notified.
func CreateStatusRequest(svc statusrequests.Service, scope EntityScope, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body statusRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref := directory.EntityRef{Type: enums.EntityType(body.EntityType), ID: uuid.MustParse(body.EntityID)}
		if err := requireInCompany(r.Context(), scope, ref, p.CompanyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Request(r.Context(), statusrequests.RequestInput{
			Entity:  ref,
			ActorID: p.UserID,
			Notes:   validators.SanitizeString(body.Notes, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, record)
	}
}

// RespondStatusRequest answers a request addressed to the caller. A repeated
// answer returns the first one with suppressed=true.
func RespondStatusRequest(svc statusrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body statusResponseBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := statusrequests.RespondInput{
			RequestID:   requestID,
			ResponderID: p.UserID,
			Notes:       validators.SanitizeString(body.Notes, 2000),
		}
		if body.Status != nil {
			status := enums.WorkStatus(*body.Status)
			input.Status = &status
		}

		result, err := svc.Respond(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.Suppressed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, appendResponse{Record: result.Record, Suppressed: result.Suppressed})
	}
}

func PendingStatusRequests(svc statusrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := pageParams(r, pagination.OrderDesc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Pending(r.Context(), p.UserID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
