package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/api/responses"
	"github.com/dispatchboard/dispatchboard-backend/api/validators"
	"github.com/dispatchboard/dispatchboard-backend/internal/chatrooms"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

// CompanyMembers answers whether a user belongs to a company.
type CompanyMembers interface {
	IsCompanyMember(ctx context.Context, companyID, userID uuid.UUID) (bool, error)
}

type roomBody struct {
	EntityType string `json:"entity_type" validate:"required,entity_type"`
	EntityID   string `json:"entity_id" validate:"required,uuid"`
	RoomType   string `json:"room_type" validate:"required,oneof=public vendor_workers"`
	Name       string `json:"name" validate:"required,max=120"`
}

type privateRoomBody struct {
	EntityType    string `json:"entity_type" validate:"required,entity_type"`
	EntityID      string `json:"entity_id" validate:"required,uuid"`
	CounterpartID string `json:"counterpart_id" validate:"required,uuid"`
}

type roomResponse struct {
	Room    chatrooms.Room `json:"room"`
	Created bool           `json:"created"`
}

func writeRoom(w http.ResponseWriter, room chatrooms.Room, created bool) {
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	responses.WriteSuccessStatus(w, status, roomResponse{Room: room, Created: created})
}

// GetOrCreateRoom returns the shared room of an entity, creating it once.
func GetOrCreateRoom(svc chatrooms.Service, scope EntityScope, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body roomBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref := directory.EntityRef{Type: enums.EntityType(body.EntityType), ID: uuid.MustParse(body.EntityID)}
		if err := requireInCompany(r.Context(), scope, ref, p.CompanyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		room, created, err := svc.GetOrCreate(r.Context(), chatrooms.GetOrCreateInput{
			Entity:    ref,
			RoomType:  enums.RoomType(body.RoomType),
			Name:      validators.SanitizeString(body.Name, 120),
			CompanyID: &p.CompanyID,
			CreatedBy: &p.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRoom(w, room, created)
	}
}

// GetOrCreatePrivateRoom returns the two-person room between the caller and a
// colleague on an entity.
func GetOrCreatePrivateRoom(svc chatrooms.Service, scope EntityScope, members CompanyMembers, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body privateRoomBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref := directory.EntityRef{Type: enums.EntityType(body.EntityType), ID: uuid.MustParse(body.EntityID)}
		if err := requireInCompany(r.Context(), scope, ref, p.CompanyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		counterpart := uuid.MustParse(body.CounterpartID)
		ok, err := members.IsCompanyMember(r.Context(), p.CompanyID, counterpart)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check counterpart membership"))
			return
		}
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "counterpart not found"))
			return
		}

		room, created, err := svc.GetOrCreatePrivate(r.Context(), chatrooms.PrivateInput{
			Entity:        ref,
			UserID:        p.UserID,
			CounterpartID: counterpart,
			CompanyID:     &p.CompanyID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRoom(w, room, created)
	}
}

func JoinRoom(svc chatrooms.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		roomID, err := validators.ParseUUIDParam(r, "roomId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		joined, err := svc.Join(r.Context(), roomID, p.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"joined": joined})
	}
}

func ListMyRooms(svc chatrooms.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rooms, err := svc.RoomsForUser(r.Context(), p.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// rooms of other active companies stay hidden
		visible := make([]chatrooms.Room, 0, len(rooms))
		for _, room := range rooms {
			if room.CompanyID == p.CompanyID {
				visible = append(visible, room)
			}
		}
		responses.WriteSuccess(w, visible)
	}
}

// RoomParticipants lists the members of a room the caller belongs to.
func RoomParticipants(svc chatrooms.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		roomID, err := validators.ParseUUIDParam(r, "roomId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ids, err := svc.Participants(r.Context(), roomID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		for _, id := range ids {
			if id == p.UserID {
				responses.WriteSuccess(w, map[string][]uuid.UUID{"participants": ids})
				return
			}
		}
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this room"))
	}
}
