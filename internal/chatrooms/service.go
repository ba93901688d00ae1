package chatrooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

// Room is the API shape of a chat room.
type Room struct {
	ID         uuid.UUID        `json:"id"`
	CompanyID  uuid.UUID        `json:"company_id"`
	EntityType enums.EntityType `json:"entity_type"`
	EntityID   uuid.UUID        `json:"entity_id"`
	RoomType   enums.RoomType   `json:"room_type"`
	Name       string           `json:"name"`
	CreatedBy  *uuid.UUID       `json:"created_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// GetOrCreateInput scopes a shared room. CompanyID is looked up from the
// entity when nil.
type GetOrCreateInput struct {
	Entity    directory.EntityRef
	RoomType  enums.RoomType
	Name      string
	CompanyID *uuid.UUID
	CreatedBy *uuid.UUID
}

// PrivateInput scopes a two-person room.
type PrivateInput struct {
	Entity        directory.EntityRef
	UserID        uuid.UUID
	CounterpartID uuid.UUID
	CompanyID     *uuid.UUID
}

// Service is the chat room registry.
type Service interface {
	GetOrCreate(ctx context.Context, input GetOrCreateInput) (Room, bool, error)
	GetOrCreatePrivate(ctx context.Context, input PrivateInput) (Room, bool, error)
	Join(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	Participants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	RoomsForUser(ctx context.Context, userID uuid.UUID) ([]Room, error)
}

type service struct {
	tx   db.TxRunner
	repo Repository
	dir  directory.Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService wires the chat room registry.
func NewService(tx db.TxRunner, repo Repository, dir directory.Repository, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "chat room repository required")
	}
	if dir == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{tx: tx, repo: repo, dir: dir, logg: logg, now: time.Now}, nil
}

// GetOrCreate returns the shared room for (entity, room type), creating it on
// first access. The bool reports whether this call created it.
func (s *service) GetOrCreate(ctx context.Context, input GetOrCreateInput) (Room, bool, error) {
	if input.RoomType == enums.RoomTypePrivate {
		return Room{}, false, pkgerrors.New(pkgerrors.CodeValidation, "private rooms are keyed by participant pair")
	}
	if !input.RoomType.IsValid() {
		return Room{}, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown room type %q", input.RoomType))
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Room{}, false, pkgerrors.New(pkgerrors.CodeValidation, "room name required")
	}
	if err := validateEntity(input.Entity); err != nil {
		return Room{}, false, err
	}

	var (
		room    *models.ChatRoom
		created bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		companyID, err := s.companyFor(ctx, tx, input.Entity, input.CompanyID)
		if err != nil {
			return err
		}
		room, created, err = s.getOrCreate(ctx, tx, scope{
			EntityType: input.Entity.Type,
			EntityID:   input.Entity.ID,
			RoomType:   input.RoomType,
		}, func() models.ChatRoom {
			return models.ChatRoom{CompanyID: companyID, Name: name, CreatedBy: input.CreatedBy}
		})
		return err
	})
	if err != nil {
		return Room{}, false, err
	}
	return toRoom(*room), created, nil
}

// GetOrCreatePrivate returns the room shared by exactly UserID and
// CounterpartID on the entity. Both users join on creation. The room name is
// the counterpart's display name at creation time and is never refreshed.
func (s *service) GetOrCreatePrivate(ctx context.Context, input PrivateInput) (Room, bool, error) {
	if input.UserID == uuid.Nil || input.CounterpartID == uuid.Nil {
		return Room{}, false, pkgerrors.New(pkgerrors.CodeValidation, "both participants required")
	}
	if input.UserID == input.CounterpartID {
		return Room{}, false, pkgerrors.New(pkgerrors.CodeValidation, "private room needs two different users")
	}
	if err := validateEntity(input.Entity); err != nil {
		return Room{}, false, err
	}

	var (
		room    *models.ChatRoom
		created bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		companyID, err := s.companyFor(ctx, tx, input.Entity, input.CompanyID)
		if err != nil {
			return err
		}
		name, err := s.dir.WithTx(tx).UserDisplayName(ctx, input.CounterpartID)
		if err != nil {
			return err
		}
		room, created, err = s.getOrCreate(ctx, tx, scope{
			EntityType: input.Entity.Type,
			EntityID:   input.Entity.ID,
			RoomType:   enums.RoomTypePrivate,
			PairKey:    PairKey(input.UserID, input.CounterpartID),
		}, func() models.ChatRoom {
			return models.ChatRoom{CompanyID: companyID, Name: name, CreatedBy: &input.UserID}
		})
		if err != nil {
			return err
		}
		for _, userID := range []uuid.UUID{input.UserID, input.CounterpartID} {
			if _, err := s.addParticipant(ctx, tx, room.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Room{}, false, err
	}
	return toRoom(*room), created, nil
}

func (s *service) getOrCreate(ctx context.Context, tx *gorm.DB, sc scope, build func() models.ChatRoom) (*models.ChatRoom, bool, error) {
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByScope(ctx, sc)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find chat room")
	}

	room := build()
	room.ID = uuid.New()
	room.EntityType = sc.EntityType
	room.EntityID = sc.EntityID
	room.RoomType = sc.RoomType
	room.PairKey = sc.PairKey
	room.CreatedAt = s.now().UTC()

	err = repo.Create(ctx, &room)
	if errors.Is(err, errRoomTaken) {
		existing, err := repo.FindByScope(ctx, sc)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload chat room")
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create chat room")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"room_id":     room.ID.String(),
		"room_type":   room.RoomType,
		"entity_type": room.EntityType,
		"entity_id":   room.EntityID.String(),
	})
	s.logg.Info(logCtx, "chat room created")
	return &room, true, nil
}

// Join adds userID to the room. Joining twice leaves one membership row; the
// bool reports whether this call added it.
func (s *service) Join(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	if roomID == uuid.Nil || userID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "room id and user id required")
	}

	var joined bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		room, err := s.repo.WithTx(tx).Get(ctx, roomID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "chat room not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chat room")
		}
		if err := s.authorizeJoin(ctx, tx, *room, userID); err != nil {
			return err
		}
		joined, err = s.addParticipant(ctx, tx, roomID, userID)
		return err
	})
	return joined, err
}

func (s *service) authorizeJoin(ctx context.Context, tx *gorm.DB, room models.ChatRoom, userID uuid.UUID) error {
	if room.RoomType == enums.RoomTypePrivate {
		if !strings.Contains(room.PairKey, userID.String()) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "private room is limited to its two participants")
		}
		return nil
	}
	member, err := s.dir.WithTx(tx).IsCompanyMember(ctx, room.CompanyID, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check company membership")
	}
	if !member {
		return pkgerrors.New(pkgerrors.CodeForbidden, "user is not a member of the room's company")
	}
	return nil
}

func (s *service) addParticipant(ctx context.Context, tx *gorm.DB, roomID, userID uuid.UUID) (bool, error) {
	repo := s.repo.WithTx(tx)
	already, err := repo.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check membership")
	}
	if already {
		return false, nil
	}
	added, err := repo.AddParticipant(ctx, &models.ChatParticipant{
		ID:       uuid.New(),
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: s.now().UTC(),
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add participant")
	}
	return added, nil
}

func (s *service) Participants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.repo.Get(ctx, roomID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "chat room not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chat room")
	}
	rows, err := s.repo.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list participants")
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}
	return ids, nil
}

func (s *service) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]Room, error) {
	rows, err := s.repo.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list rooms")
	}
	rooms := make([]Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, toRoom(row))
	}
	return rooms, nil
}

func (s *service) companyFor(ctx context.Context, tx *gorm.DB, ref directory.EntityRef, explicit *uuid.UUID) (uuid.UUID, error) {
	if explicit != nil && *explicit != uuid.Nil {
		return *explicit, nil
	}
	return s.dir.WithTx(tx).CompanyOf(ctx, ref)
}

// PairKey is the order-independent key of a two-user room.
func PairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

func validateEntity(ref directory.EntityRef) error {
	if ref.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "entity id required")
	}
	if !ref.Type.IsAssignable() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("entity type %q has no chat rooms", ref.Type))
	}
	return nil
}

func toRoom(m models.ChatRoom) Room {
	return Room{
		ID:         m.ID,
		CompanyID:  m.CompanyID,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		RoomType:   m.RoomType,
		Name:       m.Name,
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
	}
}
