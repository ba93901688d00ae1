package assignments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

// Via names the assignment field a recipient was resolved through.
type Via string

const (
	ViaVendor Via = "vendor"
	ViaWorker Via = "worker"
	ViaTeam   Via = "team"
)

// Precedence is the one order in which assignment fields are inspected.
// When more than one is set the first wins and the rest are ignored.
var Precedence = []Via{ViaVendor, ViaWorker, ViaTeam}

// Resolution is the user to notify about an entity and how they were found.
type Resolution struct {
	UserID    uuid.UUID
	Name      string
	Via       Via
	TargetID  uuid.UUID
	CompanyID uuid.UUID
	// Source is the entity whose assignment produced the user. It differs from
	// the requested entity when a task or invoice fell back to its job.
	Source directory.EntityRef
}

// Resolver maps an entity to the single user who currently owns it.
type Resolver interface {
	Resolve(ctx context.Context, ref directory.EntityRef) (Resolution, error)
}

type resolver struct {
	dir  directory.Repository
	logg *logger.Logger
}

// NewResolver wires the resolver to the directory.
func NewResolver(dir directory.Repository, logg *logger.Logger) (Resolver, error) {
	if dir == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &resolver{dir: dir, logg: logg}, nil
}

// Resolve walks entity -> vendor/worker/team -> team head -> linked user.
// Tasks and invoices with no assignment of their own fall back to the owning job.
// Errors carry CodeNotFound when a row is missing and CodeUnresolvedRecipient
// when the chain ends at something with no login account.
func (r *resolver) Resolve(ctx context.Context, ref directory.EntityRef) (Resolution, error) {
	if ref.ID == uuid.Nil {
		return Resolution{}, pkgerrors.New(pkgerrors.CodeValidation, "entity id required")
	}
	if !ref.Type.IsAssignable() {
		return Resolution{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("entity type %q cannot be assigned", ref.Type))
	}

	assignment, err := r.dir.GetAssignment(ctx, ref)
	if err != nil {
		return Resolution{}, err
	}
	if assignment.IsEmpty() && assignment.Parent != nil {
		parent, err := r.dir.GetAssignment(ctx, *assignment.Parent)
		if err != nil {
			return Resolution{}, err
		}
		assignment = parent
	}
	if assignment.IsEmpty() {
		return Resolution{}, unresolved(ref, "no assignee")
	}
	if assignment.SetCount() > 1 {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"entity_type": assignment.Entity.Type,
			"entity_id":   assignment.Entity.ID.String(),
		})
		r.logg.Warn(logCtx, "entity has more than one assignment field set; using precedence order")
	}

	via, targetID := pick(assignment)
	res := Resolution{
		Via:       via,
		TargetID:  targetID,
		CompanyID: assignment.CompanyID,
		Source:    assignment.Entity,
	}

	var linked directory.LinkedUser
	switch via {
	case ViaVendor:
		linked, err = r.dir.GetVendorUser(ctx, targetID)
	case ViaWorker:
		linked, err = r.dir.GetWorkerUser(ctx, targetID)
	case ViaTeam:
		linked, err = r.teamHeadUser(ctx, ref, targetID)
	}
	if err != nil {
		return Resolution{}, err
	}
	if linked.UserID == nil {
		return Resolution{}, unresolved(ref, fmt.Sprintf("%s %s has no linked account", via, targetID))
	}

	res.UserID = *linked.UserID
	res.Name = linked.Name
	return res, nil
}

func (r *resolver) teamHeadUser(ctx context.Context, ref directory.EntityRef, teamID uuid.UUID) (directory.LinkedUser, error) {
	head, err := r.dir.GetTeamHead(ctx, teamID)
	if err != nil {
		return directory.LinkedUser{}, err
	}
	if head == nil {
		return directory.LinkedUser{}, unresolved(ref, fmt.Sprintf("team %s has no head", teamID))
	}
	return r.dir.GetWorkerUser(ctx, *head)
}

func pick(a directory.Assignment) (Via, uuid.UUID) {
	for _, via := range Precedence {
		switch {
		case via == ViaVendor && a.VendorID != nil:
			return via, *a.VendorID
		case via == ViaWorker && a.WorkerID != nil:
			return via, *a.WorkerID
		case via == ViaTeam && a.TeamID != nil:
			return via, *a.TeamID
		}
	}
	return "", uuid.Nil
}

func unresolved(ref directory.EntityRef, reason string) error {
	return pkgerrors.New(pkgerrors.CodeUnresolvedRecipient, reason).WithDetails(map[string]any{
		"entity_type": ref.Type,
		"entity_id":   ref.ID,
		"reason":      reason,
	})
}

// IsUnresolved reports whether err means the entity has nobody to notify.
func IsUnresolved(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeUnresolvedRecipient)
}
