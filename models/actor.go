package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
)

// Actor is the user a ledger mutation is performed for. It is passed explicitly
// to every mutation and stamped onto the audit columns.
type Actor struct {
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name" validate:"required"`
}

var ErrActorRequired = errors.New("actor is required")

// SystemActor is used by workers and batch tools.
var SystemActor = Actor{UserId: 0, UserName: "System"}

// ActorFromContext builds an actor from the request context set by the HTTP layer.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	name, ok := utils.GetUserNameFromContext(ctx)
	if !ok || name == "" {
		return Actor{}, false
	}
	id, _ := utils.GetUserIdFromContext(ctx)
	return Actor{UserId: id, UserName: name}, true
}

func (a Actor) validate() error {
	if a.UserName == "" {
		return ErrActorRequired
	}
	return nil
}

// Audit columns shared by ledger entities.
type Audit struct {
	CreatedBy     int    `gorm:"not null;default:0" json:"created_by"`
	CreatedByName string `gorm:"size:100" json:"created_by_name"`
	UpdatedBy     int    `gorm:"not null;default:0" json:"updated_by"`
	UpdatedByName string `gorm:"size:100" json:"updated_by_name"`
}

func (a Actor) created() Audit {
	return Audit{CreatedBy: a.UserId, CreatedByName: a.UserName, UpdatedBy: a.UserId, UpdatedByName: a.UserName}
}

func (a Actor) updates() map[string]interface{} {
	return map[string]interface{}{"updated_by": a.UserId, "updated_by_name": a.UserName}
}
