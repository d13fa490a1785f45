package models

import (
	"fmt"

	"github.com/google/uuid"
)

// InstanceInformation identifies the workflow instance a job acts upon.
// It is an immutable value used as a correlation and lookup key.
type InstanceInformation struct {
	Org                  string    `json:"org"`
	App                  string    `json:"app"`
	InstanceOwnerPartyID int       `json:"instanceOwnerPartyId"`
	InstanceGUID         uuid.UUID `json:"instanceGuid"`
}

// Key returns the canonical correlation string for the instance.
func (i InstanceInformation) Key() string {
	return fmt.Sprintf("%s/%s/%d/%s", i.Org, i.App, i.InstanceOwnerPartyID, i.InstanceGUID)
}

// Validate reports the first missing field, if any.
func (i InstanceInformation) Validate() error {
	if i.Org == "" {
		return fmt.Errorf("instance information: org is required")
	}
	if i.App == "" {
		return fmt.Errorf("instance information: app is required")
	}
	if i.InstanceOwnerPartyID <= 0 {
		return fmt.Errorf("instance information: instanceOwnerPartyId is required")
	}
	if i.InstanceGUID == uuid.Nil {
		return fmt.Errorf("instance information: instanceGuid is required")
	}
	return nil
}

// ActorType distinguishes who a command runs on behalf of.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorOrg    ActorType = "org"
	ActorSystem ActorType = "system"
)

// Actor is the identity on whose behalf commands execute. Attached to
// every task at creation and never mutated afterwards.
type Actor struct {
	ID       string    `json:"id"`
	Type     ActorType `json:"type"`
	Language string    `json:"language,omitempty"`
}

func (a Actor) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("actor: id is required")
	}
	switch a.Type {
	case ActorUser, ActorOrg, ActorSystem:
		return nil
	default:
		return fmt.Errorf("actor: unknown type %q", a.Type)
	}
}
