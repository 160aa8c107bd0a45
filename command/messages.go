package command

import (
	"strings"

	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
)

const (
	TypeApplyFollow   = "federation.command.follow.apply"
	TypeApplyAccept   = "federation.command.follow.accept"
	TypeApplyReject   = "federation.command.follow.reject"
	TypeApplyUndo     = "federation.command.undo.apply"
	TypeApplyCreate   = "federation.command.create.apply"
	TypeApplyDelete   = "federation.command.delete.apply"
	TypeApplyAnnounce = "federation.command.announce.apply"
	TypeApplyLike     = "federation.command.like.apply"
	TypeApplyBlock    = "federation.command.block.apply"
	TypeUpdateActor   = "federation.command.actor.update"
)

// FollowMessage carries a verified Follow aimed at one of our actors.
type FollowMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (FollowMessage) Type() string { return TypeApplyFollow }

func (m FollowMessage) Validate() error {
	return requireObject(m.Activity, "follow target")
}

type AcceptMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (AcceptMessage) Type() string { return TypeApplyAccept }

func (m AcceptMessage) Validate() error {
	return requireObject(m.Activity, "accepted activity")
}

type RejectMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (RejectMessage) Type() string { return TypeApplyReject }

func (m RejectMessage) Validate() error {
	return requireObject(m.Activity, "rejected activity")
}

// UndoMessage wraps an Undo whose object is the activity being withdrawn.
// The inner activity must be inline; a bare uri is not enough to know what
// kind of state to roll back.
type UndoMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (UndoMessage) Type() string { return TypeApplyUndo }

func (m UndoMessage) Validate() error {
	return requireObject(m.Activity, "undone activity")
}

type CreateMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (CreateMessage) Type() string { return TypeApplyCreate }

func (m CreateMessage) Validate() error {
	return requireObject(m.Activity, "created object")
}

type DeleteMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (DeleteMessage) Type() string { return TypeApplyDelete }

func (m DeleteMessage) Validate() error {
	return requireObject(m.Activity, "deleted object")
}

type AnnounceMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (AnnounceMessage) Type() string { return TypeApplyAnnounce }

func (m AnnounceMessage) Validate() error {
	return requireObject(m.Activity, "announced object")
}

type LikeMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (LikeMessage) Type() string { return TypeApplyLike }

func (m LikeMessage) Validate() error {
	return requireObject(m.Activity, "liked object")
}

type BlockMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (BlockMessage) Type() string { return TypeApplyBlock }

func (m BlockMessage) Validate() error {
	return requireObject(m.Activity, "blocked actor")
}

// UpdateActorMessage refreshes the local copy of the signer's own profile.
type UpdateActorMessage struct {
	Actor    core.Actor
	Activity apub.Activity
}

func (UpdateActorMessage) Type() string { return TypeUpdateActor }

func (m UpdateActorMessage) Validate() error {
	return requireObject(m.Activity, "updated object")
}

func requireObject(activity apub.Activity, what string) error {
	if activity.Object.IsZero() {
		return commandValidationError("object", what+" is required")
	}
	if strings.TrimSpace(activity.Object.URI()) == "" && activity.Object.Inline() == nil {
		return commandValidationError("object", what+" must be a uri or an inline object")
	}
	return nil
}
