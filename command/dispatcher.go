package command

import (
	"context"
	"encoding/json"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
)

// Dispatcher routes a verified activity to the command that applies it. It
// owns routing and message validation only; the social effects live behind
// the service interfaces.
type Dispatcher struct {
	follow      *FollowCommand
	accept      *AcceptCommand
	reject      *RejectCommand
	undo        *UndoCommand
	create      *CreateCommand
	deleteCmd   *DeleteCommand
	announce    *AnnounceCommand
	like        *LikeCommand
	block       *BlockCommand
	updateActor *UpdateActorCommand
	logger      core.Logger
}

type DispatcherConfig struct {
	Graph    GraphService
	Content  ContentService
	Persons  ActorUpdater
	Logger   core.Logger
	Provider core.LoggerProvider
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	_, logger := glog.Resolve("federation.dispatch", cfg.Provider, cfg.Logger)
	return &Dispatcher{
		follow:      NewFollowCommand(cfg.Graph),
		accept:      NewAcceptCommand(cfg.Graph),
		reject:      NewRejectCommand(cfg.Graph),
		undo:        NewUndoCommand(cfg.Graph, cfg.Content),
		create:      NewCreateCommand(cfg.Content),
		deleteCmd:   NewDeleteCommand(cfg.Content),
		announce:    NewAnnounceCommand(cfg.Content),
		like:        NewLikeCommand(cfg.Content),
		block:       NewBlockCommand(cfg.Graph),
		updateActor: NewUpdateActorCommand(cfg.Persons),
		logger:      glog.Ensure(logger),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, actor core.Actor, activity apub.Object) error {
	if d == nil {
		return commandDependencyError("command: dispatcher is nil")
	}
	wrapped, ok := activity.(apub.Activity)
	if !ok {
		// Bare objects arriving without an activity wrapper carry no intent.
		d.logger.Info("non-activity delivery dropped",
			"object_id", activity.ObjectID(), "object_type", activity.ObjectType())
		return nil
	}

	switch wrapped.Type {
	case apub.TypeFollow:
		return execute(ctx, d.follow, FollowMessage{Actor: actor, Activity: wrapped})
	case apub.TypeAccept:
		return execute(ctx, d.accept, AcceptMessage{Actor: actor, Activity: wrapped})
	case apub.TypeReject:
		return execute(ctx, d.reject, RejectMessage{Actor: actor, Activity: wrapped})
	case apub.TypeUndo:
		return execute(ctx, d.undo, UndoMessage{Actor: actor, Activity: wrapped})
	case apub.TypeCreate:
		return execute(ctx, d.create, CreateMessage{Actor: actor, Activity: wrapped})
	case apub.TypeDelete:
		return execute(ctx, d.deleteCmd, DeleteMessage{Actor: actor, Activity: wrapped})
	case apub.TypeAnnounce:
		return execute(ctx, d.announce, AnnounceMessage{Actor: actor, Activity: wrapped})
	case apub.TypeLike:
		return execute(ctx, d.like, LikeMessage{Actor: actor, Activity: wrapped})
	case apub.TypeBlock:
		return execute(ctx, d.block, BlockMessage{Actor: actor, Activity: wrapped})
	case apub.TypeUpdate:
		if !isPersonUpdate(wrapped, actor) {
			d.logger.Info("non-person update dropped",
				"activity_id", wrapped.ID, "object_id", wrapped.Object.URI())
			return nil
		}
		return execute(ctx, d.updateActor, UpdateActorMessage{Actor: actor, Activity: wrapped})
	default:
		d.logger.Info("unroutable activity dropped",
			"activity_id", wrapped.ID, "activity_type", wrapped.Type)
		return nil
	}
}

type commandExecutor[T interface{ Validate() error }] interface {
	Execute(ctx context.Context, msg T) error
}

func execute[T interface{ Validate() error }](ctx context.Context, cmd commandExecutor[T], msg T) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return cmd.Execute(ctx, msg)
}

// isPersonUpdate reports whether an Update targets the signer's own Person
// document. Anything else has no handler in this core.
func isPersonUpdate(activity apub.Activity, actor core.Actor) bool {
	if activity.Object.URI() == actor.URI {
		return true
	}
	inline := activity.Object.Inline()
	if inline == nil {
		return false
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(inline, &envelope); err != nil {
		return false
	}
	return envelope.Type == apub.TypePerson
}
