package command

import (
	"context"

	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
)

// GraphService applies relationship changes. The follow graph itself lives
// outside this module; implementations are collaborator-provided.
type GraphService interface {
	Follow(ctx context.Context, follower core.Actor, targetURI string) error
	Unfollow(ctx context.Context, follower core.Actor, targetURI string) error
	AcceptFollow(ctx context.Context, actor core.Actor, followURI string) error
	RejectFollow(ctx context.Context, actor core.Actor, followURI string) error
	Block(ctx context.Context, actor core.Actor, targetURI string) error
	Unblock(ctx context.Context, actor core.Actor, targetURI string) error
}

// ContentService applies object-level changes (notes, boosts, likes).
type ContentService interface {
	Create(ctx context.Context, actor core.Actor, object apub.Ref) error
	Delete(ctx context.Context, actor core.Actor, objectURI string) error
	Announce(ctx context.Context, actor core.Actor, objectURI string) error
	WithdrawAnnounce(ctx context.Context, actor core.Actor, objectURI string) error
	Like(ctx context.Context, actor core.Actor, objectURI string) error
	WithdrawLike(ctx context.Context, actor core.Actor, objectURI string) error
}

// ActorUpdater refreshes a cached remote profile. person.Manager satisfies it.
type ActorUpdater interface {
	Update(ctx context.Context, ref apub.Ref) error
}

type FollowCommand struct {
	graph GraphService
}

func NewFollowCommand(graph GraphService) *FollowCommand {
	return &FollowCommand{graph: graph}
}

func (c *FollowCommand) Execute(ctx context.Context, msg FollowMessage) error {
	if c == nil || c.graph == nil {
		return commandDependencyError("command: graph service is required")
	}
	return c.graph.Follow(ctx, msg.Actor, msg.Activity.Object.URI())
}

type AcceptCommand struct {
	graph GraphService
}

func NewAcceptCommand(graph GraphService) *AcceptCommand {
	return &AcceptCommand{graph: graph}
}

func (c *AcceptCommand) Execute(ctx context.Context, msg AcceptMessage) error {
	if c == nil || c.graph == nil {
		return commandDependencyError("command: graph service is required")
	}
	return c.graph.AcceptFollow(ctx, msg.Actor, msg.Activity.Object.URI())
}

type RejectCommand struct {
	graph GraphService
}

func NewRejectCommand(graph GraphService) *RejectCommand {
	return &RejectCommand{graph: graph}
}

func (c *RejectCommand) Execute(ctx context.Context, msg RejectMessage) error {
	if c == nil || c.graph == nil {
		return commandDependencyError("command: graph service is required")
	}
	return c.graph.RejectFollow(ctx, msg.Actor, msg.Activity.Object.URI())
}

// UndoCommand rolls back the inner activity. The kind of rollback depends on
// what is being undone, so the inner object must decode to a known activity.
type UndoCommand struct {
	graph   GraphService
	content ContentService
}

func NewUndoCommand(graph GraphService, content ContentService) *UndoCommand {
	return &UndoCommand{graph: graph, content: content}
}

func (c *UndoCommand) Execute(ctx context.Context, msg UndoMessage) error {
	if c == nil || c.graph == nil || c.content == nil {
		return commandDependencyError("command: graph and content services are required")
	}
	inline := msg.Activity.Object.Inline()
	if inline == nil {
		return commandInvalidInputError("command: undo requires an inline inner activity")
	}
	inner, err := apub.Decode(inline)
	if err != nil {
		return commandWrapValidation(err, "command: decode undone activity")
	}
	wrapped, ok := inner.(apub.Activity)
	if !ok {
		return commandInvalidInputError("command: undone object is not an activity")
	}
	switch wrapped.Type {
	case apub.TypeFollow:
		return c.graph.Unfollow(ctx, msg.Actor, wrapped.Object.URI())
	case apub.TypeBlock:
		return c.graph.Unblock(ctx, msg.Actor, wrapped.Object.URI())
	case apub.TypeLike:
		return c.content.WithdrawLike(ctx, msg.Actor, wrapped.Object.URI())
	case apub.TypeAnnounce:
		return c.content.WithdrawAnnounce(ctx, msg.Actor, wrapped.Object.URI())
	default:
		return commandInvalidInputError("command: undo of " + wrapped.Type + " is not supported")
	}
}

type CreateCommand struct {
	content ContentService
}

func NewCreateCommand(content ContentService) *CreateCommand {
	return &CreateCommand{content: content}
}

func (c *CreateCommand) Execute(ctx context.Context, msg CreateMessage) error {
	if c == nil || c.content == nil {
		return commandDependencyError("command: content service is required")
	}
	return c.content.Create(ctx, msg.Actor, msg.Activity.Object)
}

type DeleteCommand struct {
	content ContentService
}

func NewDeleteCommand(content ContentService) *DeleteCommand {
	return &DeleteCommand{content: content}
}

func (c *DeleteCommand) Execute(ctx context.Context, msg DeleteMessage) error {
	if c == nil || c.content == nil {
		return commandDependencyError("command: content service is required")
	}
	return c.content.Delete(ctx, msg.Actor, msg.Activity.Object.URI())
}

type AnnounceCommand struct {
	content ContentService
}

func NewAnnounceCommand(content ContentService) *AnnounceCommand {
	return &AnnounceCommand{content: content}
}

func (c *AnnounceCommand) Execute(ctx context.Context, msg AnnounceMessage) error {
	if c == nil || c.content == nil {
		return commandDependencyError("command: content service is required")
	}
	return c.content.Announce(ctx, msg.Actor, msg.Activity.Object.URI())
}

type LikeCommand struct {
	content ContentService
}

func NewLikeCommand(content ContentService) *LikeCommand {
	return &LikeCommand{content: content}
}

func (c *LikeCommand) Execute(ctx context.Context, msg LikeMessage) error {
	if c == nil || c.content == nil {
		return commandDependencyError("command: content service is required")
	}
	return c.content.Like(ctx, msg.Actor, msg.Activity.Object.URI())
}

type BlockCommand struct {
	graph GraphService
}

func NewBlockCommand(graph GraphService) *BlockCommand {
	return &BlockCommand{graph: graph}
}

func (c *BlockCommand) Execute(ctx context.Context, msg BlockMessage) error {
	if c == nil || c.graph == nil {
		return commandDependencyError("command: graph service is required")
	}
	return c.graph.Block(ctx, msg.Actor, msg.Activity.Object.URI())
}

// UpdateActorCommand refetches the signer's profile when they update their
// own Person document. Updates to anything else are ignored here; object
// updates ride through ContentService.Create semantics upstream.
type UpdateActorCommand struct {
	persons ActorUpdater
}

func NewUpdateActorCommand(persons ActorUpdater) *UpdateActorCommand {
	return &UpdateActorCommand{persons: persons}
}

func (c *UpdateActorCommand) Execute(ctx context.Context, msg UpdateActorMessage) error {
	if c == nil || c.persons == nil {
		return commandDependencyError("command: person updater is required")
	}
	// Actors may only update themselves. The processor already verified the
	// signer; here we just refuse to refresh somebody else's row.
	if msg.Activity.Object.URI() != msg.Actor.URI {
		return commandInvalidInputError("command: update object is not the signing actor")
	}
	return c.persons.Update(ctx, apub.NewRef(msg.Actor.URI))
}
