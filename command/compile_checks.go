package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[FollowMessage]      = (*FollowCommand)(nil)
	_ gocmd.Commander[AcceptMessage]      = (*AcceptCommand)(nil)
	_ gocmd.Commander[RejectMessage]      = (*RejectCommand)(nil)
	_ gocmd.Commander[UndoMessage]        = (*UndoCommand)(nil)
	_ gocmd.Commander[CreateMessage]      = (*CreateCommand)(nil)
	_ gocmd.Commander[DeleteMessage]      = (*DeleteCommand)(nil)
	_ gocmd.Commander[AnnounceMessage]    = (*AnnounceCommand)(nil)
	_ gocmd.Commander[LikeMessage]        = (*LikeCommand)(nil)
	_ gocmd.Commander[BlockMessage]       = (*BlockCommand)(nil)
	_ gocmd.Commander[UpdateActorMessage] = (*UpdateActorCommand)(nil)
)
