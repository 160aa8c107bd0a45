package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// ActorStore is the persistence contract for actor records. It is the only
// write path for actor identity; the backing store's uniqueness constraints on
// uri and (username_lower, host_canonical) are the concurrency-correctness
// mechanism for first contact.
type ActorStore interface {
	// Create inserts a brand-new remote actor. A concurrent insert for the
	// same uri surfaces as ErrAlreadyExists, never as a duplicate row.
	Create(ctx context.Context, in CreateActorInput) (Actor, error)
	GetByURI(ctx context.Context, uri string) (Actor, bool, error)
	GetByLocalID(ctx context.Context, id uuid.UUID) (Actor, bool, error)
	GetByIdentity(ctx context.Context, identity CanonicalIdentity) (Actor, bool, error)
	// UpdateProfile writes the mutable profile slice. Identity fields (uri,
	// username, host) are not part of the input and must never change.
	UpdateProfile(ctx context.Context, localID uuid.UUID, profile ActorProfile) error
	// AttachMedia is the best-effort follow-up after create; it only touches
	// avatar/banner references.
	AttachMedia(ctx context.Context, localID uuid.UUID, avatarURL, bannerURL *string) error
}

// ActivityLedger records processed activity ids so duplicate deliveries
// no-op. MarkProcessed returns true exactly once per activity id.
type ActivityLedger interface {
	MarkProcessed(ctx context.Context, activityID string) (bool, error)
}

// TaskEnqueuer hands an inbox task to the durable queue. Once Enqueue returns
// nil the task runs to completion or terminal failure regardless of the
// originating connection.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task InboxTask) error
}

// TaskNackOptions mirror the queue's redelivery controls.
type TaskNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type TaskDelivery interface {
	Task() InboxTask
	Attempt() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts TaskNackOptions) error
}

type TaskDequeuer interface {
	Dequeue(ctx context.Context) (TaskDelivery, error)
}

// ObjectFetcher performs the authenticated remote GET for an object id,
// advertising the protocol content types. Implementations bound the request
// by the configured timeout and body cap.
type ObjectFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// WebFingerLookup resolves the canonical identity behind an actor uri. The
// transport is external; this core only depends on the lookup contract.
type WebFingerLookup interface {
	Lookup(ctx context.Context, actorURI string) (WebFingerResult, error)
}

// WebFingerResult is the subset of a WebFinger response the normalizer needs.
type WebFingerResult struct {
	Subject string
	SelfURI string
}
