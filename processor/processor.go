package processor

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
	"github.com/goliatone/go-federation/security/httpsig"
)

// PersonResolver materializes the signing actor behind a key id.
type PersonResolver interface {
	ResolvePerson(ctx context.Context, ref apub.Ref) (core.Actor, error)
}

// ActivityDispatcher routes a verified activity to its semantic handler.
type ActivityDispatcher interface {
	Dispatch(ctx context.Context, actor core.Actor, activity apub.Object) error
}

// Processor runs queued inbox tasks: resolve the signer, verify the
// signature against the resolved key, then hand the activity to the
// dispatcher. Verification happens here, never at intake, so a slow or
// hostile signer cannot hold an HTTP connection open.
type Processor struct {
	Persons     PersonResolver
	Dispatcher  ActivityDispatcher
	Ledger      core.ActivityLedger
	Queue       core.TaskDequeuer
	RetryPolicy RetryPolicy
	MaxAttempts int
	Logger      core.Logger
	Now         func() time.Time
}

func NewProcessor(persons PersonResolver, dispatcher ActivityDispatcher, queue core.TaskDequeuer) *Processor {
	return &Processor{
		Persons:     persons,
		Dispatcher:  dispatcher,
		Queue:       queue,
		RetryPolicy: ExponentialRetryPolicy{},
		MaxAttempts: 8,
		Logger:      glog.Ensure(nil),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process executes one task to its terminal outcome for this attempt. A nil
// return means the delivery is done (handled or deliberately dropped); a
// non-nil return is classified by core.Retryable at the queue boundary.
func (p *Processor) Process(ctx context.Context, task core.InboxTask) error {
	if p == nil || p.Persons == nil || p.Dispatcher == nil {
		return processorInternal("processor: persons and dispatcher are required", nil)
	}
	if err := task.Validate(); err != nil {
		return core.NewSignatureInvalidError("processor: task failed validation", err)
	}

	signerURI := task.Signature.SignerURI()
	actor, err := p.Persons.ResolvePerson(ctx, apub.NewRef(signerURI))
	if err != nil {
		return err
	}

	if err := httpsig.Verify(task.Signature, actor.PublicKey.PEM); err != nil {
		p.logger().Error("inbox signature rejected",
			"signer", signerURI, "key_id", task.Signature.KeyID, "error", err)
		return err
	}

	activity, err := apub.Decode(task.Activity)
	if err != nil {
		return processorMalformed("processor: activity payload is malformed", err)
	}

	// Unsupported types fail before the ledger write: the id stays unclaimed,
	// so a redelivery after a handler for the type ships is not a duplicate.
	if unknown, ok := activity.(apub.Unknown); ok {
		p.logger().Error("unsupported activity type",
			"activity_id", unknown.ID, "activity_type", unknown.Type, "signer", signerURI)
		return processorUnsupported(unknown.Type)
	}

	// Replay suppression happens after verification so an unauthenticated
	// delivery can never burn a legitimate activity id.
	if p.Ledger != nil && strings.TrimSpace(activity.ObjectID()) != "" {
		first, err := p.Ledger.MarkProcessed(ctx, activity.ObjectID())
		if err != nil {
			return processorInternal("processor: activity ledger write failed", err)
		}
		if !first {
			p.logger().Info("duplicate activity dropped",
				"activity_id", activity.ObjectID(), "signer", signerURI)
			return nil
		}
	}

	if wrapped, ok := activity.(apub.Activity); ok {
		if err := p.checkAttribution(wrapped, actor); err != nil {
			return err
		}
	}

	if err := p.Dispatcher.Dispatch(ctx, actor, activity); err != nil {
		return err
	}
	p.logger().Info("activity processed",
		"activity_id", activity.ObjectID(), "activity_type", activity.ObjectType(), "signer", signerURI)
	return nil
}

// checkAttribution rejects deliveries whose signer is not the activity's
// declared actor. Relays are a non-feature of this core, so a mismatch is
// always a forgery attempt.
func (p *Processor) checkAttribution(activity apub.Activity, signer core.Actor) error {
	declared := strings.TrimSpace(activity.Actor.URI())
	if declared == "" || declared == signer.URI {
		return nil
	}
	p.logger().Error("activity attribution mismatch",
		"activity_id", activity.ID, "declared_actor", declared, "signer", signer.URI)
	return core.NewIdentityMismatchError(
		"processor: activity actor does not match the signing actor", nil)
}

// Run consumes the queue until the context is canceled. Dequeue failures are
// logged and retried with a flat pause so a broken broker connection does not
// spin the loop.
func (p *Processor) Run(ctx context.Context) error {
	if p == nil || p.Queue == nil {
		return processorInternal("processor: queue is required", nil)
	}
	for {
		delivery, err := p.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger().Error("inbox dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if delivery == nil {
			continue
		}
		p.handle(ctx, delivery)
	}
}

func (p *Processor) handle(ctx context.Context, delivery core.TaskDelivery) {
	err := p.Process(ctx, delivery.Task())
	if err == nil {
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			p.logger().Error("inbox ack failed", "error", ackErr)
		}
		return
	}

	attempt := delivery.Attempt()
	if core.Retryable(err) && attempt < p.maxAttempts() {
		nack := core.TaskNackOptions{
			Requeue: true,
			Delay:   p.retryPolicy().NextDelay(attempt),
			Reason:  err.Error(),
		}
		p.logger().Info("inbox task requeued",
			"attempt", attempt, "delay", nack.Delay, "error", err)
		if nackErr := delivery.Nack(ctx, nack); nackErr != nil {
			p.logger().Error("inbox nack failed", "error", nackErr)
		}
		return
	}

	p.logger().Error("inbox task dead lettered",
		"attempt", attempt, "retryable", core.Retryable(err), "error", err)
	if nackErr := delivery.Nack(ctx, core.TaskNackOptions{
		DeadLetter: true,
		Reason:     err.Error(),
	}); nackErr != nil {
		p.logger().Error("inbox dead letter failed", "error", nackErr)
	}
}

func (p *Processor) logger() core.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return glog.Ensure(nil)
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}
