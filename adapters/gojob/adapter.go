package gojob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-federation/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// JobIDProcessInbox identifies the inbox processing job on the queue.
const JobIDProcessInbox = "federation.inbox.process"

const (
	paramTask    = "task"
	paramAttempt = "attempt"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxDelay time.Duration
}

// Normalize clamps the redelivery controls before they reach the queue.
func (p RetryPolicy) Normalize(opts core.TaskNackOptions) core.TaskNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	return out
}

// ToExecutionMessage maps an inbox task into a go-job message. The task
// travels as a JSON parameter; the idempotency key is the digest of the raw
// activity bytes so byte-identical redeliveries collapse at the queue.
func ToExecutionMessage(task core.InboxTask, jobID string) (*job.ExecutionMessage, error) {
	if strings.TrimSpace(jobID) == "" {
		jobID = JobIDProcessInbox
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("gojob: encode inbox task: %w", err)
	}
	digest := sha256.Sum256(task.Activity)
	return &job.ExecutionMessage{
		JobID: strings.TrimSpace(jobID),
		Parameters: map[string]any{
			paramTask:    string(payload),
			paramAttempt: 1,
		},
		IdempotencyKey: hex.EncodeToString(digest[:]),
	}, nil
}

// FromExecutionMessage recovers the inbox task and delivery attempt carried
// by a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.InboxTask, int, error) {
	if msg == nil {
		return core.InboxTask{}, 0, fmt.Errorf("gojob: execution message is required")
	}
	raw, ok := msg.Parameters[paramTask]
	if !ok {
		return core.InboxTask{}, 0, fmt.Errorf("gojob: message %q carries no task payload", msg.JobID)
	}

	var encoded []byte
	switch value := raw.(type) {
	case string:
		encoded = []byte(value)
	case []byte:
		encoded = value
	case json.RawMessage:
		encoded = []byte(value)
	default:
		return core.InboxTask{}, 0, fmt.Errorf("gojob: unsupported task payload type %T", raw)
	}

	var task core.InboxTask
	if err := json.Unmarshal(encoded, &task); err != nil {
		return core.InboxTask{}, 0, fmt.Errorf("gojob: decode inbox task: %w", err)
	}
	return task, attemptFromParameters(msg.Parameters), nil
}

// attemptFromParameters tolerates the numeric widening a JSON round trip
// applies to queue parameters.
func attemptFromParameters(params map[string]any) int {
	raw, ok := params[paramAttempt]
	if !ok {
		return 1
	}
	switch value := raw.(type) {
	case int:
		if value > 0 {
			return value
		}
	case int64:
		if value > 0 {
			return int(value)
		}
	case float64:
		if value > 0 {
			return int(value)
		}
	case json.Number:
		if parsed, err := value.Int64(); err == nil && parsed > 0 {
			return int(parsed)
		}
	}
	return 1
}

// ToNackOptions maps the federation redelivery controls to go-job.
func ToNackOptions(opts core.TaskNackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

// EnqueuerAdapter bridges the intake's durable-queue contract onto a go-job
// enqueuer.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
	jobID    string
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer, jobID string) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer, jobID: jobID}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, task core.InboxTask) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := ToExecutionMessage(task, a.jobID)
	if err != nil {
		return err
	}
	return a.enqueuer.Enqueue(ctx, msg)
}

// DeliveryAdapter wraps one dequeued go-job delivery. The attempt counter
// rides in the message parameters and is bumped before a requeue so the next
// delivery of the same task sees it.
type DeliveryAdapter struct {
	delivery queue.Delivery
	task     core.InboxTask
	attempt  int
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) (*DeliveryAdapter, error) {
	if delivery == nil {
		return nil, fmt.Errorf("gojob: delivery is required")
	}
	task, attempt, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		return nil, err
	}
	return &DeliveryAdapter{
		delivery: delivery,
		task:     task,
		attempt:  attempt,
		policy:   policy,
	}, nil
}

func (d *DeliveryAdapter) Task() core.InboxTask {
	if d == nil {
		return core.InboxTask{}
	}
	return d.task
}

func (d *DeliveryAdapter) Attempt() int {
	if d == nil {
		return 0
	}
	return d.attempt
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.TaskNackOptions) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.Normalize(opts)
	if normalized.Requeue {
		if msg := d.delivery.Message(); msg != nil && msg.Parameters != nil {
			msg.Parameters[paramAttempt] = d.attempt + 1
		}
	}
	return d.delivery.Nack(ctx, ToNackOptions(normalized))
}

// DequeuerAdapter bridges a go-job dequeuer onto the processor's contract.
// Deliveries whose payload cannot be decoded are dead lettered at the
// adapter; they would never decode on any later attempt either.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.TaskDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	adapted, err := NewDeliveryAdapter(delivery, a.policy)
	if err != nil {
		_ = delivery.Nack(ctx, queue.NackOptions{
			DeadLetter: true,
			Reason:     "undecodable inbox task payload",
		})
		return nil, err
	}
	return adapted, nil
}

var (
	_ core.TaskEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.TaskDelivery = (*DeliveryAdapter)(nil)
	_ core.TaskDequeuer = (*DequeuerAdapter)(nil)
)
