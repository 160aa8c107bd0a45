package gojob

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-federation/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

func sampleTask() core.InboxTask {
	return core.InboxTask{
		Type:     core.TaskTypeProcessInbox,
		Activity: json.RawMessage(`{"id":"https://remote.example/activities/1","type":"Follow"}`),
		Signature: core.SignatureContext{
			KeyID:         "https://remote.example/users/alice#main-key",
			Algorithm:     "rsa-sha256",
			Headers:       []string{"(request-target)", "host", "date"},
			Signature:     []byte("sig-bytes"),
			SigningString: []byte("(request-target): post /inbox"),
		},
		ReceivedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTaskMappingRoundTrip(t *testing.T) {
	original := sampleTask()

	msg, err := ToExecutionMessage(original, "")
	if err != nil {
		t.Fatalf("to execution message: %v", err)
	}
	if msg.JobID != JobIDProcessInbox {
		t.Fatalf("expected default job id, got %q", msg.JobID)
	}
	if msg.IdempotencyKey == "" {
		t.Fatalf("expected activity digest as idempotency key")
	}

	task, attempt, err := FromExecutionMessage(msg)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if attempt != 1 {
		t.Fatalf("expected first attempt, got %d", attempt)
	}
	if task.Type != original.Type {
		t.Fatalf("expected task type %q, got %q", original.Type, task.Type)
	}
	if string(task.Activity) != string(original.Activity) {
		t.Fatalf("expected activity payload to survive mapping")
	}
	if task.Signature.KeyID != original.Signature.KeyID {
		t.Fatalf("expected signature key id to survive mapping")
	}
	if string(task.Signature.SigningString) != string(original.Signature.SigningString) {
		t.Fatalf("expected signing string to survive mapping")
	}
	if !task.ReceivedAt.Equal(original.ReceivedAt) {
		t.Fatalf("expected received at to survive mapping")
	}

	duplicate, err := ToExecutionMessage(original, "")
	if err != nil {
		t.Fatalf("to execution message again: %v", err)
	}
	if duplicate.IdempotencyKey != msg.IdempotencyKey {
		t.Fatalf("expected identical payloads to share an idempotency key")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer, "federation.inbox")

	if err := enqueueAdapter.Enqueue(ctx, sampleTask()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != "federation.inbox" {
		t.Fatalf("expected mapped go-job message")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	dequeueAdapter := NewDequeuerAdapter(dequeuer, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Task().Signature.SignerURI() != "https://remote.example/users/alice" {
		t.Fatalf("expected signer uri from delivered task")
	}
	if delivery.Attempt() != 1 {
		t.Fatalf("expected attempt 1, got %d", delivery.Attempt())
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackBumpsAttemptOnRequeue(t *testing.T) {
	ctx := context.Background()
	msg, err := ToExecutionMessage(sampleTask(), "")
	if err != nil {
		t.Fatalf("to execution message: %v", err)
	}
	rawDelivery := &stubQueueDelivery{msg: msg}

	adapter, err := NewDeliveryAdapter(rawDelivery, RetryPolicy{MaxDelay: 10 * time.Second})
	if err != nil {
		t.Fatalf("new delivery adapter: %v", err)
	}

	if err := adapter.Nack(ctx, core.TaskNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "  transient  ",
	}); err != nil {
		t.Fatalf("nack requeue: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected requeue")
	}
	if rawDelivery.nackOpts.Reason != "transient" {
		t.Fatalf("expected trimmed reason, got %q", rawDelivery.nackOpts.Reason)
	}
	if msg.Parameters[paramAttempt] != 2 {
		t.Fatalf("expected attempt bump on requeue, got %v", msg.Parameters[paramAttempt])
	}

	redelivered, err := NewDeliveryAdapter(rawDelivery, RetryPolicy{})
	if err != nil {
		t.Fatalf("redelivered adapter: %v", err)
	}
	if redelivered.Attempt() != 2 {
		t.Fatalf("expected redelivery to see attempt 2, got %d", redelivered.Attempt())
	}
}

func TestNackDeadLetterWinsOverRequeue(t *testing.T) {
	ctx := context.Background()
	msg, err := ToExecutionMessage(sampleTask(), "")
	if err != nil {
		t.Fatalf("to execution message: %v", err)
	}
	rawDelivery := &stubQueueDelivery{msg: msg}

	adapter, err := NewDeliveryAdapter(rawDelivery, RetryPolicy{})
	if err != nil {
		t.Fatalf("new delivery adapter: %v", err)
	}
	if err := adapter.Nack(ctx, core.TaskNackOptions{
		Requeue:    true,
		DeadLetter: true,
		Reason:     "terminal",
	}); err != nil {
		t.Fatalf("nack dead letter: %v", err)
	}
	if rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected dead letter to suppress requeue")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter")
	}
	if msg.Parameters[paramAttempt] != 1 {
		t.Fatalf("expected no attempt bump on dead letter, got %v", msg.Parameters[paramAttempt])
	}
}

func TestDequeueDeadLettersUndecodablePayload(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{
			JobID:      JobIDProcessInbox,
			Parameters: map[string]any{paramTask: "{not json"},
		},
	}
	dequeuer := &stubQueueDequeuer{delivery: rawDelivery}

	if _, err := NewDequeuerAdapter(dequeuer, RetryPolicy{}).Dequeue(ctx); err == nil {
		t.Fatalf("expected decode failure")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected undecodable payload dead lettered")
	}
}

func TestAttemptFromParametersToleratesJSONWidening(t *testing.T) {
	cases := map[string]struct {
		value any
		want  int
	}{
		"int":      {value: 3, want: 3},
		"int64":    {value: int64(4), want: 4},
		"float64":  {value: float64(5), want: 5},
		"number":   {value: json.Number("6"), want: 6},
		"zero":     {value: 0, want: 1},
		"negative": {value: -2, want: 1},
		"garbage":  {value: "nope", want: 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := attemptFromParameters(map[string]any{paramAttempt: tc.value})
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
	if got := attemptFromParameters(map[string]any{}); got != 1 {
		t.Fatalf("expected missing attempt to default to 1, got %d", got)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}
