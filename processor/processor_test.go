package processor

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
)

const signerURI = "https://remote.example/users/alice"

type signingKey struct {
	private *rsa.PrivateKey
	pem     string
}

func newSigningKey(t *testing.T) signingKey {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return signingKey{
		private: private,
		pem:     string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
	}
}

func (k signingKey) sign(t *testing.T, signingString []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(signingString)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func signedTask(t *testing.T, key signingKey, activity string) core.InboxTask {
	t.Helper()
	signingString := []byte("(request-target): post /inbox\ndate: Thu, 27 Aug 2026 12:00:00 GMT")
	return core.InboxTask{
		Type:     core.TaskTypeProcessInbox,
		Activity: json.RawMessage(activity),
		Signature: core.SignatureContext{
			KeyID:         signerURI + "#main-key",
			Algorithm:     "rsa-sha256",
			Headers:       []string{"(request-target)", "date"},
			Signature:     key.sign(t, signingString),
			SigningString: signingString,
		},
		ReceivedAt: time.Now().UTC(),
	}
}

type fakePersons struct {
	actors map[string]core.Actor
	err    error
	calls  int
}

func (p *fakePersons) ResolvePerson(_ context.Context, ref apub.Ref) (core.Actor, error) {
	p.calls++
	if p.err != nil {
		return core.Actor{}, p.err
	}
	actor, ok := p.actors[ref.URI()]
	if !ok {
		return core.Actor{}, core.NewActorNotFoundError(ref.URI())
	}
	return actor, nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	activities []apub.Object
	err        error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ core.Actor, activity apub.Object) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activities = append(d.activities, activity)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.activities)
}

type fakeLedger struct {
	seen map[string]bool
	err  error
}

func (l *fakeLedger) MarkProcessed(_ context.Context, activityID string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = map[string]bool{}
	}
	if l.seen[activityID] {
		return false, nil
	}
	l.seen[activityID] = true
	return true, nil
}

func newTestProcessor(key signingKey) (*Processor, *fakeDispatcher, *fakeLedger) {
	dispatcher := &fakeDispatcher{}
	ledger := &fakeLedger{}
	persons := &fakePersons{actors: map[string]core.Actor{
		signerURI: {URI: signerURI, Username: "alice", PublicKey: core.PublicKey{
			ID:  signerURI + "#main-key",
			PEM: key.pem,
		}},
	}}
	proc := NewProcessor(persons, dispatcher, nil)
	proc.Ledger = ledger
	return proc, dispatcher, ledger
}

const followActivity = `{
	"id": "https://remote.example/activities/1",
	"type": "Follow",
	"actor": "https://remote.example/users/alice",
	"object": "https://social.example/users/bob"
}`

func TestProcessor_Process(t *testing.T) {
	key := newSigningKey(t)
	proc, dispatcher, ledger := newTestProcessor(key)

	if err := proc.Process(context.Background(), signedTask(t, key, followActivity)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(dispatcher.activities) != 1 {
		t.Fatalf("expected one dispatched activity, got %d", len(dispatcher.activities))
	}
	activity, ok := dispatcher.activities[0].(apub.Activity)
	if !ok || activity.Type != apub.TypeFollow {
		t.Fatalf("unexpected dispatched object %#v", dispatcher.activities[0])
	}
	if !ledger.seen["https://remote.example/activities/1"] {
		t.Fatal("activity id must be recorded in the ledger")
	}
}

func TestProcessor_TamperedSignatureIsTerminal(t *testing.T) {
	key := newSigningKey(t)
	proc, dispatcher, _ := newTestProcessor(key)

	task := signedTask(t, key, followActivity)
	task.Signature.SigningString = append(task.Signature.SigningString, '!')

	err := proc.Process(context.Background(), task)
	if !errors.Is(err, core.ErrSignatureInvalid) {
		t.Fatalf("expected signature invalid, got %v", err)
	}
	if core.Retryable(err) {
		t.Fatal("signature failures must not retry")
	}
	if len(dispatcher.activities) != 0 {
		t.Fatal("unverified activity must not reach the dispatcher")
	}
}

func TestProcessor_DuplicateActivityIsDropped(t *testing.T) {
	key := newSigningKey(t)
	proc, dispatcher, _ := newTestProcessor(key)

	task := signedTask(t, key, followActivity)
	if err := proc.Process(context.Background(), task); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := proc.Process(context.Background(), task); err != nil {
		t.Fatalf("duplicate delivery must no-op: %v", err)
	}
	if len(dispatcher.activities) != 1 {
		t.Fatalf("duplicate must not be dispatched again, got %d dispatches", len(dispatcher.activities))
	}
}

func TestProcessor_AttributionMismatch(t *testing.T) {
	key := newSigningKey(t)
	proc, dispatcher, _ := newTestProcessor(key)

	forged := `{
		"id": "https://remote.example/activities/2",
		"type": "Follow",
		"actor": "https://remote.example/users/mallory",
		"object": "https://social.example/users/bob"
	}`
	err := proc.Process(context.Background(), signedTask(t, key, forged))
	if !errors.Is(err, core.ErrIdentityMismatch) {
		t.Fatalf("expected identity mismatch, got %v", err)
	}
	if core.Retryable(err) {
		t.Fatal("forgeries must not retry")
	}
	if len(dispatcher.activities) != 0 {
		t.Fatal("forged activity must not be dispatched")
	}
}

func TestProcessor_UnsupportedActivityTypeIsTerminal(t *testing.T) {
	key := newSigningKey(t)
	proc, dispatcher, ledger := newTestProcessor(key)

	question := `{"id": "https://remote.example/activities/3", "type": "Question"}`
	err := proc.Process(context.Background(), signedTask(t, key, question))
	if err == nil {
		t.Fatal("expected unsupported type failure")
	}
	if core.Retryable(err) {
		t.Fatal("unsupported types must not retry")
	}
	if len(dispatcher.activities) != 0 {
		t.Fatal("unsupported activity must not be dispatched")
	}
	// The id stays unclaimed so the activity can replay once a handler for
	// the type exists.
	if ledger.seen["https://remote.example/activities/3"] {
		t.Fatal("unsupported activity must not claim its id in the ledger")
	}
}

func TestProcessor_MalformedPayloadIsTerminal(t *testing.T) {
	key := newSigningKey(t)
	proc, _, _ := newTestProcessor(key)

	err := proc.Process(context.Background(), signedTask(t, key, `{"type": "Follow"`))
	if err == nil {
		t.Fatal("expected decode failure")
	}
	if core.Retryable(err) {
		t.Fatal("malformed payloads must not retry")
	}
}

func TestProcessor_ResolverTimeoutIsRetryable(t *testing.T) {
	key := newSigningKey(t)
	proc, _, _ := newTestProcessor(key)
	proc.Persons = &fakePersons{err: core.NewTimeoutError("fetch actor", context.DeadlineExceeded)}

	err := proc.Process(context.Background(), signedTask(t, key, followActivity))
	if !errors.Is(err, core.ErrTimeout) {
		t.Fatalf("expected timeout passthrough, got %v", err)
	}
	if !core.Retryable(err) {
		t.Fatal("resolver timeouts must retry")
	}
}

type fakeDelivery struct {
	task    core.InboxTask
	attempt int
	acked   bool
	nacks   []core.TaskNackOptions
}

func (d *fakeDelivery) Task() core.InboxTask { return d.task }
func (d *fakeDelivery) Attempt() int         { return d.attempt }

func (d *fakeDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(_ context.Context, opts core.TaskNackOptions) error {
	d.nacks = append(d.nacks, opts)
	return nil
}

func TestProcessor_HandleOutcomes(t *testing.T) {
	key := newSigningKey(t)

	t.Run("success acks", func(t *testing.T) {
		proc, _, _ := newTestProcessor(key)
		delivery := &fakeDelivery{task: signedTask(t, key, followActivity), attempt: 1}
		proc.handle(context.Background(), delivery)
		if !delivery.acked || len(delivery.nacks) != 0 {
			t.Fatalf("expected ack, got acked=%v nacks=%v", delivery.acked, delivery.nacks)
		}
	})

	t.Run("retryable requeues with delay", func(t *testing.T) {
		proc, _, _ := newTestProcessor(key)
		proc.Persons = &fakePersons{err: core.NewTimeoutError("fetch actor", nil)}
		delivery := &fakeDelivery{task: signedTask(t, key, followActivity), attempt: 2}
		proc.handle(context.Background(), delivery)
		if delivery.acked || len(delivery.nacks) != 1 {
			t.Fatalf("expected one nack, got acked=%v nacks=%v", delivery.acked, delivery.nacks)
		}
		nack := delivery.nacks[0]
		if !nack.Requeue || nack.DeadLetter {
			t.Fatalf("expected requeue, got %+v", nack)
		}
		if nack.Delay != 2*time.Second {
			t.Fatalf("expected second-attempt backoff of 2s, got %s", nack.Delay)
		}
	})

	t.Run("terminal dead letters", func(t *testing.T) {
		proc, _, _ := newTestProcessor(key)
		task := signedTask(t, key, followActivity)
		task.Signature.SigningString = append(task.Signature.SigningString, '!')
		delivery := &fakeDelivery{task: task, attempt: 1}
		proc.handle(context.Background(), delivery)
		if delivery.acked || len(delivery.nacks) != 1 || !delivery.nacks[0].DeadLetter {
			t.Fatalf("expected dead letter, got acked=%v nacks=%v", delivery.acked, delivery.nacks)
		}
	})

	t.Run("unsupported type dead letters", func(t *testing.T) {
		proc, _, ledger := newTestProcessor(key)
		question := `{"id": "https://remote.example/activities/q1", "type": "Question"}`
		delivery := &fakeDelivery{task: signedTask(t, key, question), attempt: 1}
		proc.handle(context.Background(), delivery)
		if delivery.acked || len(delivery.nacks) != 1 || !delivery.nacks[0].DeadLetter {
			t.Fatalf("expected dead letter, got acked=%v nacks=%v", delivery.acked, delivery.nacks)
		}
		if ledger.seen["https://remote.example/activities/q1"] {
			t.Fatal("unsupported activity must not claim its id in the ledger")
		}
	})

	t.Run("attempts exhausted dead letters", func(t *testing.T) {
		proc, _, _ := newTestProcessor(key)
		proc.Persons = &fakePersons{err: core.NewTimeoutError("fetch actor", nil)}
		proc.MaxAttempts = 3
		delivery := &fakeDelivery{task: signedTask(t, key, followActivity), attempt: 3}
		proc.handle(context.Background(), delivery)
		if len(delivery.nacks) != 1 || !delivery.nacks[0].DeadLetter {
			t.Fatalf("expected dead letter after max attempts, got %v", delivery.nacks)
		}
	})
}

type blockingDequeuer struct {
	deliveries chan core.TaskDelivery
}

func (q *blockingDequeuer) Dequeue(ctx context.Context) (core.TaskDelivery, error) {
	select {
	case delivery := <-q.deliveries:
		return delivery, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestProcessor_RunStopsOnCancel(t *testing.T) {
	key := newSigningKey(t)
	proc, dispatcher, _ := newTestProcessor(key)
	queue := &blockingDequeuer{deliveries: make(chan core.TaskDelivery, 1)}
	proc.Queue = queue
	queue.deliveries <- &fakeDelivery{task: signedTask(t, key, followActivity), attempt: 1}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for dispatcher.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("delivery was never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestExponentialRetryPolicy(t *testing.T) {
	policy := ExponentialRetryPolicy{Initial: time.Second, Max: 8 * time.Second}
	want := []time.Duration{
		time.Second, time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 8 * time.Second,
	}
	for attempt, expected := range want {
		if got := policy.NextDelay(attempt); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}
