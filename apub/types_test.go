package apub

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_Person(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.example/users/alice",
		"type": "Person",
		"preferredUsername": "alice",
		"name": "Alice",
		"summary": "<p>hi</p>",
		"inbox": "https://remote.example/users/alice/inbox",
		"followers": "https://remote.example/users/alice/followers",
		"following": {"id": "https://remote.example/users/alice/following", "type": "OrderedCollection"},
		"publicKey": {
			"id": "https://remote.example/users/alice#main-key",
			"owner": "https://remote.example/users/alice",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----"
		}
	}`)
	obj, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode person: %v", err)
	}
	person, ok := obj.(Person)
	if !ok {
		t.Fatalf("expected Person variant, got %T", obj)
	}
	if person.PreferredUsername != "alice" {
		t.Fatalf("unexpected username %q", person.PreferredUsername)
	}
	if person.Followers.URI() != "https://remote.example/users/alice/followers" {
		t.Fatalf("unexpected followers ref %q", person.Followers.URI())
	}
	if person.Following.URI() != "https://remote.example/users/alice/following" {
		t.Fatalf("inline ref should expose its id, got %q", person.Following.URI())
	}
	if person.Following.Inline() == nil {
		t.Fatal("inline ref should retain its payload")
	}
	if person.PublicKey.PublicKeyPEM == "" {
		t.Fatal("expected public key pem")
	}
}

func TestDecode_OrderedCollection(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.example/users/alice/followers",
		"type": "OrderedCollection",
		"totalItems": 42
	}`)
	obj, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode collection: %v", err)
	}
	if _, ok := IsCollection(obj); !ok {
		t.Fatalf("expected collection variant, got %T", obj)
	}
	if got := TotalItemsOrZero(obj); got != 42 {
		t.Fatalf("expected totalItems 42, got %d", got)
	}
}

func TestTotalItemsOrZero_Defaults(t *testing.T) {
	obj, err := Decode([]byte(`{"id": "https://a.example/c", "type": "Collection"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := TotalItemsOrZero(obj); got != 0 {
		t.Fatalf("missing totalItems should default to zero, got %d", got)
	}
	if got := TotalItemsOrZero(Unknown{ID: "x", Type: "Video"}); got != 0 {
		t.Fatalf("non-collections should default to zero, got %d", got)
	}
}

func TestDecode_Activity(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.example/activities/1",
		"type": "Follow",
		"actor": "https://remote.example/users/alice",
		"object": "https://social.example/users/bob"
	}`)
	obj, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	activity, ok := obj.(Activity)
	if !ok {
		t.Fatalf("expected Activity variant, got %T", obj)
	}
	if activity.Actor.URI() != "https://remote.example/users/alice" {
		t.Fatalf("unexpected actor ref %q", activity.Actor.URI())
	}
}

func TestDecode_UnknownType(t *testing.T) {
	obj, err := Decode([]byte(`{"id": "https://a.example/v", "type": "Video", "name": "clip"}`))
	if err != nil {
		t.Fatalf("decode unknown: %v", err)
	}
	unknown, ok := obj.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown variant, got %T", obj)
	}
	if unknown.Type != "Video" || len(unknown.Raw) == 0 {
		t.Fatalf("unknown variant should preserve type and payload")
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type": "Person"}`)); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected missing id error, got %v", err)
	}
	if _, err := Decode([]byte(`{"id": "https://a.example/x"}`)); err == nil {
		t.Fatal("expected missing type tag to fail")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected malformed payload to fail")
	}
}

func TestRef_UnmarshalJSON(t *testing.T) {
	var ref Ref
	if err := json.Unmarshal([]byte(`"https://a.example/x"`), &ref); err != nil {
		t.Fatalf("unmarshal uri ref: %v", err)
	}
	if ref.URI() != "https://a.example/x" || ref.Inline() != nil {
		t.Fatalf("unexpected uri ref state")
	}

	if err := json.Unmarshal([]byte(`{"type": "Note"}`), &ref); !errors.Is(err, ErrMissingID) {
		t.Fatalf("inline object without id must be rejected, got %v", err)
	}

	if err := json.Unmarshal([]byte(`null`), &ref); err != nil {
		t.Fatalf("null ref: %v", err)
	}
	if !ref.IsZero() {
		t.Fatal("null ref should be zero")
	}
}
