// Package apub models the ActivityPub wire vocabulary this node understands.
// Remote payloads are decoded into this closed set of tagged variants at the
// resolver boundary; downstream code never touches raw JSON.
package apub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	TypePerson            = "Person"
	TypeNote              = "Note"
	TypeCollection        = "Collection"
	TypeOrderedCollection = "OrderedCollection"
	TypeKey               = "Key"
	TypeImage             = "Image"

	TypeCreate   = "Create"
	TypeUpdate   = "Update"
	TypeDelete   = "Delete"
	TypeFollow   = "Follow"
	TypeAccept   = "Accept"
	TypeReject   = "Reject"
	TypeUndo     = "Undo"
	TypeAnnounce = "Announce"
	TypeLike     = "Like"
	TypeBlock    = "Block"
)

var (
	ErrMalformedObject = errors.New("apub: malformed object")
	ErrMissingID       = errors.New("apub: object reference is missing an id")
)

// Object is any decoded remote object.
type Object interface {
	ObjectID() string
	ObjectType() string
}

// Ref is either an opaque URI string or an inline object carrying an id.
// Inline objects without an id are rejected at decode time.
type Ref struct {
	uri    string
	typ    string
	inline json.RawMessage
}

func NewRef(uri string) Ref {
	return Ref{uri: strings.TrimSpace(uri)}
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*r = Ref{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var uri string
		if err := json.Unmarshal(data, &uri); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		*r = Ref{uri: strings.TrimSpace(uri)}
		return nil
	}
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return ErrMissingID
	}
	*r = Ref{
		uri:    strings.TrimSpace(envelope.ID),
		typ:    strings.TrimSpace(envelope.Type),
		inline: append(json.RawMessage(nil), data...),
	}
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if len(r.inline) > 0 {
		return append(json.RawMessage(nil), r.inline...), nil
	}
	return json.Marshal(r.uri)
}

func (r Ref) IsZero() bool { return r.uri == "" && len(r.inline) == 0 }

// URI returns the id the reference resolves under.
func (r Ref) URI() string { return r.uri }

// Inline returns the embedded object payload, nil for plain URI references.
func (r Ref) Inline() json.RawMessage { return r.inline }

// Image is an icon/banner attachment reference.
type Image struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Key is the publicKey block of an actor document.
type Key struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPEM string `json:"publicKeyPem"`
}

func (k Key) ObjectID() string   { return k.ID }
func (k Key) ObjectType() string { return TypeKey }

// Person is a remote actor document.
type Person struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Summary           string `json:"summary"`
	Inbox             string `json:"inbox"`
	Outbox            Ref    `json:"outbox"`
	Followers         Ref    `json:"followers"`
	Following         Ref    `json:"following"`
	SharedInbox       string `json:"sharedInbox,omitempty"`
	URL               string `json:"url"`
	Published         string `json:"published"`
	Icon              *Image `json:"icon,omitempty"`
	Banner            *Image `json:"image,omitempty"`
	PublicKey         Key    `json:"publicKey"`
}

func (p Person) ObjectID() string   { return p.ID }
func (p Person) ObjectType() string { return TypePerson }

// Note is a content object; the content model itself is external, the core
// only needs the envelope for dispatch.
type Note struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	AttributedTo Ref    `json:"attributedTo"`
	Content      string `json:"content"`
	Published    string `json:"published"`
	InReplyTo    Ref    `json:"inReplyTo"`
}

func (n Note) ObjectID() string   { return n.ID }
func (n Note) ObjectType() string { return TypeNote }

// Collection covers both Collection and OrderedCollection; TotalItems is nil
// when the remote document omits it.
type Collection struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems *int64 `json:"totalItems,omitempty"`
	First      Ref    `json:"first"`
}

func (c Collection) ObjectID() string   { return c.ID }
func (c Collection) ObjectType() string { return c.Type }

// Activity is the envelope of an inbox delivery.
type Activity struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Actor     Ref    `json:"actor"`
	Object    Ref    `json:"object"`
	Target    Ref    `json:"target,omitempty"`
	Published string `json:"published"`
}

func (a Activity) ObjectID() string   { return a.ID }
func (a Activity) ObjectType() string { return a.Type }

// Unknown preserves objects of types outside the closed set without letting
// untyped data flow further than the boundary.
type Unknown struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

func (u Unknown) ObjectID() string   { return u.ID }
func (u Unknown) ObjectType() string { return u.Type }

func isActivityType(typ string) bool {
	switch typ {
	case TypeCreate, TypeUpdate, TypeDelete, TypeFollow, TypeAccept,
		TypeReject, TypeUndo, TypeAnnounce, TypeLike, TypeBlock:
		return true
	default:
		return false
	}
}

// Decode parses a remote payload into its typed variant. The payload must
// carry an id and a type tag.
func Decode(raw []byte) (Object, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedObject)
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, ErrMissingID
	}

	switch {
	case typ == TypePerson:
		var person Person
		if err := json.Unmarshal(raw, &person); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		return person, nil
	case typ == TypeNote:
		var note Note
		if err := json.Unmarshal(raw, &note); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		return note, nil
	case typ == TypeCollection || typ == TypeOrderedCollection:
		var collection Collection
		if err := json.Unmarshal(raw, &collection); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		return collection, nil
	case typ == TypeKey:
		var key Key
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		return key, nil
	case isActivityType(typ):
		var activity Activity
		if err := json.Unmarshal(raw, &activity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		return activity, nil
	default:
		return Unknown{
			ID:   strings.TrimSpace(envelope.ID),
			Type: typ,
			Raw:  append(json.RawMessage(nil), raw...),
		}, nil
	}
}

// IsCollection reports whether the object is a Collection or
// OrderedCollection and returns it when so.
func IsCollection(obj Object) (Collection, bool) {
	collection, ok := obj.(Collection)
	return collection, ok
}

// TotalItemsOrZero extracts a collection total, defaulting to zero when the
// object is not a collection or omits totalItems.
func TotalItemsOrZero(obj Object) int64 {
	collection, ok := IsCollection(obj)
	if !ok || collection.TotalItems == nil {
		return 0
	}
	return *collection.TotalItems
}
