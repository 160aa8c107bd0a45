package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxDisplayNameLength bounds the display name accepted from remote actors.
const MaxDisplayNameLength = 50

var usernamePattern = regexp.MustCompile(`^\w{1,20}$`)

// ValidateUsername reports whether a remote preferredUsername is acceptable
// as a local handle.
func ValidateUsername(username string) bool {
	return usernamePattern.MatchString(strings.TrimSpace(username))
}

// ValidateDisplayName accepts an empty name; anything else must fit the
// display name budget.
func ValidateDisplayName(name string) bool {
	return len(strings.TrimSpace(name)) <= MaxDisplayNameLength
}

// PublicKey is the signing key material advertised by an actor document.
type PublicKey struct {
	ID  string
	PEM string
}

// CanonicalIdentity is the normalized (username, host) pair used to
// deduplicate actors. Host is already IDN-decoded and lowercased.
type CanonicalIdentity struct {
	Username string
	Host     string
}

func (i CanonicalIdentity) Validate() error {
	if !ValidateUsername(i.Username) {
		return fmt.Errorf("core: invalid username %q", i.Username)
	}
	if strings.TrimSpace(i.Host) == "" {
		return fmt.Errorf("core: canonical host is required")
	}
	return nil
}

// Actor is the local record for a remote (or local) identity. Host is nil for
// local actors. URI, Username and Host are immutable once the record exists.
type Actor struct {
	LocalID        uuid.UUID
	URI            string
	Username       string
	UsernameLower  string
	Host           *string
	HostCanonical  string
	DisplayName    string
	Summary        string
	PublicKey      PublicKey
	InboxURL       string
	URL            string
	FollowersCount int64
	FollowingCount int64
	NotesCount     int64
	AvatarURL      *string
	BannerURL      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocal reports whether the actor belongs to this node.
func (a Actor) IsLocal() bool {
	return a.Host == nil
}

// ActorCounts carries the denormalized collection totals resolved from an
// actor's declared collections. Values are best-effort and default to zero.
type ActorCounts struct {
	Followers int64
	Following int64
	Notes     int64
}

// ActorProfile is the mutable slice of an actor record. UpdateProfile writes
// exactly these fields and nothing else.
type ActorProfile struct {
	DisplayName string
	Summary     string
	URL         string
	Counts      ActorCounts
	AvatarURL   *string
	BannerURL   *string
}

// CreateActorInput is everything the store needs to insert a new remote actor.
type CreateActorInput struct {
	URI         string
	Identity    CanonicalIdentity
	DisplayName string
	Summary     string
	PublicKey   PublicKey
	InboxURL    string
	URL         string
	Counts      ActorCounts
	PublishedAt *time.Time
}

func (in CreateActorInput) Validate() error {
	if strings.TrimSpace(in.URI) == "" {
		return fmt.Errorf("core: actor uri is required")
	}
	if err := in.Identity.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.InboxURL) == "" {
		return fmt.Errorf("core: actor inbox url is required")
	}
	if strings.TrimSpace(in.PublicKey.ID) == "" || strings.TrimSpace(in.PublicKey.PEM) == "" {
		return fmt.Errorf("core: actor public key is required")
	}
	return nil
}

// SignatureContext is the parsed Signature header of one inbox delivery plus
// the exact bytes that were signed. It lives for a single request/task.
type SignatureContext struct {
	KeyID         string   `json:"keyId"`
	Algorithm     string   `json:"algorithm"`
	Headers       []string `json:"headers"`
	Signature     []byte   `json:"signature"`
	SigningString []byte   `json:"signingString"`
}

// SignerURI returns the keyId with any fragment stripped, the URI used to
// resolve the signing actor.
func (s SignatureContext) SignerURI() string {
	keyID := strings.TrimSpace(s.KeyID)
	if idx := strings.IndexByte(keyID, '#'); idx >= 0 {
		keyID = keyID[:idx]
	}
	return keyID
}

// TaskTypeProcessInbox identifies the single task kind this core enqueues.
const TaskTypeProcessInbox = "processInbox"

// InboxTask is the durable unit of work handed to the queue: the raw activity
// payload as received plus the parsed signature context.
type InboxTask struct {
	Type       string           `json:"type"`
	Activity   json.RawMessage  `json:"activity"`
	Signature  SignatureContext `json:"signature"`
	ReceivedAt time.Time        `json:"receivedAt"`
}

func (t InboxTask) Validate() error {
	if strings.TrimSpace(t.Type) != TaskTypeProcessInbox {
		return fmt.Errorf("core: unsupported task type %q", t.Type)
	}
	if len(t.Activity) == 0 {
		return fmt.Errorf("core: task activity payload is required")
	}
	if strings.TrimSpace(t.Signature.KeyID) == "" {
		return fmt.Errorf("core: task signature keyId is required")
	}
	return nil
}
