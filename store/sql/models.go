package sqlstore

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-federation/core"
)

type actorRecord struct {
	bun.BaseModel `bun:"table:federation_actors,alias:fa"`

	ID             string     `bun:"id,pk"`
	URI            string     `bun:"uri,notnull,unique"`
	Username       string     `bun:"username,notnull"`
	UsernameLower  string     `bun:"username_lower,notnull,unique:federation_actors_identity"`
	Host           *string    `bun:"host"`
	HostCanonical  string     `bun:"host_canonical,notnull,unique:federation_actors_identity"`
	DisplayName    string     `bun:"display_name"`
	Summary        string     `bun:"summary"`
	PublicKeyID    string     `bun:"public_key_id"`
	PublicKeyPEM   string     `bun:"public_key_pem"`
	InboxURL       string     `bun:"inbox_url,notnull"`
	URL            string     `bun:"url"`
	FollowersCount int64      `bun:"followers_count,notnull"`
	FollowingCount int64      `bun:"following_count,notnull"`
	NotesCount     int64      `bun:"notes_count,notnull"`
	AvatarURL      *string    `bun:"avatar_url"`
	BannerURL      *string    `bun:"banner_url"`
	PublishedAt    *time.Time `bun:"published_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newActorRecord(in core.CreateActorInput, now time.Time) *actorRecord {
	host := strings.TrimSpace(in.Identity.Host)
	return &actorRecord{
		URI:            strings.TrimSpace(in.URI),
		Username:       strings.TrimSpace(in.Identity.Username),
		UsernameLower:  strings.ToLower(strings.TrimSpace(in.Identity.Username)),
		Host:           &host,
		HostCanonical:  host,
		DisplayName:    in.DisplayName,
		Summary:        in.Summary,
		PublicKeyID:    strings.TrimSpace(in.PublicKey.ID),
		PublicKeyPEM:   in.PublicKey.PEM,
		InboxURL:       strings.TrimSpace(in.InboxURL),
		URL:            strings.TrimSpace(in.URL),
		FollowersCount: in.Counts.Followers,
		FollowingCount: in.Counts.Following,
		NotesCount:     in.Counts.Notes,
		PublishedAt:    in.PublishedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *actorRecord) toDomain() core.Actor {
	if r == nil {
		return core.Actor{}
	}
	actor := core.Actor{
		LocalID:        parseUUID(r.ID),
		URI:            r.URI,
		Username:       r.Username,
		UsernameLower:  r.UsernameLower,
		HostCanonical:  r.HostCanonical,
		DisplayName:    r.DisplayName,
		Summary:        r.Summary,
		PublicKey:      core.PublicKey{ID: r.PublicKeyID, PEM: r.PublicKeyPEM},
		InboxURL:       r.InboxURL,
		URL:            r.URL,
		FollowersCount: r.FollowersCount,
		FollowingCount: r.FollowingCount,
		NotesCount:     r.NotesCount,
		AvatarURL:      r.AvatarURL,
		BannerURL:      r.BannerURL,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Host != nil {
		host := *r.Host
		actor.Host = &host
	}
	return actor
}

type processedActivityRecord struct {
	bun.BaseModel `bun:"table:federation_processed_activities,alias:fpa"`

	ID          string    `bun:"id,pk"`
	ActivityID  string    `bun:"activity_id,notnull,unique"`
	ProcessedAt time.Time `bun:"processed_at,nullzero,notnull,default:current_timestamp"`
}
