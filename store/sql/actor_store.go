package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-federation/core"
)

// ActorStore persists actor records. The uri and (username_lower,
// host_canonical) unique constraints carry the first-contact race: of two
// concurrent inserts exactly one commits, the other gets AlreadyExists.
type ActorStore struct {
	db   *bun.DB
	repo repository.Repository[*actorRecord]
}

func (s *ActorStore) Create(ctx context.Context, in core.CreateActorInput) (core.Actor, error) {
	if s == nil || s.repo == nil {
		return core.Actor{}, sqlstoreNotConfigured("actor store")
	}
	if err := in.Validate(); err != nil {
		return core.Actor{}, err
	}

	record := newActorRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.Actor{}, core.NewAlreadyExistsError(in.URI)
		}
		return core.Actor{}, sqlstoreWrap(err, "sqlstore: insert actor")
	}
	return created.toDomain(), nil
}

func (s *ActorStore) GetByURI(ctx context.Context, uri string) (core.Actor, bool, error) {
	return s.getOne(ctx, repository.SelectBy("uri", "=", strings.TrimSpace(uri)))
}

func (s *ActorStore) GetByLocalID(ctx context.Context, id uuid.UUID) (core.Actor, bool, error) {
	return s.getOne(ctx, repository.SelectBy("id", "=", id.String()))
}

func (s *ActorStore) GetByIdentity(ctx context.Context, identity core.CanonicalIdentity) (core.Actor, bool, error) {
	return s.getOne(ctx,
		repository.SelectBy("username_lower", "=", strings.ToLower(strings.TrimSpace(identity.Username))),
		repository.SelectBy("host_canonical", "=", strings.TrimSpace(identity.Host)),
	)
}

func (s *ActorStore) getOne(ctx context.Context, criteria ...repository.SelectCriteria) (core.Actor, bool, error) {
	if s == nil || s.repo == nil {
		return core.Actor{}, false, sqlstoreNotConfigured("actor store")
	}
	criteria = append(criteria, repository.SelectPaginate(1, 0))
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.Actor{}, false, sqlstoreWrap(err, "sqlstore: select actor")
	}
	if len(records) == 0 {
		return core.Actor{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

// UpdateProfile writes the mutable columns only. Identity columns are not in
// the update list, so a refetched document can never rename or move a row.
func (s *ActorStore) UpdateProfile(ctx context.Context, localID uuid.UUID, profile core.ActorProfile) error {
	if s == nil || s.db == nil {
		return sqlstoreNotConfigured("actor store")
	}
	result, err := s.db.NewUpdate().
		Model((*actorRecord)(nil)).
		Set("display_name = ?", profile.DisplayName).
		Set("summary = ?", profile.Summary).
		Set("url = ?", profile.URL).
		Set("followers_count = ?", profile.Counts.Followers).
		Set("following_count = ?", profile.Counts.Following).
		Set("notes_count = ?", profile.Counts.Notes).
		Set("avatar_url = ?", profile.AvatarURL).
		Set("banner_url = ?", profile.BannerURL).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", localID.String()).
		Exec(ctx)
	if err != nil {
		return sqlstoreWrap(err, "sqlstore: update actor profile")
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return core.NewActorNotFoundError(localID.String())
	}
	return nil
}

func (s *ActorStore) AttachMedia(ctx context.Context, localID uuid.UUID, avatarURL, bannerURL *string) error {
	if s == nil || s.db == nil {
		return sqlstoreNotConfigured("actor store")
	}
	_, err := s.db.NewUpdate().
		Model((*actorRecord)(nil)).
		Set("avatar_url = ?", avatarURL).
		Set("banner_url = ?", bannerURL).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", localID.String()).
		Exec(ctx)
	if err != nil {
		return sqlstoreWrap(err, "sqlstore: attach actor media")
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique constraint failed") ||
		strings.Contains(text, "duplicate key value violates unique constraint")
}

var _ core.ActorStore = (*ActorStore)(nil)
