// Package person owns the remote actor lifecycle: fetch, create, update and
// the fetch-or-create composite. It is the sole writer of actor records; the
// store's uniqueness constraints settle concurrent first contact.
package person

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
	"github.com/goliatone/go-federation/resolver"
)

// ObjectResolver is the slice of the resolver this package needs.
type ObjectResolver interface {
	Resolve(ctx context.Context, ref apub.Ref, rctx *resolver.Context) (apub.Object, error)
}

// IdentityNormalizer produces the canonical identity behind an actor id.
type IdentityNormalizer interface {
	Normalize(ctx context.Context, candidateID string) (core.CanonicalIdentity, error)
}

// MediaResolver materializes an avatar/banner attachment into a stored
// reference. The default keeps the remote URL as-is; nodes with a drive
// plug their own in.
type MediaResolver interface {
	ResolveImage(ctx context.Context, actor core.Actor, img apub.Image) (string, error)
}

type passthroughMediaResolver struct{}

func (passthroughMediaResolver) ResolveImage(_ context.Context, _ core.Actor, img apub.Image) (string, error) {
	return strings.TrimSpace(img.URL), nil
}

type Config struct {
	Resolver       ObjectResolver
	Normalizer     IdentityNormalizer
	Store          core.ActorStore
	Media          MediaResolver
	LocalAuthority string
	// MediaTimeout bounds the best-effort media step after create.
	MediaTimeout time.Duration
	Logger       core.Logger
}

type Manager struct {
	resolver       ObjectResolver
	normalizer     IdentityNormalizer
	store          core.ActorStore
	media          MediaResolver
	localAuthority string
	mediaTimeout   time.Duration
	logger         core.Logger
}

func NewManager(cfg Config) *Manager {
	media := cfg.Media
	if media == nil {
		media = passthroughMediaResolver{}
	}
	mediaTimeout := cfg.MediaTimeout
	if mediaTimeout <= 0 {
		mediaTimeout = 30 * time.Second
	}
	return &Manager{
		resolver:       cfg.Resolver,
		normalizer:     cfg.Normalizer,
		store:          cfg.Store,
		media:          media,
		localAuthority: strings.ToLower(strings.TrimSpace(cfg.LocalAuthority)),
		mediaTimeout:   mediaTimeout,
		logger:         glog.Ensure(cfg.Logger),
	}
}

// FetchOrNull returns the locally known actor behind ref, or absent. It
// never triggers a network fetch.
func (m *Manager) FetchOrNull(ctx context.Context, ref apub.Ref) (core.Actor, bool, error) {
	if m == nil || m.store == nil {
		return core.Actor{}, false, goerrors.New("person: manager is not configured", goerrors.CategoryInternal)
	}
	uri := ref.URI()
	if uri == "" {
		return core.Actor{}, false, goerrors.New("person: reference is empty", goerrors.CategoryBadInput)
	}

	if m.isLocalURI(uri) {
		localID, err := localIDFromURI(uri)
		if err != nil {
			return core.Actor{}, false, err
		}
		return m.store.GetByLocalID(ctx, localID)
	}
	return m.store.GetByURI(ctx, uri)
}

// Create resolves ref into a Person document, validates it, and inserts a
// new actor. A concurrent create for the same remote id surfaces as
// core.ErrAlreadyExists; callers fall back to FetchOrNull.
func (m *Manager) Create(ctx context.Context, ref apub.Ref) (core.Actor, error) {
	if m == nil || m.resolver == nil || m.normalizer == nil || m.store == nil {
		return core.Actor{}, goerrors.New("person: manager is not configured", goerrors.CategoryInternal)
	}

	person, err := m.resolveValidPerson(ctx, ref)
	if err != nil {
		return core.Actor{}, err
	}

	identity, err := m.normalizer.Normalize(ctx, person.ID)
	if err != nil {
		return core.Actor{}, err
	}
	counts := m.resolveCounts(ctx, person)

	input := core.CreateActorInput{
		URI:         person.ID,
		Identity:    identity,
		DisplayName: strings.TrimSpace(person.Name),
		Summary:     ExtractText(person.Summary),
		PublicKey: core.PublicKey{
			ID:  strings.TrimSpace(person.PublicKey.ID),
			PEM: strings.TrimSpace(person.PublicKey.PublicKeyPEM),
		},
		InboxURL:    strings.TrimSpace(person.Inbox),
		URL:         strings.TrimSpace(person.URL),
		Counts:      counts,
		PublishedAt: parsePublished(person.Published),
	}
	if err := input.Validate(); err != nil {
		return core.Actor{}, core.NewInvalidActorError("person: incomplete person document", err)
	}

	m.logger.Info("creating remote actor", "uri", person.ID, "host", identity.Host)
	actor, err := m.store.Create(ctx, input)
	if err != nil {
		return core.Actor{}, err
	}

	// Avatar and banner are attached after the row exists; a failure here
	// must never roll back the actor.
	m.attachMedia(actor, person)
	return actor, nil
}

// Update refreshes the mutable profile of an already-known actor. Unknown
// actors are ignored; update never creates, and never touches identity
// fields regardless of what the refetched document claims.
func (m *Manager) Update(ctx context.Context, ref apub.Ref) error {
	if m == nil || m.resolver == nil || m.store == nil {
		return goerrors.New("person: manager is not configured", goerrors.CategoryInternal)
	}
	uri := ref.URI()
	if uri == "" || m.isLocalURI(uri) {
		return nil
	}
	existing, found, err := m.store.GetByURI(ctx, uri)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	person, err := m.resolveValidPerson(ctx, ref)
	if err != nil {
		return err
	}
	counts := m.resolveCounts(ctx, person)
	avatarURL, bannerURL := m.resolveMedia(ctx, existing, person)

	profile := core.ActorProfile{
		DisplayName: strings.TrimSpace(person.Name),
		Summary:     ExtractText(person.Summary),
		URL:         strings.TrimSpace(person.URL),
		Counts:      counts,
		AvatarURL:   avatarURL,
		BannerURL:   bannerURL,
	}
	m.logger.Info("updating remote actor", "uri", uri)
	return m.store.UpdateProfile(ctx, existing.LocalID, profile)
}

// ResolvePerson is the fetch-or-create composite and the only entry point
// other components should use when an actor may or may not exist yet. It is
// idempotent: the narrow race between two first-contact creates is settled
// by the store's uniqueness constraint and the loser reuses the winning row.
func (m *Manager) ResolvePerson(ctx context.Context, ref apub.Ref) (core.Actor, error) {
	actor, found, err := m.FetchOrNull(ctx, ref)
	if err != nil {
		return core.Actor{}, err
	}
	if found {
		return actor, nil
	}

	actor, err = m.Create(ctx, ref)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, core.ErrAlreadyExists) {
		return core.Actor{}, err
	}

	actor, found, err = m.FetchOrNull(ctx, ref)
	if err != nil {
		return core.Actor{}, err
	}
	if !found {
		return core.Actor{}, goerrors.New(
			"person: lost create race but winning actor is absent", goerrors.CategoryInternal)
	}
	return actor, nil
}

func (m *Manager) resolveValidPerson(ctx context.Context, ref apub.Ref) (apub.Person, error) {
	obj, err := m.resolver.Resolve(ctx, ref, nil)
	if err != nil {
		return apub.Person{}, err
	}
	person, ok := obj.(apub.Person)
	if !ok {
		return apub.Person{}, core.NewInvalidActorError(
			"person: resolved object is not a Person ("+obj.ObjectType()+")", nil)
	}
	if !core.ValidateUsername(person.PreferredUsername) {
		return apub.Person{}, core.NewInvalidActorError(
			"person: unacceptable preferredUsername", nil)
	}
	if !core.ValidateDisplayName(person.Name) {
		return apub.Person{}, core.NewInvalidActorError(
			"person: unacceptable display name", nil)
	}
	return person, nil
}

// resolveCounts dereferences the actor's declared collections concurrently.
// Each count is best-effort: an individual failure defaults that count to
// zero instead of aborting the caller.
func (m *Manager) resolveCounts(ctx context.Context, person apub.Person) core.ActorCounts {
	refs := []apub.Ref{person.Followers, person.Following, person.Outbox}
	totals := make([]int64, len(refs))

	var wg sync.WaitGroup
	for i, ref := range refs {
		if ref.IsZero() {
			continue
		}
		wg.Add(1)
		go func(i int, ref apub.Ref) {
			defer wg.Done()
			obj, err := m.resolver.Resolve(ctx, ref, nil)
			if err != nil {
				m.logger.Debug("collection count unavailable", "ref", ref.URI(), "error", err.Error())
				return
			}
			totals[i] = apub.TotalItemsOrZero(obj)
		}(i, ref)
	}
	wg.Wait()

	return core.ActorCounts{Followers: totals[0], Following: totals[1], Notes: totals[2]}
}

func (m *Manager) resolveMedia(ctx context.Context, actor core.Actor, person apub.Person) (avatarURL, bannerURL *string) {
	resolveOne := func(img *apub.Image) *string {
		if img == nil || strings.TrimSpace(img.URL) == "" {
			return nil
		}
		resolved, err := m.media.ResolveImage(ctx, actor, *img)
		if err != nil || strings.TrimSpace(resolved) == "" {
			if err != nil {
				m.logger.Debug("media resolution failed", "actor", actor.URI, "error", err.Error())
			}
			return nil
		}
		return &resolved
	}
	return resolveOne(person.Icon), resolveOne(person.Banner)
}

// attachMedia is the independently-failing follow-up after create. It runs
// on its own deadline, detached from the request context, so an enqueued
// creation completes its media step even if the caller has moved on.
func (m *Manager) attachMedia(actor core.Actor, person apub.Person) {
	if person.Icon == nil && person.Banner == nil {
		return
	}
	mediaCtx, cancel := context.WithTimeout(context.Background(), m.mediaTimeout)
	defer cancel()

	avatarURL, bannerURL := m.resolveMedia(mediaCtx, actor, person)
	if avatarURL == nil && bannerURL == nil {
		return
	}
	if err := m.store.AttachMedia(mediaCtx, actor.LocalID, avatarURL, bannerURL); err != nil {
		m.logger.Warn("attaching actor media failed", "uri", actor.URI, "error", err.Error())
	}
}

func (m *Manager) isLocalURI(uri string) bool {
	if m.localAuthority == "" {
		return false
	}
	authority, err := uriAuthority(uri)
	if err != nil {
		return false
	}
	return authority == m.localAuthority
}

func localIDFromURI(uri string) (uuid.UUID, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(uri), "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return uuid.Nil, goerrors.New("person: unusable local actor uri", goerrors.CategoryBadInput)
	}
	localID, err := uuid.Parse(trimmed[idx+1:])
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "person: unusable local actor id")
	}
	return localID, nil
}

func uriAuthority(raw string) (string, error) {
	parsed, err := parseURL(raw)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Host), nil
}

func parsePublished(published string) *time.Time {
	published = strings.TrimSpace(published)
	if published == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, published)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}
