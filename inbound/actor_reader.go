package inbound

import (
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
)

const (
	contentTypeActivity = `application/activity+json; charset=utf-8`
	cacheControlActor   = "public, max-age=180"

	activityStreamsContext = "https://www.w3.org/ns/activitystreams"
	securityContext        = "https://w3id.org/security/v1"
)

// ActorReader serves the public representation of local actors: the actor
// document itself and the standalone public key document remote nodes fetch
// to verify inbox signatures.
type ActorReader struct {
	store  core.ActorStore
	logger core.Logger
}

type ActorReaderConfig struct {
	Store    core.ActorStore
	Logger   core.Logger
	Provider core.LoggerProvider
}

func NewActorReader(cfg ActorReaderConfig) *ActorReader {
	_, logger := glog.Resolve("federation.actors", cfg.Provider, cfg.Logger)
	return &ActorReader{
		store:  cfg.Store,
		logger: glog.Ensure(logger),
	}
}

// HandleActor serves GET /users/{id} as an ActivityPub Person document.
func (ar *ActorReader) HandleActor(w http.ResponseWriter, r *http.Request) {
	actor, ok := ar.localActor(w, r)
	if !ok {
		return
	}
	doc := map[string]any{
		"@context":          []any{activityStreamsContext, securityContext},
		"id":                actor.URI,
		"type":              apub.TypePerson,
		"preferredUsername": actor.Username,
		"name":              actor.DisplayName,
		"summary":           actor.Summary,
		"inbox":             actor.InboxURL,
		"url":               actor.URL,
		"publicKey": map[string]any{
			"id":           actor.PublicKey.ID,
			"owner":        actor.URI,
			"publicKeyPem": actor.PublicKey.PEM,
		},
	}
	if actor.AvatarURL != nil {
		doc["icon"] = map[string]any{"type": apub.TypeImage, "url": *actor.AvatarURL}
	}
	if actor.BannerURL != nil {
		doc["image"] = map[string]any{"type": apub.TypeImage, "url": *actor.BannerURL}
	}
	writeActivity(w, http.StatusOK, doc)
}

// HandleActorKey serves GET /users/{id}/publickey. Only local actors own a
// servable key; asking for a remote actor's key here is a caller mistake.
func (ar *ActorReader) HandleActorKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := ar.localActor(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(actor.PublicKey.PEM) == "" {
		writeError(w, core.NewActorNotFoundError(actor.URI))
		return
	}
	writeActivity(w, http.StatusOK, map[string]any{
		"@context":     []any{activityStreamsContext, securityContext},
		"id":           actor.PublicKey.ID,
		"type":         apub.TypeKey,
		"owner":        actor.URI,
		"publicKeyPem": actor.PublicKey.PEM,
	})
}

func (ar *ActorReader) localActor(w http.ResponseWriter, r *http.Request) (core.Actor, bool) {
	if ar == nil || ar.store == nil {
		writeError(w, inboundInternal("inbound: actor reader is not configured", nil))
		return core.Actor{}, false
	}
	raw := strings.TrimSpace(r.PathValue("id"))
	localID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, inboundBadInput("inbound: actor id is not a uuid",
			map[string]any{"id": raw}))
		return core.Actor{}, false
	}
	actor, found, err := ar.store.GetByLocalID(r.Context(), localID)
	if err != nil {
		ar.logger.Error("actor lookup failed", "local_id", raw, "error", err)
		writeError(w, inboundInternal("inbound: actor lookup failed", nil))
		return core.Actor{}, false
	}
	if !found {
		writeError(w, core.NewActorNotFoundError(raw))
		return core.Actor{}, false
	}
	// Remote actors live on their origin server; the authoritative documents
	// are theirs to serve.
	if !actor.IsLocal() {
		writeError(w, inboundBadInput("inbound: actor is not local",
			map[string]any{"id": raw}))
		return core.Actor{}, false
	}
	return actor, true
}

func writeActivity(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeActivity)
	w.Header().Set("Cache-Control", cacheControlActor)
	writeBody(w, status, payload)
}
