// Package resolver dereferences object references into typed remote objects.
// Every top-level resolution gets its own Context carrying the recursion
// depth and the set of ids currently in flight, so maliciously deep or
// cyclic graphs fail fast instead of amplifying requests.
package resolver

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-federation/apub"
	"github.com/goliatone/go-federation/core"
)

const defaultMaxDepth = 8

// LocalLookup resolves a local-authority uri without touching the network.
// The content model behind it is external to this core.
type LocalLookup func(ctx context.Context, uri string) (apub.Object, error)

// Context tracks one top-level resolution call chain. It is created per
// resolution and discarded at its end; it is not safe for concurrent use and
// never shared across flows.
type Context struct {
	depth    int
	inflight map[string]struct{}
}

func NewContext() *Context {
	return &Context{inflight: map[string]struct{}{}}
}

// Depth reports how many nested resolutions are currently open.
func (c *Context) Depth() int {
	if c == nil {
		return 0
	}
	return c.depth
}

func (c *Context) enter(id string, maxDepth int) error {
	if c.depth+1 > maxDepth {
		return core.NewDepthExceededError(c.depth + 1)
	}
	if _, inFlight := c.inflight[id]; inFlight {
		return core.NewCycleDetectedError(id)
	}
	c.depth++
	c.inflight[id] = struct{}{}
	return nil
}

func (c *Context) leave(id string) {
	c.depth--
	delete(c.inflight, id)
}

type Config struct {
	Fetcher        core.ObjectFetcher
	LocalAuthority string
	LocalLookup    LocalLookup
	MaxDepth       int
	Logger         core.Logger
}

// Resolver turns references into typed objects. It never mutates local
// storage; its only side effect is the network fetch.
type Resolver struct {
	fetcher        core.ObjectFetcher
	localAuthority string
	localLookup    LocalLookup
	maxDepth       int
	logger         core.Logger
}

func New(cfg Config) *Resolver {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &Resolver{
		fetcher:        cfg.Fetcher,
		localAuthority: strings.ToLower(strings.TrimSpace(cfg.LocalAuthority)),
		localLookup:    cfg.LocalLookup,
		maxDepth:       maxDepth,
		logger:         glog.Ensure(cfg.Logger),
	}
}

// Resolve dereferences ref. Pass a nil rctx at the top level; nested
// resolutions must reuse the same rctx so the depth and cycle guards see the
// whole chain.
func (r *Resolver) Resolve(ctx context.Context, ref apub.Ref, rctx *Context) (apub.Object, error) {
	if r == nil {
		return nil, goerrors.New("resolver: resolver is nil", goerrors.CategoryInternal)
	}
	if ref.IsZero() {
		return nil, goerrors.New("resolver: reference is empty", goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.FederationErrorBadInput)
	}
	if rctx == nil {
		rctx = NewContext()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := ref.URI()
	if err := rctx.enter(id, r.maxDepth); err != nil {
		return nil, err
	}
	defer rctx.leave(id)

	authority, err := uriAuthority(id)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "resolver: unusable reference id").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.FederationErrorBadInput)
	}

	// References into this node resolve locally and bypass remote-trust
	// checks entirely.
	if authority == r.localAuthority {
		if r.localLookup == nil {
			return nil, goerrors.New("resolver: local lookup is not configured", goerrors.CategoryInternal)
		}
		return r.localLookup(ctx, id)
	}

	// Inline objects were delivered alongside the reference; they already
	// carry their id and are used as-is.
	if inline := ref.Inline(); len(inline) > 0 {
		return apub.Decode(inline)
	}

	if r.fetcher == nil {
		return nil, goerrors.New("resolver: object fetcher is not configured", goerrors.CategoryInternal)
	}
	raw, err := r.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	obj, err := apub.Decode(raw)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "resolver: decode remote object").
			WithCode(http.StatusUnprocessableEntity).
			WithTextCode(core.FederationErrorBadInput)
	}

	// Anti-spoofing: the declared origin must match the host we contacted.
	declaredAuthority, err := uriAuthority(obj.ObjectID())
	if err != nil || declaredAuthority != authority {
		r.logger.Error("remote object declared a foreign origin",
			"event_type", "authority_mismatch",
			"requested", id,
			"declared", obj.ObjectID(),
		)
		return nil, core.NewIdentityMismatchError(
			"resolver: object "+obj.ObjectID()+" served from "+authority, err)
	}
	return obj, nil
}

// ResolveURI is a convenience for callers holding a bare uri.
func (r *Resolver) ResolveURI(ctx context.Context, uri string, rctx *Context) (apub.Object, error) {
	return r.Resolve(ctx, apub.NewRef(uri), rctx)
}

func uriAuthority(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", goerrors.New("resolver: reference has no authority", goerrors.CategoryBadInput)
	}
	return strings.ToLower(parsed.Host), nil
}
