// Package identity turns a remote actor's claimed id into the canonical
// (username, host) pair used for deduplication. The actor may be served from
// a different host than its canonical identity, so the id is never trusted
// blindly: host discovery has to link back to it.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-federation/core"
	"golang.org/x/net/idna"
)

const (
	defaultRequestTimeout    = 10 * time.Second
	maxWebFingerBytes        = 64 << 10
	relSelf                  = "self"
	webFingerPathTemplate    = "https://%s/.well-known/webfinger?resource=%s"
	activityJSONMediaType    = "application/activity+json"
	activityStreamsMediaType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	// Lookup overrides the default HTTP WebFinger client; tests and embedders
	// inject their own discovery here.
	Lookup         core.WebFingerLookup
	HTTPClient     HTTPDoer
	RequestTimeout time.Duration
}

// Normalizer resolves canonical identities. Hostnames are IDN-decoded and
// lowercased so visually distinct but equivalent hosts dedupe to one actor.
type Normalizer struct {
	lookup core.WebFingerLookup
}

func NewNormalizer(cfg Config) *Normalizer {
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = NewWebFingerClient(cfg.HTTPClient, cfg.RequestTimeout)
	}
	return &Normalizer{lookup: lookup}
}

// Normalize discovers the canonical identity behind candidateID. It fails
// with an identity-mismatch error when discovery returns nothing linkable or
// links to a different id than expected.
func (n *Normalizer) Normalize(ctx context.Context, candidateID string) (core.CanonicalIdentity, error) {
	if n == nil || n.lookup == nil {
		return core.CanonicalIdentity{}, goerrors.New(
			"identity: normalizer is not configured", goerrors.CategoryInternal)
	}
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return core.CanonicalIdentity{}, goerrors.New(
			"identity: candidate id is required", goerrors.CategoryBadInput)
	}

	result, err := n.lookup.Lookup(ctx, candidateID)
	if err != nil {
		if errors.Is(err, core.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return core.CanonicalIdentity{}, core.NewTimeoutError(
				"identity: host discovery timed out", err)
		}
		return core.CanonicalIdentity{}, core.NewIdentityMismatchError(
			"identity: host discovery failed for "+candidateID, err)
	}

	selfURI := strings.TrimSpace(result.SelfURI)
	if selfURI == "" {
		return core.CanonicalIdentity{}, core.NewIdentityMismatchError(
			"identity: discovery returned no linkable identity for "+candidateID, nil)
	}
	if selfURI != candidateID {
		return core.CanonicalIdentity{}, core.NewIdentityMismatchError(
			fmt.Sprintf("identity: discovery links %s to %s", candidateID, selfURI), nil)
	}

	username, host, err := splitSubject(result.Subject)
	if err != nil {
		return core.CanonicalIdentity{}, core.NewIdentityMismatchError(
			"identity: unusable discovery subject for "+candidateID, err)
	}
	canonicalHost, err := CanonicalHost(host)
	if err != nil {
		return core.CanonicalIdentity{}, core.NewIdentityMismatchError(
			"identity: unusable host in discovery subject", err)
	}
	return core.CanonicalIdentity{Username: username, Host: canonicalHost}, nil
}

// CanonicalHost converts a hostname to its single canonical text form:
// IDN labels decoded to unicode, then lowercased.
func CanonicalHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("identity: host is required")
	}
	unicodeHost, err := idna.Lookup.ToUnicode(host)
	if err != nil {
		return "", fmt.Errorf("identity: canonicalize host %q: %w", host, err)
	}
	return strings.ToLower(unicodeHost), nil
}

// splitSubject parses a WebFinger subject of the form acct:user@host.
func splitSubject(subject string) (username, host string, err error) {
	subject = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(subject), "acct:"))
	username, host, found := strings.Cut(subject, "@")
	if !found || strings.TrimSpace(username) == "" || strings.TrimSpace(host) == "" {
		return "", "", fmt.Errorf("identity: malformed subject %q", subject)
	}
	return strings.TrimSpace(username), strings.TrimSpace(host), nil
}

// WebFingerClient is the default HTTP discovery implementation. It queries
// the host of the candidate id for the id itself as the resource.
type WebFingerClient struct {
	httpClient     HTTPDoer
	requestTimeout time.Duration
}

func NewWebFingerClient(httpClient HTTPDoer, requestTimeout time.Duration) *WebFingerClient {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &WebFingerClient{httpClient: httpClient, requestTimeout: requestTimeout}
}

type webFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webFingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webFingerLink `json:"links"`
}

func (c *WebFingerClient) Lookup(ctx context.Context, actorURI string) (core.WebFingerResult, error) {
	if c == nil {
		return core.WebFingerResult{}, fmt.Errorf("identity: webfinger client is not configured")
	}
	actorURI = strings.TrimSpace(actorURI)
	parsed, err := url.Parse(actorURI)
	if err != nil || parsed.Host == "" {
		return core.WebFingerResult{}, fmt.Errorf("identity: unusable actor uri %q", actorURI)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf(webFingerPathTemplate, parsed.Host, url.QueryEscape(actorURI))
	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.WebFingerResult{}, err
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || requestCtx.Err() != nil {
			return core.WebFingerResult{}, core.NewTimeoutError("identity: webfinger request timed out", err)
		}
		return core.WebFingerResult{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return core.WebFingerResult{}, fmt.Errorf("identity: webfinger returned status %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxWebFingerBytes))
	if err != nil {
		return core.WebFingerResult{}, fmt.Errorf("identity: read webfinger response: %w", err)
	}
	var payload webFingerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.WebFingerResult{}, fmt.Errorf("identity: decode webfinger response: %w", err)
	}

	result := core.WebFingerResult{Subject: strings.TrimSpace(payload.Subject)}
	for _, link := range payload.Links {
		if strings.TrimSpace(link.Rel) != relSelf {
			continue
		}
		switch strings.TrimSpace(link.Type) {
		case activityJSONMediaType, activityStreamsMediaType, "":
			result.SelfURI = strings.TrimSpace(link.Href)
		default:
			continue
		}
		if result.SelfURI != "" {
			break
		}
	}
	return result, nil
}
