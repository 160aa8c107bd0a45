package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/goliatone/go-federation/core"
)

type staticLookup struct {
	result core.WebFingerResult
	err    error
}

func (l staticLookup) Lookup(context.Context, string) (core.WebFingerResult, error) {
	return l.result, l.err
}

func TestNormalizer_Normalize(t *testing.T) {
	normalizer := NewNormalizer(Config{Lookup: staticLookup{result: core.WebFingerResult{
		Subject: "acct:alice@Remote.Example",
		SelfURI: "https://remote.example/users/alice",
	}}})

	identity, err := normalizer.Normalize(context.Background(), "https://remote.example/users/alice")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if identity.Username != "alice" {
		t.Fatalf("unexpected username %q", identity.Username)
	}
	if identity.Host != "remote.example" {
		t.Fatalf("expected lowercased host, got %q", identity.Host)
	}
}

func TestNormalizer_Normalize_PunycodeHost(t *testing.T) {
	normalizer := NewNormalizer(Config{Lookup: staticLookup{result: core.WebFingerResult{
		Subject: "acct:alice@xn--bcher-kva.example",
		SelfURI: "https://xn--bcher-kva.example/users/alice",
	}}})

	identity, err := normalizer.Normalize(context.Background(), "https://xn--bcher-kva.example/users/alice")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if identity.Host != "bücher.example" {
		t.Fatalf("expected unicode host form, got %q", identity.Host)
	}
}

func TestNormalizer_Normalize_Mismatch(t *testing.T) {
	cases := map[string]staticLookup{
		"different self link": {result: core.WebFingerResult{
			Subject: "acct:alice@remote.example",
			SelfURI: "https://remote.example/users/mallory",
		}},
		"no self link": {result: core.WebFingerResult{
			Subject: "acct:alice@remote.example",
		}},
		"lookup failure": {err: errors.New("no such host")},
		"garbled subject": {result: core.WebFingerResult{
			Subject: "not-a-subject",
			SelfURI: "https://remote.example/users/alice",
		}},
	}
	for name, lookup := range cases {
		normalizer := NewNormalizer(Config{Lookup: lookup})
		_, err := normalizer.Normalize(context.Background(), "https://remote.example/users/alice")
		if !errors.Is(err, core.ErrIdentityMismatch) {
			t.Fatalf("%s: expected identity mismatch, got %v", name, err)
		}
	}
}

func TestNormalizer_Normalize_TimeoutStaysRetryable(t *testing.T) {
	normalizer := NewNormalizer(Config{Lookup: staticLookup{
		err: core.NewTimeoutError("identity: webfinger request timed out", nil),
	}})
	_, err := normalizer.Normalize(context.Background(), "https://remote.example/users/alice")
	if !errors.Is(err, core.ErrTimeout) {
		t.Fatalf("expected timeout to propagate, got %v", err)
	}
	if !core.Retryable(err) {
		t.Fatal("discovery timeouts must stay retryable")
	}
}

func TestCanonicalHost(t *testing.T) {
	host, err := CanonicalHost("Remote.Example")
	if err != nil {
		t.Fatalf("canonical host: %v", err)
	}
	if host != "remote.example" {
		t.Fatalf("expected lowercase, got %q", host)
	}
	if _, err := CanonicalHost(""); err == nil {
		t.Fatal("empty host must fail")
	}
}

func TestWebFingerClient_Lookup(t *testing.T) {
	var requestedResource string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/webfinger" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		requestedResource = r.URL.Query().Get("resource")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"subject": "acct:alice@remote.example",
			"links": []map[string]any{
				{"rel": "http://webfinger.net/rel/profile-page", "href": "https://remote.example/@alice"},
				{"rel": "self", "type": "application/activity+json", "href": "https://remote.example/users/alice"},
			},
		})
	}))
	defer server.Close()

	serverURL, _ := url.Parse(server.URL)
	actorURI := fmt.Sprintf("http://%s/users/alice", serverURL.Host)

	client := NewWebFingerClient(rewriteSchemeDoer{inner: server.Client()}, 0)
	result, err := client.Lookup(context.Background(), actorURI)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if requestedResource != actorURI {
		t.Fatalf("expected resource %q, got %q", actorURI, requestedResource)
	}
	if result.Subject != "acct:alice@remote.example" {
		t.Fatalf("unexpected subject %q", result.Subject)
	}
	if result.SelfURI != "https://remote.example/users/alice" {
		t.Fatalf("expected the self link, got %q", result.SelfURI)
	}
}

// rewriteSchemeDoer downgrades the https webfinger template to the httptest
// server's http listener.
type rewriteSchemeDoer struct {
	inner *http.Client
}

func (d rewriteSchemeDoer) Do(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	return d.inner.Do(req)
}
