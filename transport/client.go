// Package transport implements the outbound fetch side of federation: GET an
// object's id with ActivityPub content negotiation, bounded redirects and a
// response body cap.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-federation/core"
)

// AcceptActivityJSON advertises both the strict and legacy protocol media
// types on every outbound object fetch.
const AcceptActivityJSON = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

const (
	defaultRequestTimeout = 10 * time.Second
	defaultMaxObjectBytes = 1 << 20 // 1 MiB
	defaultMaxRedirects   = 8
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	HTTPClient     HTTPDoer
	RequestTimeout time.Duration
	MaxObjectBytes int64
	MaxRedirects   int
	UserAgent      string
}

// Client fetches remote objects. It satisfies core.ObjectFetcher.
type Client struct {
	httpClient     HTTPDoer
	requestTimeout time.Duration
	maxObjectBytes int64
	userAgent      string
}

func NewClient(cfg Config) *Client {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	maxObjectBytes := cfg.MaxObjectBytes
	if maxObjectBytes <= 0 {
		maxObjectBytes = defaultMaxObjectBytes
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("transport: stopped after %d redirects", maxRedirects)
				}
				// A redirect must not downgrade to cleartext.
				if via[0].URL.Scheme == "https" && req.URL.Scheme != "https" {
					return fmt.Errorf("transport: refusing redirect to %s", req.URL.Scheme)
				}
				return nil
			},
		}
	}
	return &Client{
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
		maxObjectBytes: maxObjectBytes,
		userAgent:      strings.TrimSpace(cfg.UserAgent),
	}
}

// Fetch GETs url requesting the protocol content type and returns the raw
// payload. Timeouts surface as core timeout errors so the queue can retry.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if c == nil {
		return nil, transportError("transport: client is not configured",
			goerrors.CategoryInternal, http.StatusInternalServerError, nil)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, transportError("transport: url is required",
			goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput,
			"transport: create object request", http.StatusBadRequest,
			map[string]any{"url": url})
	}
	req.Header.Set("Accept", AcceptActivityJSON)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || requestCtx.Err() != nil {
			return nil, core.NewTimeoutError("transport: object fetch timed out", err)
		}
		return nil, transportWrapError(err, goerrors.CategoryExternal,
			"transport: execute object fetch", http.StatusBadGateway,
			map[string]any{"url": url})
	}
	defer res.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(res.Body, c.maxObjectBytes+1))
	if readErr != nil {
		if errors.Is(readErr, context.DeadlineExceeded) || requestCtx.Err() != nil {
			return nil, core.NewTimeoutError("transport: object read timed out", readErr)
		}
		return nil, transportWrapError(readErr, goerrors.CategoryExternal,
			"transport: read object response", http.StatusBadGateway,
			map[string]any{"url": url})
	}
	if int64(len(body)) > c.maxObjectBytes {
		return nil, transportError(
			fmt.Sprintf("transport: object exceeds %d bytes", c.maxObjectBytes),
			goerrors.CategoryExternal, http.StatusBadGateway,
			map[string]any{"url": url})
	}
	if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone {
		return nil, transportError(
			fmt.Sprintf("transport: object fetch returned status %d", res.StatusCode),
			goerrors.CategoryNotFound, http.StatusNotFound,
			map[string]any{"url": url, "status_code": res.StatusCode})
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, transportError(
			fmt.Sprintf("transport: object fetch returned status %d", res.StatusCode),
			goerrors.CategoryExternal, http.StatusBadGateway,
			map[string]any{"url": url, "status_code": res.StatusCode})
	}
	return body, nil
}

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.FederationErrorBadInput
	case goerrors.CategoryNotFound:
		return core.FederationErrorNotFound
	case goerrors.CategoryExternal:
		return core.FederationErrorTimeout
	default:
		return core.FederationErrorInternal
	}
}
