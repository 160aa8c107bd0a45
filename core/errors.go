package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	FederationErrorInvalidActor     = "FEDERATION_INVALID_ACTOR"
	FederationErrorAlreadyExists    = "FEDERATION_ACTOR_ALREADY_EXISTS"
	FederationErrorIdentityMismatch = "FEDERATION_IDENTITY_MISMATCH"
	FederationErrorCycleDetected    = "FEDERATION_CYCLE_DETECTED"
	FederationErrorDepthExceeded    = "FEDERATION_DEPTH_EXCEEDED"
	FederationErrorTimeout          = "FEDERATION_TIMEOUT"
	FederationErrorSignatureInvalid = "FEDERATION_SIGNATURE_INVALID"
	FederationErrorBadInput         = "FEDERATION_BAD_INPUT"
	FederationErrorNotFound         = "FEDERATION_NOT_FOUND"
	FederationErrorInternal         = "FEDERATION_INTERNAL_ERROR"
)

// Sentinels for programmatic checks. The goerrors envelopes built by the
// helpers below wrap these so errors.Is keeps working across package
// boundaries.
var (
	ErrInvalidActor     = errors.New("core: invalid actor")
	ErrAlreadyExists    = errors.New("core: actor already exists")
	ErrIdentityMismatch = errors.New("core: identity mismatch")
	ErrCycleDetected    = errors.New("core: resolution cycle detected")
	ErrDepthExceeded    = errors.New("core: resolution depth exceeded")
	ErrTimeout          = errors.New("core: remote operation timed out")
	ErrSignatureInvalid = errors.New("core: signature verification failed")
)

// NewInvalidActorError marks a remote person document that fails validation.
// Permanent: refetching the same document yields the same result.
func NewInvalidActorError(message string, cause error) *goerrors.Error {
	return federationError(message, cause, ErrInvalidActor,
		goerrors.CategoryValidation, http.StatusUnprocessableEntity, FederationErrorInvalidActor)
}

// NewAlreadyExistsError reports a lost first-contact race. Callers recover by
// re-reading the winning row; this never surfaces to users.
func NewAlreadyExistsError(uri string) *goerrors.Error {
	err := federationError("core: actor already registered", nil, ErrAlreadyExists,
		goerrors.CategoryConflict, http.StatusConflict, FederationErrorAlreadyExists)
	if strings.TrimSpace(uri) != "" {
		err = err.WithMetadata(map[string]any{"uri": uri})
	}
	return err
}

// NewIdentityMismatchError covers both WebFinger disagreement and authority
// spoofing. Permanent, and logged as a security event by callers.
func NewIdentityMismatchError(message string, cause error) *goerrors.Error {
	return federationError(message, cause, ErrIdentityMismatch,
		goerrors.CategoryAuthz, http.StatusForbidden, FederationErrorIdentityMismatch)
}

func NewCycleDetectedError(id string) *goerrors.Error {
	return federationError("core: reference cycle while resolving "+id, nil, ErrCycleDetected,
		goerrors.CategoryOperation, http.StatusUnprocessableEntity, FederationErrorCycleDetected).
		WithMetadata(map[string]any{"id": id})
}

func NewDepthExceededError(depth int) *goerrors.Error {
	return federationError("core: resolution depth limit reached", nil, ErrDepthExceeded,
		goerrors.CategoryOperation, http.StatusUnprocessableEntity, FederationErrorDepthExceeded).
		WithMetadata(map[string]any{"depth": depth})
}

// NewActorNotFoundError reports a read for an actor this node does not know.
func NewActorNotFoundError(id string) *goerrors.Error {
	err := goerrors.New("core: actor not found", goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(FederationErrorNotFound)
	if strings.TrimSpace(id) != "" {
		err = err.WithMetadata(map[string]any{"id": id})
	}
	return err
}

func NewTimeoutError(message string, cause error) *goerrors.Error {
	return federationError(message, cause, ErrTimeout,
		goerrors.CategoryExternal, http.StatusGatewayTimeout, FederationErrorTimeout)
}

func NewSignatureInvalidError(message string, cause error) *goerrors.Error {
	return federationError(message, cause, ErrSignatureInvalid,
		goerrors.CategoryAuth, http.StatusUnauthorized, FederationErrorSignatureInvalid)
}

func federationError(
	message string,
	cause error,
	sentinel error,
	category goerrors.Category,
	code int,
	textCode string,
) *goerrors.Error {
	wrapped := sentinel
	if cause != nil {
		wrapped = errors.Join(sentinel, cause)
	}
	return goerrors.Wrap(wrapped, category, message).
		WithCode(code).
		WithTextCode(textCode)
}

// Retryable classifies an error for the queue: true means the task should be
// redelivered, false means the failure is terminal for this delivery.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	// Permanent classifications win over everything, including a transient
	// cause joined into the same chain.
	for _, sentinel := range []error{
		ErrInvalidActor,
		ErrIdentityMismatch,
		ErrCycleDetected,
		ErrDepthExceeded,
		ErrSignatureInvalid,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
			return true
		case goerrors.CategoryInternal:
			// Storage hiccups arrive as internal errors; give them another run.
			return true
		}
		return false
	}
	return true
}

// FederationErrorMapper folds arbitrary errors into the module's envelope so
// callers never see storage or transport error types.
func FederationErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureFederationEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrAlreadyExists):
		return NewAlreadyExistsError("")
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(err.Error(), err)
	case errors.Is(err, ErrSignatureInvalid):
		return NewSignatureInvalidError(err.Error(), err)
	case errors.Is(err, ErrIdentityMismatch):
		return NewIdentityMismatchError(err.Error(), err)
	case errors.Is(err, ErrInvalidActor):
		return NewInvalidActorError(err.Error(), err)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureFederationEnvelope(mapped)
}

func ensureFederationEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = federationHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultFederationTextCode(err.Category)
	}
	return err
}

func defaultFederationTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return FederationErrorBadInput
	case goerrors.CategoryNotFound:
		return FederationErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return FederationErrorSignatureInvalid
	case goerrors.CategoryConflict:
		return FederationErrorAlreadyExists
	case goerrors.CategoryExternal:
		return FederationErrorTimeout
	default:
		return FederationErrorInternal
	}
}

func federationHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
