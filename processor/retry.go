package processor

import (
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-federation/core"
)

// RetryPolicy maps an attempt count to the delay before redelivery.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 5 * time.Minute
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// processorMalformed marks a payload defect. Validation failures never retry:
// the same bytes decode the same way on every attempt.
func processorMalformed(message string, cause error) error {
	return goerrors.Wrap(cause, goerrors.CategoryValidation, message).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(core.FederationErrorBadInput)
}

// processorUnsupported marks an activity type outside the handled set.
// Terminal: the type cannot change on redelivery.
func processorUnsupported(activityType string) error {
	return goerrors.New("processor: unsupported activity type", goerrors.CategoryValidation).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(core.FederationErrorBadInput).
		WithMetadata(map[string]any{"activity_type": activityType})
}

func processorInternal(message string, cause error) error {
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.FederationErrorInternal)
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.FederationErrorInternal)
}
