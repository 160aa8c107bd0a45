package inbound

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-federation/core"
	"github.com/goliatone/go-federation/security/httpsig"
)

const defaultMaxBodyBytes = 1 << 20

// Intake is the inbox surface. It does exactly two things with a delivery:
// parse the Signature header and enqueue the raw payload. Every expensive
// step, from actor resolution to cryptographic verification, happens later
// in the processor so the HTTP connection is released immediately.
type Intake struct {
	enqueuer     core.TaskEnqueuer
	maxBodyBytes int64
	logger       core.Logger
	now          func() time.Time
}

type IntakeConfig struct {
	Enqueuer     core.TaskEnqueuer
	MaxBodyBytes int64
	Logger       core.Logger
	Provider     core.LoggerProvider
}

func NewIntake(cfg IntakeConfig) *Intake {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	_, logger := glog.Resolve("federation.inbound", cfg.Provider, cfg.Logger)
	return &Intake{
		enqueuer:     cfg.Enqueuer,
		maxBodyBytes: maxBody,
		logger:       glog.Ensure(logger),
		now:          time.Now,
	}
}

// HandleInbox accepts a POST delivery on the shared or per-actor inbox.
func (in *Intake) HandleInbox(w http.ResponseWriter, r *http.Request) {
	if in == nil || in.enqueuer == nil {
		writeError(w, inboundInternal("inbound: intake is not configured", nil))
		return
	}

	sig, err := httpsig.Parse(r.Header.Get("Signature"))
	if err != nil {
		in.logger.Info("inbox delivery rejected", "reason", "unparseable_signature", "error", err)
		writeError(w, err)
		return
	}

	// The signing string has to be captured now, while the concrete request
	// with its headers still exists. The worker only sees the task payload.
	signingString, err := httpsig.SigningString(r, sig.Headers)
	if err != nil {
		in.logger.Info("inbox delivery rejected", "reason", "incomplete_signature", "error", err)
		writeError(w, core.NewSignatureInvalidError("inbound: signed header missing from request", err))
		return
	}
	sig.SigningString = signingString

	body, err := io.ReadAll(io.LimitReader(r.Body, in.maxBodyBytes+1))
	if err != nil {
		writeError(w, inboundWrapError(err, goerrors.CategoryBadInput,
			"inbound: read delivery body", http.StatusBadRequest,
			core.FederationErrorBadInput, nil))
		return
	}
	if int64(len(body)) > in.maxBodyBytes {
		writeError(w, inboundError("inbound: delivery body exceeds limit",
			goerrors.CategoryBadInput, http.StatusRequestEntityTooLarge,
			core.FederationErrorBadInput,
			map[string]any{"limit_bytes": in.maxBodyBytes}))
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, inboundBadInput("inbound: delivery body is empty", nil))
		return
	}

	task := core.InboxTask{
		Type:       core.TaskTypeProcessInbox,
		Activity:   json.RawMessage(body),
		Signature:  sig,
		ReceivedAt: in.now().UTC(),
	}
	if err := task.Validate(); err != nil {
		writeError(w, inboundWrapError(err, goerrors.CategoryBadInput,
			"inbound: invalid delivery", http.StatusBadRequest,
			core.FederationErrorBadInput, nil))
		return
	}
	if err := in.enqueuer.Enqueue(r.Context(), task); err != nil {
		in.logger.Error("inbox enqueue failed", "key_id", sig.KeyID, "error", err)
		writeError(w, inboundWrapError(err, goerrors.CategoryOperation,
			"inbound: enqueue delivery", http.StatusInternalServerError,
			core.FederationErrorInternal, nil))
		return
	}

	in.logger.Info("inbox delivery queued", "key_id", sig.KeyID, "bytes", len(body))
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	writeBody(w, status, payload)
}

func writeBody(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	envelope := core.FederationErrorMapper(err)
	status := envelope.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message":   envelope.Message,
			"text_code": envelope.TextCode,
		},
	})
}
