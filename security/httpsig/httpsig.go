// Package httpsig implements the draft-cavage HTTP signature scheme used for
// server-to-server authentication: syntactic header parsing at intake time
// and RSA-SHA256 verification once the signing actor's key is known.
package httpsig

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-federation/core"
)

const (
	// RequestTargetHeader is the pseudo-header covering method and path.
	RequestTargetHeader = "(request-target)"

	defaultAlgorithm = "rsa-sha256"
)

// Parse performs the syntactic parse of a Signature header. It never touches
// the network and never verifies anything cryptographic.
func Parse(header string) (core.SignatureContext, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return core.SignatureContext{}, core.NewSignatureInvalidError(
			"httpsig: signature header is missing", nil)
	}
	// Tolerate the authorization-style prefix some implementations send.
	header = strings.TrimSpace(strings.TrimPrefix(header, "Signature "))

	params := map[string]string{}
	for _, part := range splitParams(header) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return core.SignatureContext{}, core.NewSignatureInvalidError(
				fmt.Sprintf("httpsig: malformed signature parameter %q", part), nil)
		}
		params[strings.ToLower(strings.TrimSpace(key))] = strings.Trim(strings.TrimSpace(value), `"`)
	}

	keyID := strings.TrimSpace(params["keyid"])
	if keyID == "" {
		return core.SignatureContext{}, core.NewSignatureInvalidError(
			"httpsig: keyId is required", nil)
	}
	encoded := strings.TrimSpace(params["signature"])
	if encoded == "" {
		return core.SignatureContext{}, core.NewSignatureInvalidError(
			"httpsig: signature is required", nil)
	}
	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return core.SignatureContext{}, core.NewSignatureInvalidError(
			"httpsig: signature is not valid base64", err)
	}

	algorithm := strings.ToLower(strings.TrimSpace(params["algorithm"]))
	if algorithm == "" {
		algorithm = defaultAlgorithm
	}

	headerList := strings.Fields(strings.ToLower(strings.TrimSpace(params["headers"])))
	if len(headerList) == 0 {
		// Per draft-cavage, an absent headers parameter means Date only.
		headerList = []string{"date"}
	}

	return core.SignatureContext{
		KeyID:     keyID,
		Algorithm: algorithm,
		Headers:   headerList,
		Signature: signature,
	}, nil
}

// SigningString reconstructs the exact bytes the sender signed, from the
// request and the ordered header list of the signature.
func SigningString(r *http.Request, headers []string) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("httpsig: request is required")
	}
	lines := make([]string, 0, len(headers))
	for _, name := range headers {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case RequestTargetHeader:
			lines = append(lines, fmt.Sprintf("%s: %s %s",
				RequestTargetHeader, strings.ToLower(r.Method), r.URL.RequestURI()))
		case "host":
			host := r.Host
			if host == "" {
				host = r.Header.Get("Host")
			}
			lines = append(lines, "host: "+host)
		default:
			value := r.Header.Get(name)
			if value == "" {
				return nil, fmt.Errorf("httpsig: signed header %q is absent", name)
			}
			lines = append(lines, name+": "+strings.TrimSpace(value))
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("httpsig: no signable headers")
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// Verify checks the signature against the actor's stored public key over the
// originally received signing string. Failure is permanent for the delivery.
func Verify(sig core.SignatureContext, publicKeyPEM string) error {
	switch sig.Algorithm {
	case defaultAlgorithm, "hs2019", "":
		// hs2019 deliveries in the wild are RSA-SHA256 in practice.
	default:
		return core.NewSignatureInvalidError(
			fmt.Sprintf("httpsig: unsupported algorithm %q", sig.Algorithm), nil)
	}
	if len(sig.SigningString) == 0 {
		return core.NewSignatureInvalidError("httpsig: signing string is empty", nil)
	}

	publicKey, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return core.NewSignatureInvalidError("httpsig: unusable public key", err)
	}

	digest := sha256.Sum256(sig.SigningString)
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], sig.Signature); err != nil {
		return core.NewSignatureInvalidError("httpsig: signature verification failed", err)
	}
	return nil
}

func parseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, fmt.Errorf("httpsig: no pem block found")
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("httpsig: public key is not rsa")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse public key: %w", err)
	}
	return rsaKey, nil
}

// splitParams splits the comma-separated parameter list, honoring quoted
// values (base64 signatures may not contain commas, but headers lists are
// quoted strings with spaces).
func splitParams(header string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	for _, r := range header {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ',' && !inQuotes:
			if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
				parts = append(parts, trimmed)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		parts = append(parts, trimmed)
	}
	return parts
}
