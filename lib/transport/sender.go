// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/netutil"
)

// IntakePath is the collector endpoint that accepts batches.
const IntakePath = "/intake/v2/events"

// Header names used on intake requests.
const (
	HeaderDigest  = "X-Batch-Digest"
	HeaderFlushed = "X-Batch-Flushed"
)

// Sender delivers one encoded batch. Tests substitute a recording fake;
// production uses HTTPSender.
type Sender interface {
	Send(ctx context.Context, request *Request) error
}

var (
	// ErrUnauthorized means the collector rejected the agent's
	// credentials. Retrying will not help until they change.
	ErrUnauthorized = errors.New("collector rejected credentials")

	// ErrIntakeNotFound means the collector has no intake endpoint at
	// the configured URL.
	ErrIntakeNotFound = errors.New("collector intake endpoint not found")
)

// RequestError is a non-2xx collector response.
type RequestError struct {
	StatusCode int
	URL        string

	// Message is the start of the response body.
	Message string

	kind error
}

func (e *RequestError) Error() string {
	var description string
	switch {
	case errors.Is(e.kind, ErrIntakeNotFound):
		description = fmt.Sprintf("%s returned 404: intake endpoint not found, "+
			"check that server_url points at a collector and not at a path below it", e.URL)
	case errors.Is(e.kind, ErrUnauthorized):
		description = fmt.Sprintf("%s returned %d: credentials rejected, check secret_token or api_key", e.URL, e.StatusCode)
	default:
		description = fmt.Sprintf("%s returned %d", e.URL, e.StatusCode)
	}
	if e.Message != "" {
		description += ": " + e.Message
	}
	return description
}

// Unwrap exposes ErrUnauthorized or ErrIntakeNotFound for fatal
// responses.
func (e *RequestError) Unwrap() error { return e.kind }

// Fatal reports whether the response will repeat on retry (bad
// credentials or a wrong endpoint) rather than being transient.
func (e *RequestError) Fatal() bool { return e.kind != nil }

// IsFatal reports whether err is a fatal collector response.
func IsFatal(err error) bool {
	var requestError *RequestError
	return errors.As(err, &requestError) && requestError.Fatal()
}

// responseError builds the error for a non-2xx status.
func responseError(url string, status int, body []byte) *RequestError {
	requestError := &RequestError{
		StatusCode: status,
		URL:        url,
		Message:    strings.TrimSpace(string(body)),
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		requestError.kind = ErrUnauthorized
	case http.StatusNotFound:
		requestError.kind = ErrIntakeNotFound
	}
	return requestError
}

// HTTPSenderOptions configures an HTTPSender.
type HTTPSenderOptions struct {
	ServerURL   string
	SecretToken string
	APIKey      string
	UserAgent   string

	// Client defaults to a new http.Client. Per-request deadlines come
	// from the context passed to Send.
	Client *http.Client
}

// HTTPSender posts batches to the collector's intake endpoint.
type HTTPSender struct {
	client        *http.Client
	url           string
	authorization string
	userAgent     string
}

// NewHTTPSender validates the server URL and returns a sender for it.
func NewHTTPSender(options HTTPSenderOptions) (*HTTPSender, error) {
	base, err := config.ParseURL(options.ServerURL)
	if err != nil {
		return nil, err
	}
	client := options.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{
		client:        client,
		url:           base.JoinPath(IntakePath).String(),
		authorization: authorization(options.SecretToken, options.APIKey),
		userAgent:     options.UserAgent,
	}, nil
}

// authorization renders the Authorization header. An API key takes
// precedence over a secret token.
func authorization(secretToken, apiKey string) string {
	switch {
	case apiKey != "":
		return "ApiKey " + apiKey
	case secretToken != "":
		return "Bearer " + secretToken
	}
	return ""
}

func (s *HTTPSender) Send(ctx context.Context, request *Request) error {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(request.Body))
	if err != nil {
		return fmt.Errorf("building intake request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", ContentType)
	if request.Encoding != "" {
		httpRequest.Header.Set("Content-Encoding", request.Encoding)
	}
	httpRequest.Header.Set(HeaderDigest, request.Digest)
	if request.Flushed {
		httpRequest.Header.Set(HeaderFlushed, "true")
	}
	if s.authorization != "" {
		httpRequest.Header.Set("Authorization", s.authorization)
	}
	if s.userAgent != "" {
		httpRequest.Header.Set("User-Agent", s.userAgent)
	}

	response, err := s.client.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("sending batch to %s: %w", s.url, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		io.Copy(io.Discard, response.Body)
		return nil
	}
	return responseError(s.url, response.StatusCode, netutil.ErrorBody(response.Body))
}
