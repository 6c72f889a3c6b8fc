package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/loomlabs/loom/internal/backoff"
)

// RetryingTransport is an http.RoundTripper that injects auth headers and
// retries transient failures with exponential backoff. It is installed under
// the provider SDK clients so every outbound LLM request shares one retry
// discipline.
//
// Retries happen on 429, 500, 502, 503, 504, connection errors and DNS
// failures. A Retry-After header overrides the computed delay. Once a
// response body has been handed to the caller no retry can occur, which is
// what keeps partially consumed streams from being replayed.
type RetryingTransport struct {
	Base    http.RoundTripper
	Policy  backoff.Policy
	Headers map[string]string

	// TokenSource, when set, supplies Bearer tokens. A 401 triggers one
	// forced refresh followed by a single retry.
	TokenSource oauth2.TokenSource

	// APIKey is a static bearer credential used when TokenSource is nil.
	APIKey string

	Logger *slog.Logger
}

func (t *RetryingTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *RetryingTransport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RoundTrip implements http.RoundTripper. Each attempt is one trip through
// backoff.Retry; retryable statuses become HTTPError values so the policy
// decides delays, with Retry-After carried as a delay override.
func (t *RetryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	refreshed := false
	return backoff.Retry(req.Context(), t.Policy, retryableFailure,
		func(ctx context.Context, attempt int) (*http.Response, error) {
			if attempt > 0 {
				t.logger().Debug("retrying request", "url", req.URL.Path, "attempt", attempt)
			}
			resp, err := t.attempt(req, refreshed)
			if err != nil {
				return nil, err
			}

			if resp.StatusCode == http.StatusUnauthorized && t.TokenSource != nil && !refreshed {
				// One credential refresh followed by a single immediate
				// retry; it does not consume a backoff attempt.
				drainAndClose(resp.Body)
				refreshed = true
				t.logger().Debug("credential refresh after 401", "url", req.URL.Path)
				resp, err = t.attempt(req, true)
				if err != nil {
					return nil, err
				}
			}

			if RetryableStatus(resp.StatusCode) {
				httpErr := newHTTPError(resp)
				drainAndClose(resp.Body)
				if d, ok := backoff.RetryAfter(httpErr.RetryAfter); ok {
					return nil, &backoff.RetryAfterError{Delay: d, Err: httpErr}
				}
				return nil, httpErr
			}
			return resp, nil
		})
}

// attempt issues one clone of req, with auth and extra headers applied.
func (t *RetryingTransport) attempt(req *http.Request, forceRefresh bool) (*http.Response, error) {
	attemptReq, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	if err := t.authorize(attemptReq, forceRefresh); err != nil {
		return nil, err
	}
	for k, v := range t.Headers {
		attemptReq.Header.Set(k, v)
	}
	return t.base().RoundTrip(attemptReq)
}

// retryableFailure classifies an attempt error: retryable HTTP statuses and
// transient connection failures warrant another attempt.
func retryableFailure(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return RetryableStatus(httpErr.StatusCode)
	}
	return RetryableError(err)
}

func (t *RetryingTransport) authorize(req *http.Request, forceRefresh bool) error {
	switch {
	case t.TokenSource != nil:
		tok, err := t.TokenSource.Token()
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}
		if forceRefresh {
			// oauth2 caches until expiry; invalidate by re-reading through a
			// ReuseTokenSource built from an expired copy.
			expired := *tok
			expired.Expiry = time.Now().Add(-time.Minute)
			tok, err = oauth2.ReuseTokenSource(&expired, t.TokenSource).Token()
			if err != nil {
				return fmt.Errorf("refresh token: %w", err)
			}
		}
		tok.SetAuthHeader(req)
	case t.APIKey != "" && req.Header.Get("Authorization") == "":
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}
	return nil
}

func newHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       compactBody(body),
		RetryAfter: resp.Header.Get("Retry-After"),
	}
}

func compactBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		// Single-shot body: buffer it so later attempts can replay.
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	clone.GetBody = req.GetBody
	return clone, nil
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4096)) //nolint:errcheck
	body.Close()
}

// InitiatorTransport sets the X-Initiator header required by the Copilot
// chat API: "user" iff the last non-system message in the outbound payload
// has role user, "agent" otherwise.
type InitiatorTransport struct {
	Base http.RoundTripper
}

func (t *InitiatorTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *InitiatorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/chat/completions") && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			initiator := initiatorFromBody(body)
			body.Close()
			req.Header.Set("X-Initiator", initiator)
		}
	}
	return t.base().RoundTrip(req)
}

func initiatorFromBody(body io.Reader) string {
	var payload struct {
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return "agent"
	}
	for i := len(payload.Messages) - 1; i >= 0; i-- {
		if payload.Messages[i].Role != "system" {
			if payload.Messages[i].Role == "user" {
				return "user"
			}
			return "agent"
		}
	}
	return "agent"
}
