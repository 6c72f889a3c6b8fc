package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/loomlabs/loom/internal/backoff"
	"github.com/loomlabs/loom/pkg/models"
)

// scriptedTransport returns canned responses in order, recording requests.
type scriptedTransport struct {
	responses []*http.Response
	errs      []error
	requests  []*http.Request
	bodies    []string
	calls     atomic.Int64
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := int(s.calls.Add(1)) - 1
	s.requests = append(s.requests, req)
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(data))
	} else {
		s.bodies = append(s.bodies, "")
	}
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n < len(s.responses) {
		return s.responses[n], nil
	}
	return response(200, ""), nil
}

func response(status int, body string, headers ...string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	for i := 0; i+1 < len(headers); i += 2 {
		resp.Header.Set(headers[i], headers[i+1])
	}
	return resp
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{Base: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, MaxRetries: 3}
}

func TestRetryingTransportRetriesThenSucceeds(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		response(429, `{"error":"slow down"}`),
		response(500, "oops"),
		response(200, "ok"),
	}}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy()}

	req, _ := http.NewRequest(http.MethodPost, "http://api.test/v1/chat/completions",
		bytes.NewReader([]byte(`{"messages":[]}`)))
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := base.calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	// Each attempt must carry a replayable copy of the body.
	for i, body := range base.bodies {
		if body != `{"messages":[]}` {
			t.Errorf("attempt %d body = %q", i, body)
		}
	}
}

func TestRetryingTransportExhaustsRetries(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		response(500, "oops"),
		response(500, "oops"),
		response(500, "oops"),
		response(500, "oops"),
	}}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy()}

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/v1/models", nil)
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, backoff.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 500 {
		t.Errorf("err = %v, want wrapped HTTPError 500", err)
	}
	if got := base.calls.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
}

func TestRetryingTransportHonorsRetryAfter(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		response(429, "slow down", "Retry-After", "0"),
		response(200, "ok"),
	}}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy()}

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/v1/models", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRetryingTransportDoesNotRetryClientErrors(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{response(400, "bad request")}}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy()}

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/v1/models", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if got := base.calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestRetryingTransportRetriesConnectionErrors(t *testing.T) {
	base := &scriptedTransport{
		errs:      []error{&net.OpError{Op: "dial", Err: errors.New("connection refused")}},
		responses: []*http.Response{nil, response(200, "ok")},
	}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy()}

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/v1/models", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := base.calls.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestRetryingTransportInjectsAPIKey(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{response(200, "")}}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy(), APIKey: "sk-test", Headers: map[string]string{"X-Custom": "yes"}}

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/v1/models", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	sent := base.requests[0]
	if got := sent.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := sent.Header.Get("X-Custom"); got != "yes" {
		t.Errorf("X-Custom = %q", got)
	}
}

// countingTokenSource hands out a new token per underlying fetch.
type countingTokenSource struct {
	fetches atomic.Int64
}

func (s *countingTokenSource) Token() (*oauth2.Token, error) {
	n := s.fetches.Add(1)
	return &oauth2.Token{
		AccessToken: "tok-" + string(rune('0'+n)),
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func TestRetryingTransportRefreshesOnceOn401(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		response(401, "expired"),
		response(200, "ok"),
	}}
	src := &countingTokenSource{}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy(), TokenSource: src}

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/v1/models", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	first := base.requests[0].Header.Get("Authorization")
	second := base.requests[1].Header.Get("Authorization")
	if first == second {
		t.Errorf("token not refreshed: %q == %q", first, second)
	}
}

func TestRetryingTransportSecond401Surfaces(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{
		response(401, "expired"),
		response(401, "still expired"),
	}}
	rt := &RetryingTransport{Base: base, Policy: fastPolicy(), TokenSource: &countingTokenSource{}}

	req, _ := http.NewRequest(http.MethodGet, "http://api.test/v1/models", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 401 {
		t.Errorf("status = %d, want 401 surfaced after single refresh", resp.StatusCode)
	}
	if got := base.calls.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestInitiatorTransport(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"last is user", `{"messages":[{"role":"system"},{"role":"user"}]}`, "user"},
		{"last is tool", `{"messages":[{"role":"user"},{"role":"assistant"},{"role":"tool"}]}`, "agent"},
		{"trailing system skipped", `{"messages":[{"role":"user"},{"role":"system"}]}`, "user"},
		{"empty", `{"messages":[]}`, "agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &scriptedTransport{responses: []*http.Response{response(200, "")}}
			rt := &RetryingTransport{Base: &InitiatorTransport{Base: base}, Policy: fastPolicy()}

			req, _ := http.NewRequest(http.MethodPost, "http://api.test/v1/chat/completions",
				bytes.NewReader([]byte(tt.body)))
			if _, err := rt.RoundTrip(req); err != nil {
				t.Fatalf("RoundTrip: %v", err)
			}
			if got := base.requests[0].Header.Get("X-Initiator"); got != tt.want {
				t.Errorf("X-Initiator = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPErrorCategory(t *testing.T) {
	tests := []struct {
		code int
		want models.ErrorCategory
	}{
		{401, models.ErrUnauthenticated},
		{403, models.ErrPermissionDenied},
		{404, models.ErrNotFound},
		{429, models.ErrRateLimit},
		{408, models.ErrTimeout},
		{504, models.ErrTimeout},
		{500, models.ErrNetwork},
		{422, models.ErrInvalidInput},
	}
	for _, tt := range tests {
		err := &HTTPError{StatusCode: tt.code, Status: http.StatusText(tt.code)}
		if got := models.CategoryOf(err); got != tt.want {
			t.Errorf("status %d category = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !RetryableStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		if RetryableStatus(code) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
}
