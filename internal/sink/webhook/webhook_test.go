package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qemail/qemail-relay/internal/email"
)

func testMessage() *email.Message {
	h := make(email.HeaderMap)
	h.Add("Subject", "Test Subject")
	h.Add("Received", "hop one")
	h.Add("Received", "hop two")

	return &email.Message{
		From:      "sender@example.com",
		To:        []string{"rcpt@example.com"},
		Subject:   "Test Subject",
		MessageID: "<id123@example.com>",
		Headers:   h,
		Text:      "plain body",
		HTML:      "<p>html body</p>",
		Raw:       []byte("Subject: Test Subject\r\n\r\nplain body"),
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	s := New(Config{URL: "http://example.com", Secret: "x"})
	if got := s.Name(); got != "webhook" {
		t.Errorf("Name(): got %q, want %q", got, "webhook")
	}
}

func TestDeliver_JSONPayload(t *testing.T) {
	t.Parallel()

	var gotSecret, gotContentType string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(SecretHeader)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newWithClient(Config{URL: server.URL, Secret: "hunter2"}, server.Client())

	if err := s.Deliver(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotSecret != "hunter2" {
		t.Errorf("secret header: got %q, want %q", gotSecret, "hunter2")
	}
	if gotContentType != "application/json" {
		t.Errorf("content type: got %q, want %q", gotContentType, "application/json")
	}

	var decoded map[string]any
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded["messageId"] != "<id123@example.com>" {
		t.Errorf("messageId: got %v", decoded["messageId"])
	}
	if decoded["subject"] != "Test Subject" {
		t.Errorf("subject: got %v", decoded["subject"])
	}
	if decoded["text"] != "plain body" {
		t.Errorf("text: got %v", decoded["text"])
	}
	if decoded["html"] != "<p>html body</p>" {
		t.Errorf("html: got %v", decoded["html"])
	}

	// Single-valued headers marshal as scalars, repeats as arrays.
	headers, ok := decoded["headers"].(map[string]any)
	if !ok {
		t.Fatalf("headers: got %T, want object", decoded["headers"])
	}
	if headers["subject"] != "Test Subject" {
		t.Errorf("headers.subject: got %v, want scalar string", headers["subject"])
	}
	if received, ok := headers["received"].([]any); !ok || len(received) != 2 {
		t.Errorf("headers.received: got %v, want two-element array", headers["received"])
	}
}

func TestDeliver_JSONOmitsEmptyBodies(t *testing.T) {
	t.Parallel()

	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newWithClient(Config{URL: server.URL, Secret: "x"}, server.Client())

	msg := testMessage()
	msg.Text = ""
	msg.HTML = ""

	if err := s.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := string(gotBody)
	if strings.Contains(body, `"text"`) || strings.Contains(body, `"html"`) {
		t.Errorf("payload should omit empty text/html: %s", body)
	}
}

func TestDeliver_RawPayload(t *testing.T) {
	t.Parallel()

	var gotContentType string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := newWithClient(Config{URL: server.URL, Secret: "x", Format: FormatRaw}, server.Client())

	msg := testMessage()
	if err := s.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotContentType != "message/rfc822" {
		t.Errorf("content type: got %q, want %q", gotContentType, "message/rfc822")
	}
	if string(gotBody) != string(msg.Raw) {
		t.Errorf("body: got %q, want raw message bytes", gotBody)
	}
}

func TestDeliver_PermanentErrorNoRetry(t *testing.T) {
	t.Parallel()

	var callCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	s := newWithClient(Config{URL: server.URL, Secret: "x"}, server.Client())

	err := s.Deliver(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if callCount.Load() != 1 {
		t.Errorf("call count: got %d, want 1 (no retry on permanent error)", callCount.Load())
	}
}

func TestDeliver_RetryOn5xx(t *testing.T) {
	t.Parallel()

	var callCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newWithClient(Config{URL: server.URL, Secret: "x"}, server.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Deliver(ctx, testMessage()); err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if callCount.Load() != 3 {
		t.Errorf("call count: got %d, want 3 (2 failures + 1 success)", callCount.Load())
	}
}

func TestDeliver_RateLimitWithRetryAfter(t *testing.T) {
	t.Parallel()

	var callCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newWithClient(Config{URL: server.URL, Secret: "x"}, server.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Deliver(ctx, testMessage()); err != nil {
		t.Fatalf("expected success after rate limit retry, got: %v", err)
	}
	if callCount.Load() != 2 {
		t.Errorf("call count: got %d, want 2", callCount.Load())
	}
}

func TestDeliver_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := newWithClient(Config{URL: server.URL, Secret: "x"}, server.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Deliver(ctx, testMessage())
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		permanent bool
		transient bool
	}{
		{status: http.StatusBadRequest, permanent: true},
		{status: http.StatusUnauthorized, permanent: true},
		{status: http.StatusForbidden, permanent: true},
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusInternalServerError, transient: true},
		{status: http.StatusServiceUnavailable, transient: true},
	}

	for _, tt := range tests {
		got := classifyError(tt.status, "msg", "")
		if got.permanent != tt.permanent {
			t.Errorf("classifyError(%d).permanent: got %v, want %v", tt.status, got.permanent, tt.permanent)
		}
		if got.transient != tt.transient {
			t.Errorf("classifyError(%d).transient: got %v, want %v", tt.status, got.transient, tt.transient)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1 * time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
