// Package webhook implements a Sink that posts decoded messages to an
// HTTP endpoint authenticated by a shared secret header.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/qemail/qemail-relay/internal/email"
)

// SecretHeader carries the shared secret on every webhook request.
const SecretHeader = "X-Qemail-Secret"

// Payload formats supported by the webhook sink.
const (
	// FormatJSON posts a JSON document with the decoded fields.
	FormatJSON = "json"
	// FormatRaw posts the original message bytes as message/rfc822.
	FormatRaw = "raw"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a webhook Sink.
type Config struct {
	// URL is the endpoint to POST to.
	URL string

	// Secret is sent in the SecretHeader on every request.
	Secret string

	// Format selects the payload shape, FormatJSON or FormatRaw.
	// Empty defaults to FormatJSON.
	Format string
}

// Sink posts decoded messages to a webhook endpoint with retry and
// backoff for transient failures.
type Sink struct {
	url        string
	secret     string
	format     string
	httpClient *http.Client
}

// New creates a webhook Sink with the given configuration.
func New(cfg Config) *Sink {
	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	return &Sink{
		url:        cfg.URL,
		secret:     cfg.Secret,
		format:     format,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// newWithClient creates a Sink with a custom HTTP client, used for testing.
func newWithClient(cfg Config, client *http.Client) *Sink {
	s := New(cfg)
	s.httpClient = client
	return s
}

// payload is the JSON document posted for FormatJSON deliveries.
type payload struct {
	MessageID string          `json:"messageId"`
	From      string          `json:"from"`
	To        []string        `json:"to"`
	Subject   string          `json:"subject"`
	Headers   email.HeaderMap `json:"headers"`
	Text      string          `json:"text,omitempty"`
	HTML      string          `json:"html,omitempty"`
}

// Deliver posts the message to the configured endpoint. Transient
// failures (connection errors, 5xx, 429) are retried with exponential
// backoff, honoring a Retry-After header when present; permanent
// failures (4xx) abort immediately.
func (s *Sink) Deliver(ctx context.Context, msg *email.Message) error {
	body, contentType, err := s.encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying webhook request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := s.doPost(ctx, body, contentType)
		if err == nil {
			return nil
		}

		lastErr = err

		postErr, ok := err.(*postError)
		if !ok {
			return err
		}

		switch {
		case postErr.permanent:
			return postErr
		case postErr.statusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(postErr.retryAfter, attempt)
			slog.Info("rate limited by webhook endpoint",
				"retry_after", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case postErr.transient:
			delay := backoffDelay(attempt)
			slog.Info("transient webhook error, retrying",
				"status", postErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return postErr
		}
	}

	return fmt.Errorf("webhook request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "webhook"
}

// encode builds the request body and content type for the configured format.
func (s *Sink) encode(msg *email.Message) ([]byte, string, error) {
	if s.format == FormatRaw {
		return msg.Raw, "message/rfc822", nil
	}

	body, err := json.Marshal(payload{
		MessageID: msg.MessageID,
		From:      msg.From,
		To:        msg.To,
		Subject:   msg.Subject,
		Headers:   msg.Headers,
		Text:      msg.Text,
		HTML:      msg.HTML,
	})
	if err != nil {
		return nil, "", err
	}
	return body, "application/json", nil
}

// doPost performs a single HTTP request to the webhook endpoint.
func (s *Sink) doPost(ctx context.Context, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(SecretHeader, s.secret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &postError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return classifyError(resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
}

// postError represents a failed webhook delivery attempt with
// classification for retry logic.
type postError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *postError) Error() string {
	return fmt.Sprintf("webhook error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *postError {
	err := &postError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses the Retry-After header value and returns the
// appropriate delay, falling back to exponential backoff.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return backoffDelay(attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given
// attempt number. Delays are: 1s, 2s, 4s.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context
// is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
