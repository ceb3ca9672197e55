// Package forward implements a Sink that re-injects the original message
// to a forwarding recipient via AWS SES v2.
package forward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/qemail/qemail-relay/internal/email"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Resolver maps an inbound recipient address to its forwarding address.
type Resolver interface {
	Resolve(ctx context.Context, recipient string) (string, error)
}

// Config holds the configuration for creating a forward Sink.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender is the verified SES identity the forward is sent from.
	Sender string

	// DefaultRecipient receives the forward when no resolver is
	// configured or resolution fails.
	DefaultRecipient string
}

// Sink forwards the raw message bytes via the AWS SES v2 API. The
// original message is re-injected unchanged, so all MIME structure
// survives the hop.
type Sink struct {
	sender           string
	defaultRecipient string
	resolver         Resolver
	client           SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a forward Sink with the given configuration. The resolver
// may be nil, in which case every forward goes to DefaultRecipient.
func New(ctx context.Context, cfg Config, resolver Resolver) (*Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Sink{
		sender:           cfg.Sender,
		defaultRecipient: cfg.DefaultRecipient,
		resolver:         resolver,
		client:           sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a Sink with a custom client, used for testing.
func NewWithClient(sender, defaultRecipient string, resolver Resolver, client SendEmailAPI) *Sink {
	return &Sink{
		sender:           sender,
		defaultRecipient: defaultRecipient,
		resolver:         resolver,
		client:           client,
	}
}

// Deliver forwards the original message bytes to the resolved recipient.
func (s *Sink) Deliver(ctx context.Context, msg *email.Message) error {
	recipient := s.resolveRecipient(ctx, msg)
	if recipient == "" {
		return fmt.Errorf("no forwarding recipient for message %s", msg.MessageID)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Raw,
			},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES forward",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			delay := backoffDelay(attempt - 1)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES forward failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "forward"
}

// resolveRecipient asks the resolver for the forwarding address of the
// first envelope recipient, falling back to the static default when no
// resolver is configured or resolution fails.
func (s *Sink) resolveRecipient(ctx context.Context, msg *email.Message) string {
	if s.resolver == nil || len(msg.To) == 0 {
		return s.defaultRecipient
	}

	resolved, err := s.resolver.Resolve(ctx, msg.To[0])
	if err != nil {
		slog.Warn("forward address lookup failed, using default",
			"recipient", msg.To[0],
			"error", err,
		)
		return s.defaultRecipient
	}
	if resolved == "" {
		return s.defaultRecipient
	}
	return resolved
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
