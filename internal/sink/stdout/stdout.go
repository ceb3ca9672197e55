// Package stdout implements a Sink that prints decoded messages to
// standard output, for development and debugging.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/qemail/qemail-relay/internal/email"
)

// Sink prints decoded messages to stdout in a human-readable format.
type Sink struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Sink that writes to os.Stdout.
func New() *Sink {
	return &Sink{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Sink that writes to the given
// writer. This is useful for testing.
func NewWithWriter(w io.Writer) *Sink {
	return &Sink{writer: w}
}

// Deliver prints the decoded message in a readable format.
// It always returns nil (success).
func (s *Sink) Deliver(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("Message-Id: %s\n", msg.MessageID))
	b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))

	if msg.Text != "" {
		b.WriteString("Text:\n")
		b.WriteString(msg.Text + "\n")
	}
	if msg.HTML != "" {
		b.WriteString("HTML:\n")
		b.WriteString(msg.HTML + "\n")
	}

	b.WriteString("========================================\n")

	// A failed write to stdout is not a delivery failure.
	fmt.Fprint(s.writer, b.String())
	return nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "stdout"
}
