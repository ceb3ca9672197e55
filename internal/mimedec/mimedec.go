// Package mimedec implements the MIME decoding engine for inbound mail:
// recursive multipart boundary splitting, heuristic transfer decoding
// (base64 and quoted-printable), and header extraction with folding.
//
// The engine is deliberately forgiving: every input, however malformed,
// yields some result. Structural problems (missing blank line, missing
// boundary parameter) degrade to absent content for the affected part
// rather than failing the whole message.
package mimedec

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qemail/qemail-relay/internal/email"
)

// defaultMaxDepth caps multipart nesting. Real mail rarely nests more
// than five levels; beyond the cap a multipart body is decoded as
// opaque text instead of recursing.
const defaultMaxDepth = 20

// noSubject is the subject reported when the header is absent or blank.
const noSubject = "(No Subject)"

// Decoder turns a raw part body into decoded text. The default is
// HeuristicDecode; substitute an implementation that inspects
// Content-Transfer-Encoding to switch to header-driven decoding without
// touching the recursion or dispatch logic.
type Decoder func(body string) string

// Content is the accumulated result of decoding one message tree.
// A nil field means no part of that kind was found.
type Content struct {
	Text *string
	HTML *string
}

// merge folds another accumulator into this one, concatenating in
// encounter order when both sides carry the same kind.
func (c *Content) merge(o Content) {
	c.Text = appendPart(c.Text, o.Text)
	c.HTML = appendPart(c.HTML, o.HTML)
}

func appendPart(dst, src *string) *string {
	if src == nil {
		return dst
	}
	if dst == nil {
		return src
	}
	joined := *dst + *src
	return &joined
}

// Engine decodes raw messages. The zero-config Engine from New is ready
// to use and safe for concurrent use; it holds no per-message state.
type Engine struct {
	decoder  Decoder
	maxDepth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecoder replaces the transfer-decoding strategy.
func WithDecoder(d Decoder) Option {
	return func(e *Engine) { e.decoder = d }
}

// WithMaxDepth overrides the multipart nesting cap.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// New creates an Engine with the heuristic decoder and default depth cap.
func New(opts ...Option) *Engine {
	e := &Engine{
		decoder:  HeuristicDecode,
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decode dispatches a body on its declared content type: multipart types
// recurse into their sub-parts, text/html decodes to HTML, and anything
// else (including an absent content type) decodes to text so no content
// is silently dropped.
func (e *Engine) Decode(body, contentType string) Content {
	return e.decode(body, contentType, 0)
}

func (e *Engine) decode(body, contentType string, depth int) Content {
	ct := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case strings.HasPrefix(ct, "multipart/") && depth < e.maxDepth:
		boundary := boundaryParam(contentType)
		if boundary == "" {
			// Declared multipart without a usable boundary: nothing
			// can be extracted, but the message as a whole survives.
			return Content{}
		}
		return e.decodeMultipart(body, boundary, depth)

	case strings.HasPrefix(ct, "text/html"):
		decoded := e.decoder(body)
		return Content{HTML: &decoded}

	default:
		decoded := e.decoder(body)
		return Content{Text: &decoded}
	}
}

// Parse decodes a full raw message. The header collection comes from the
// transport already unfolded and case-preserved; raw is the complete
// message bytes (header block plus body). Parse never fails: malformed
// input degrades to a Message with empty content.
func (e *Engine) Parse(from string, to []string, headers []Header, raw []byte) *email.Message {
	_, body, _ := SplitEnvelope(string(raw))
	return e.assemble(from, to, NormalizeHeaders(headers), body, raw)
}

// ParseRaw decodes a full raw message when no separate header collection
// is available (e.g. from an SMTP DATA payload): the top-level header
// block is extracted and folded from the raw bytes themselves.
func (e *Engine) ParseRaw(from string, to []string, raw []byte) *email.Message {
	headerBlock, body, _ := SplitEnvelope(string(raw))
	return e.assemble(from, to, parseHeaderBlock(headerBlock), body, raw)
}

func (e *Engine) assemble(from string, to []string, h email.HeaderMap, body string, raw []byte) *email.Message {
	content := e.Decode(body, h.Get("Content-Type"))

	msg := &email.Message{
		From:      from,
		To:        to,
		Subject:   subjectOrDefault(h.Get("Subject")),
		MessageID: messageIDOrFallback(h.Get("Message-Id")),
		Headers:   h,
		Raw:       raw,
	}
	if content.Text != nil {
		msg.Text = *content.Text
	}
	if content.HTML != nil {
		msg.HTML = *content.HTML
	}
	return msg
}

func subjectOrDefault(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return noSubject
	}
	return subject
}

func messageIDOrFallback(id string) string {
	id = strings.TrimSpace(id)
	if id != "" {
		return id
	}
	return fmt.Sprintf("<%d.%s@qemail.worker>", time.Now().UnixNano(), uuid.NewString())
}
