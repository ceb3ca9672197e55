package mimedec

import (
	"strings"

	"github.com/qemail/qemail-relay/internal/email"
)

// Header is one (name, value) pair as received from the transport.
// Duplicates are permitted and order is significant.
type Header struct {
	Name  string
	Value string
}

// NormalizeHeaders builds a case-insensitive HeaderMap from an ordered
// header collection. Repeated names accumulate their values in input
// order. Continuation-line folding is the transport's job for top-level
// headers; only sub-part header blocks are folded here (see
// parseHeaderBlock).
func NormalizeHeaders(headers []Header) email.HeaderMap {
	h := make(email.HeaderMap, len(headers))
	for _, hdr := range headers {
		h.Add(hdr.Name, hdr.Value)
	}
	return h
}

// parseHeaderBlock parses a raw header block sliced out of a multipart
// body. Continuation lines (leading space or tab) are folded into the
// preceding field with the line break and leading whitespace replaced by
// a single space. Lines without a colon are ignored.
func parseHeaderBlock(block string) email.HeaderMap {
	h := make(email.HeaderMap)

	var name, value string
	flush := func() {
		if name != "" {
			h.Add(name, value)
		}
	}

	for _, line := range splitLines(block) {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if name != "" {
				value += " " + strings.TrimLeft(line, " \t")
			}
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		flush()
		name = line[:colon]
		value = strings.TrimSpace(line[colon+1:])
	}
	flush()

	return h
}

// splitLines splits on CRLF or bare LF, tolerating mixed conventions
// within one block.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
