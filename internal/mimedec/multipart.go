package mimedec

import (
	"regexp"
	"strings"
)

// boundaryParamPattern extracts the boundary parameter from a
// Content-Type value: case-insensitive, optionally quoted, terminated by
// a quote, semicolon, or whitespace.
var boundaryParamPattern = regexp.MustCompile(`(?i)boundary\s*=\s*"?([^";\s]+)`)

// boundaryParam returns the boundary token from a Content-Type header
// value, or "" when none can be parsed.
func boundaryParam(contentType string) string {
	m := boundaryParamPattern.FindStringSubmatch(contentType)
	if m == nil {
		return ""
	}
	return m[1]
}

// decodeMultipart splits a multipart body at its boundary delimiter and
// decodes each sub-part, accumulating text and HTML in encounter order.
// Fragments that are empty, the terminal "--" marker, or have no header
// block of their own are skipped; a malformed sub-part never aborts
// extraction of its siblings.
func (e *Engine) decodeMultipart(body, boundary string, depth int) Content {
	// The boundary token may contain regex metacharacters and must match
	// literally.
	delim := regexp.MustCompile(`(?:\r\n|\n)--` + regexp.QuoteMeta(boundary))

	var out Content
	for _, frag := range delim.Split(body, -1) {
		frag = strings.TrimSpace(frag)
		if frag == "" || frag == "--" {
			continue
		}

		headerBlock, subBody, ok := SplitEnvelope(frag)
		if !ok {
			continue
		}

		subHeaders := parseHeaderBlock(headerBlock)
		sub := e.decode(subBody, subHeaders.Get("Content-Type"), depth+1)
		out.merge(sub)
	}
	return out
}
