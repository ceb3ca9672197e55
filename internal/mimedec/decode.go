package mimedec

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// base64MinLength guards the heuristic against classifying short runs of
// alphanumeric plain text (words, numbers) as base64.
const base64MinLength = 20

var (
	// base64ShapePattern matches the standard and URL-safe base64
	// alphabets with only trailing '=' padding.
	base64ShapePattern = regexp.MustCompile(`^[A-Za-z0-9+/\-_]+={0,2}$`)

	// softBreakPattern matches a quoted-printable soft line break: '='
	// immediately followed by a line break, both removed on decode.
	softBreakPattern = regexp.MustCompile(`=(?:\r\n|\r|\n)`)

	// hexEscapePattern matches a quoted-printable =XX escape.
	hexEscapePattern = regexp.MustCompile(`=([0-9A-Fa-f]{2})`)
)

// HeuristicDecode infers the transfer encoding from the body's shape
// rather than from a Content-Transfer-Encoding header. Bodies that strip
// down to a non-trivial run of base64 alphabet characters are base64
// decoded; everything else, including base64 decode failures, goes
// through quoted-printable decoding, which is the identity on text
// without '=' escapes and therefore safe as the default path.
func HeuristicDecode(body string) string {
	stripped := strings.NewReplacer("\r", "", "\n", "").Replace(body)

	if len(stripped) > base64MinLength && base64ShapePattern.MatchString(stripped) {
		if decoded, ok := decodeBase64(stripped); ok {
			return decoded
		}
	}

	return DecodeQuotedPrintable(body)
}

// decodeBase64 decodes a base64 body, normalizing URL-safe alphabet
// variants first. Decoded bytes are kept as-is when they are valid
// UTF-8; otherwise each byte is reinterpreted as its Latin-1 code point
// for output compatibility with lenient decoders.
func decodeBase64(s string) (string, bool) {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(s)

	decoded, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		// Tolerate unpadded input before giving up.
		decoded, err = base64.RawStdEncoding.DecodeString(normalized)
		if err != nil {
			return "", false
		}
	}

	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return latin1String(decoded), true
}

// latin1String maps each byte to the rune with the same value.
func latin1String(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// DecodeQuotedPrintable removes soft line breaks and expands =XX hex
// escapes. It never fails: input without '=' passes through unchanged.
func DecodeQuotedPrintable(s string) string {
	s = softBreakPattern.ReplaceAllString(s, "")
	return hexEscapePattern.ReplaceAllStringFunc(s, func(m string) string {
		v, err := strconv.ParseUint(m[1:], 16, 8)
		if err != nil {
			return m
		}
		return string(rune(v))
	})
}
