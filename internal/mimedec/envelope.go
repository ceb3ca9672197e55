package mimedec

import "strings"

// SplitEnvelope splits a raw MIME entity at the first blank line into its
// header block and body. Both CRLF and bare-LF conventions are accepted;
// when both kinds of blank line exist the earlier offset wins, since
// sub-parts sliced out of a body may carry either convention. When no
// blank line exists the whole input is body and found is false.
func SplitEnvelope(s string) (header, body string, found bool) {
	crlf := strings.Index(s, "\r\n\r\n")
	lf := strings.Index(s, "\n\n")

	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return s[:crlf], s[crlf+4:], true
	case lf >= 0:
		return s[:lf], s[lf+2:], true
	default:
		return "", s, false
	}
}
