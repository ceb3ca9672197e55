// Package email defines the core email data model used throughout the relay.
package email

import (
	"encoding/json"
	"strings"
)

// HeaderValue holds the values seen for one header name, in arrival order.
// A name that appeared once marshals as a plain JSON string; a repeated
// name (e.g. Received) marshals as an array.
type HeaderValue []string

// MarshalJSON renders a single value as a scalar and repeats as a list.
func (v HeaderValue) MarshalJSON() ([]byte, error) {
	if len(v) == 1 {
		return json.Marshal(v[0])
	}
	return json.Marshal([]string(v))
}

// HeaderMap is a case-insensitive mapping from header name to its values.
// Keys are stored lower-cased; the map is built once per message or
// sub-part and not mutated after.
type HeaderMap map[string]HeaderValue

// Add appends a value under the given name, lower-casing the key.
func (h HeaderMap) Add(name, value string) {
	key := strings.ToLower(name)
	h[key] = append(h[key], value)
}

// Get returns the first value for the given name, or "" if absent.
func (h HeaderMap) Get(name string) string {
	if vs := h[strings.ToLower(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns all values for the given name in arrival order.
func (h HeaderMap) Values(name string) []string {
	return h[strings.ToLower(name)]
}

// Message represents a decoded inbound email message.
type Message struct {
	// From and To are the envelope sender and recipients as handed over
	// by the SMTP transaction, not the header fields.
	From string
	To   []string

	Subject   string
	MessageID string
	Headers   HeaderMap

	// Text and HTML are the decoded body parts; empty when the message
	// tree contained no part of that kind.
	Text string
	HTML string

	// Raw is the original message bytes as received, used for raw
	// re-injection by the forwarder.
	Raw []byte
}
