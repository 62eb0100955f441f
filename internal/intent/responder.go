// Package intent maps free text onto canned guidance replies using an
// ordered keyword table. The first topic with a matching keyword wins.
package intent

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Topic is one row of the keyword table.
type Topic struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Reply    string   `json:"reply"`
}

// Responder resolves text to a reply. It holds no mutable state and is safe
// for concurrent use.
type Responder struct {
	topics   []Topic
	keys     [][]string // normalized keywords, parallel to topics
	fallback string
}

// NewResponder builds a responder from topics in priority order.
func NewResponder(topics []Topic, fallback string) *Responder {
	r := &Responder{
		topics:   make([]Topic, len(topics)),
		keys:     make([][]string, len(topics)),
		fallback: fallback,
	}
	for i, t := range topics {
		t.Keywords = append([]string(nil), t.Keywords...)
		r.topics[i] = t
		for _, kw := range t.Keywords {
			if k := normalize(kw); k != "" {
				r.keys[i] = append(r.keys[i], k)
			}
		}
	}
	return r
}

// DefaultResponder returns the responder for the built-in public-services table.
func DefaultResponder() *Responder {
	return NewResponder(DefaultTopics(), FallbackReply)
}

func normalize(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Match returns the first topic whose keyword occurs in text.
func (r *Responder) Match(text string) (Topic, bool) {
	in := normalize(text)
	if in == "" {
		return Topic{}, false
	}
	for i, keys := range r.keys {
		for _, k := range keys {
			if strings.Contains(in, k) {
				return r.topics[i], true
			}
		}
	}
	return Topic{}, false
}

// Respond returns the reply for text, or the fallback when no topic matches.
func (r *Responder) Respond(text string) string {
	if t, ok := r.Match(text); ok {
		return t.Reply
	}
	return r.fallback
}

// Fallback returns the generic clarification reply.
func (r *Responder) Fallback() string {
	return r.fallback
}

// Topics returns a copy of the table in priority order.
func (r *Responder) Topics() []Topic {
	out := make([]Topic, len(r.topics))
	for i, t := range r.topics {
		t.Keywords = append([]string(nil), t.Keywords...)
		out[i] = t
	}
	return out
}
