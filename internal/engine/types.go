package engine

import (
	"context"
	"net/http"
	"strings"
)

// HeaderMap holds one string value per lower-cased header name.
type HeaderMap map[string]string

// Get returns the value for key, matched case-insensitively.
func (h HeaderMap) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Set stores value under the lower-cased key, replacing any previous value.
func (h HeaderMap) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Request is the canonical execution request. Body is decoded JSON (nil for
// GET); Search is the raw "?..." query component or "".
type Request struct {
	Method string
	Header HeaderMap
	Body   any
	Search string
}

// ContextFunc builds the resolver context for one operation.
type ContextFunc func(ctx context.Context) (context.Context, error)

// Result is the engine's answer to one Request. Status 0 means "unset".
type Result struct {
	Status int
	Header http.Header
	Body   Body
}

// Body is either Complete or Chunked. The unexported method seals the set
// of variants to this package.
type Body interface {
	isBody()
}

// Complete is a single finished payload.
type Complete struct {
	Payload string
}

// Chunked is a lazily produced sequence of payload fragments.
type Chunked struct {
	Stream ChunkStream
}

func (Complete) isBody() {}
func (Chunked) isBody()  {}

// ChunkStream is a forward-only, single-consumer fragment sequence. Next
// returns io.EOF once exhausted; Close releases the producer and is safe to
// call at any point, more than once.
type ChunkStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}
