package response

import (
	"bytes"
	"io"

	"responsekit/internal/headers"
)

// Kind names the terminal call that produced a Response.
type Kind string

const (
	KindSend     Kind = "send"
	KindJSON     Kind = "json"
	KindRedirect Kind = "redirect"
)

// Response is the finalized, immutable result of a Builder.
type Response struct {
	kind       Kind
	status     int
	statusText string
	header     *headers.Headers
	body       []byte
	stream     io.Reader
}

// Kind returns the terminal call that produced the response.
func (r *Response) Kind() Kind {
	return r.kind
}

// Status returns the status code as configured, without range checks.
func (r *Response) Status() int {
	return r.status
}

func (r *Response) StatusText() string {
	return r.statusText
}

// Header returns a copy of the response headers.
func (r *Response) Header() *headers.Headers {
	if r.header == nil {
		return headers.New()
	}
	return r.header.Clone()
}

// Location returns the Location header, set by Redirect.
func (r *Response) Location() string {
	return r.header.Get("Location")
}

// Body returns a copy of a buffered body. It is nil for streamed bodies.
func (r *Response) Body() []byte {
	if r.body == nil {
		return nil
	}
	return append([]byte(nil), r.body...)
}

// BodyReader returns a reader over the body. A streamed body can be read once.
func (r *Response) BodyReader() io.Reader {
	if r.stream != nil {
		return r.stream
	}
	return bytes.NewReader(r.body)
}

// Streamed reports whether the body is read from an io.Reader at write time.
func (r *Response) Streamed() bool {
	return r.stream != nil
}
