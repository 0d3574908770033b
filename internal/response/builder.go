// Package response provides a fluent builder that accumulates a response's
// status, reason phrase, headers and cookies and then produces exactly one
// immutable Response through JSON, Send or Redirect.
//
//	res := response.NewWithRequest(req)
//	if err := res.Status(http.StatusCreated).SetHeader("X-Id", id).JSON(user); err != nil {
//		return err
//	}
//
// Configuration calls chain. The first configuration error is kept and returned
// by Err and by the terminal call, which then refuses to finalize.
package response

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"responsekit/internal/cookies"
	"responsekit/internal/headers"
)

const (
	DefaultStatus     = http.StatusOK
	DefaultStatusText = "OK"

	contentTypeJSON = "application/json;charset=utf-8"
	contentTypeText = "text/plain;charset=utf-8"
)

// CookieSource is the request side a builder writes cookies to.
type CookieSource interface {
	Cookies() *cookies.Jar
}

// Builder is not safe for concurrent use; it belongs to the handler serving
// a single request.
type Builder struct {
	// Locals carries data between handlers serving the same request.
	Locals map[string]any

	status     int
	statusText string
	headers    *headers.Headers

	request  CookieSource
	response *Response
	err      error
}

// New creates a builder that is not associated with a request. Cookie calls on
// it fail with ErrNoRequest.
func New(opts ...Option) *Builder {
	return NewWithRequest(nil, opts...)
}

// NewWithRequest creates a builder whose cookie calls go to src's jar.
func NewWithRequest(src CookieSource, opts ...Option) *Builder {
	b := &Builder{
		Locals:     make(map[string]any),
		status:     DefaultStatus,
		statusText: DefaultStatusText,
		request:    src,
	}
	return b.Option(opts...)
}

// Status overwrites the status code. Any integer is accepted.
func (b *Builder) Status(code int) *Builder {
	b.status = code
	return b
}

// StatusText overwrites the reason phrase.
func (b *Builder) StatusText(text string) *Builder {
	b.statusText = text
	return b
}

// Option applies opts in order. Fields not named by an option keep their value.
func (b *Builder) Option(opts ...Option) *Builder {
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Headers replaces the headers field wholesale.
func (b *Builder) Headers(h *headers.Headers) *Builder {
	b.headers = h
	return b
}

// SetHeader replaces the values of one header, creating the headers field if
// none has been assigned yet.
func (b *Builder) SetHeader(key string, values ...string) *Builder {
	if key == "" {
		return b.fail(&EmptyError{Field: "header key"})
	}
	if len(values) == 0 {
		return b.fail(&EmptyError{Field: fmt.Sprintf("header value for %q", key)})
	}
	for _, value := range values {
		if value == "" {
			return b.fail(&EmptyError{Field: fmt.Sprintf("header value for %q", key)})
		}
	}

	if b.headers == nil {
		b.headers = headers.New()
	}
	b.headers.Set(key, values...)
	return b
}

// SetCookie sets a cookie in the associated request's jar and replaces the
// Set-Cookie header with every cookie change recorded so far.
func (b *Builder) SetCookie(name, value string, opts *cookies.Options) *Builder {
	jar, err := b.jar()
	if err != nil {
		return b.fail(err)
	}
	if err := jar.Set(name, value, opts); err != nil {
		return b.fail(fmt.Errorf("set cookie: %w: %w", ErrInvalidArgument, err))
	}
	return b.syncCookies(jar)
}

// DeleteCookie asks the client to drop a cookie.
func (b *Builder) DeleteCookie(name string, opts *cookies.Options) *Builder {
	jar, err := b.jar()
	if err != nil {
		return b.fail(err)
	}
	if err := jar.Delete(name, opts); err != nil {
		return b.fail(fmt.Errorf("delete cookie: %w: %w", ErrInvalidArgument, err))
	}
	return b.syncCookies(jar)
}

// Header returns the headers field as last assigned. It is nil until headers
// are set.
func (b *Builder) Header() *headers.Headers {
	return b.headers
}

// Err returns the first configuration error.
func (b *Builder) Err() error {
	return b.err
}

// JSON finalizes the response with body encoded as JSON.
func (b *Builder) JSON(body any) error {
	if err := b.checkFinalize(); err != nil {
		return err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	b.response = b.finalize(KindJSON, contentTypeJSON, data, nil)
	return nil
}

// Send finalizes the response with body verbatim. body may be a string,
// []byte, io.Reader (streamed when written), fmt.Stringer or nil.
func (b *Builder) Send(body any) error {
	if err := b.checkFinalize(); err != nil {
		return err
	}

	var (
		data        []byte
		stream      io.Reader
		contentType string
	)
	switch v := body.(type) {
	case nil:
	case string:
		data = []byte(v)
		contentType = contentTypeText
	case []byte:
		data = append([]byte(nil), v...)
	case io.Reader:
		stream = v
	case fmt.Stringer:
		data = []byte(v.String())
		contentType = contentTypeText
	default:
		return fmt.Errorf("%w: unsupported body type %T", ErrInvalidArgument, body)
	}

	b.response = b.finalize(KindSend, contentType, data, stream)
	return nil
}

// Redirect finalizes a redirect to url. A zero code means 302 Found; other
// codes must satisfy IsRedirectStatus. The builder's status, reason phrase
// and headers are not used.
func (b *Builder) Redirect(url string, code int) error {
	if err := b.checkFinalize(); err != nil {
		return err
	}
	if url == "" {
		return &EmptyError{Field: "redirect url"}
	}
	if code == 0 {
		code = http.StatusFound
	}
	if !IsRedirectStatus(code) {
		return fmt.Errorf("%w: redirect status %d", ErrInvalidArgument, code)
	}

	h := headers.New()
	h.Set("Location", url)
	b.response = &Response{
		kind:   KindRedirect,
		status: code,
		header: h,
	}
	return nil
}

// IsRedirectStatus reports whether code is one of 301, 302, 303, 307 and 308.
func IsRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// IsReady reports whether a terminal call has produced a response.
func (b *Builder) IsReady() bool {
	return b.response != nil
}

// Response returns the finalized response, or nil before a terminal call.
func (b *Builder) Response() *Response {
	return b.response
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) checkFinalize() error {
	if b.response != nil {
		return ErrAlreadyFinalized
	}
	return b.err
}

func (b *Builder) jar() (*cookies.Jar, error) {
	if b.request == nil {
		return nil, ErrNoRequest
	}
	jar := b.request.Cookies()
	if jar == nil {
		return nil, ErrNoRequest
	}
	return jar, nil
}

func (b *Builder) syncCookies(jar *cookies.Jar) *Builder {
	values := jar.SetCookieHeaders()
	if len(values) == 0 {
		return b
	}
	return b.SetHeader("Set-Cookie", values...)
}

func (b *Builder) finalize(kind Kind, contentType string, body []byte, stream io.Reader) *Response {
	h := b.headers.Clone()
	if h == nil {
		h = headers.New()
	}
	if contentType != "" && !h.Has("Content-Type") {
		h.Set("Content-Type", contentType)
	}
	return &Response{
		kind:       kind,
		status:     b.status,
		statusText: b.statusText,
		header:     h,
		body:       body,
		stream:     stream,
	}
}
