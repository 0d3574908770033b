// Package request wraps an incoming *http.Request for handler code. It is the
// request side of the response builder: the builder reaches the request's
// cookie jar through it when cookies are set.
package request

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"responsekit/internal/cookies"
)

// DefaultMaxBodySize applies when New is given a non-positive limit.
const DefaultMaxBodySize int64 = 10 << 20

type contextKey string

// Request exposes a simplified view of an http.Request.
type Request struct {
	// Exported fields are also exposed to Lua handlers as properties
	Method string
	URL    string
	Path   string
	Host   string

	req         *http.Request
	body        []byte
	bodyErr     error
	bodyOnce    sync.Once
	maxBodySize int64
	jar         *cookies.Jar
}

// New creates a Request wrapper.
func New(r *http.Request, maxBodySize int64) *Request {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Request{
		Method: r.Method,
		URL:    r.URL.String(),
		Path:   r.URL.Path,
		Host:   r.Host,

		req:         r,
		maxBodySize: maxBodySize,
	}
}

// Raw returns the wrapped request, including any context values set through
// ContextSet.
func (r *Request) Raw() *http.Request {
	return r.req
}

// Header returns the value of a request header.
func (r *Request) Header(key string) string {
	return r.req.Header.Get(key)
}

// Headers returns all request headers.
func (r *Request) Headers() http.Header {
	return r.req.Header
}

// Query returns the value of a URL query parameter.
func (r *Request) Query(key string) string {
	return r.req.URL.Query().Get(key)
}

// Param returns the value of a URL path parameter from chi's route context.
func (r *Request) Param(key string) string {
	return chi.URLParam(r.req, key)
}

// Params returns all URL path parameters of the matched route.
func (r *Request) Params() map[string]string {
	params := make(map[string]string)
	rctx := chi.RouteContext(r.req.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if i < len(rctx.URLParams.Values) {
			params[key] = rctx.URLParams.Values[i]
		}
	}
	return params
}

// Body reads and returns the request body. The body is read once, limited to
// the configured maximum size, and restored on the underlying request so that
// other handlers can read it again.
func (r *Request) Body() ([]byte, error) {
	r.bodyOnce.Do(func() {
		if r.req.Body == nil {
			r.body = []byte{}
			return
		}
		defer r.req.Body.Close()

		lr := http.MaxBytesReader(nil, r.req.Body, r.maxBodySize)
		body, err := io.ReadAll(lr)
		if err != nil {
			r.bodyErr = err
			return
		}
		r.body = body
		r.req.Body = io.NopCloser(bytes.NewReader(r.body))
	})

	if r.bodyErr != nil {
		return nil, r.bodyErr
	}
	return r.body, nil
}

// JSON looks up path (gjson syntax, e.g. "user.name") in a JSON request body.
// The second result is false when the body is not valid JSON or path does not exist.
func (r *Request) JSON(path string) (gjson.Result, bool, error) {
	body, err := r.Body()
	if err != nil {
		return gjson.Result{}, false, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, false, nil
	}
	result := gjson.GetBytes(body, path)
	return result, result.Exists(), nil
}

// Cookies returns the request's cookie jar, created on first use.
func (r *Request) Cookies() *cookies.Jar {
	if r.jar == nil {
		r.jar = cookies.NewJar(r.req)
	}
	return r.jar
}

// Cookie returns the current value of a cookie.
func (r *Request) Cookie(name string) string {
	value, _ := r.Cookies().Get(name)
	return value
}

// ContextSet sets a value in the request's context.
func (r *Request) ContextSet(key string, value any) {
	ctx := context.WithValue(r.req.Context(), contextKey(key), value)
	r.req = r.req.WithContext(ctx)
}

// ContextGet retrieves a value set with ContextSet.
func (r *Request) ContextGet(key string) any {
	return r.req.Context().Value(contextKey(key))
}

// Context returns the request's context.
func (r *Request) Context() context.Context {
	return r.req.Context()
}
