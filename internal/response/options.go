package response

import "responsekit/internal/headers"

// Option sets one field of a builder's configuration.
type Option func(*Builder)

// WithStatus sets the status code.
func WithStatus(code int) Option {
	return func(b *Builder) {
		b.status = code
	}
}

// WithStatusText sets the reason phrase.
func WithStatusText(text string) Option {
	return func(b *Builder) {
		b.statusText = text
	}
}

// WithHeaders replaces the headers field wholesale.
func WithHeaders(h *headers.Headers) Option {
	return func(b *Builder) {
		b.headers = h
	}
}

// WithHeader sets a single header entry. Empty keys or values make the
// builder's error sticky, as SetHeader does.
func WithHeader(key string, values ...string) Option {
	return func(b *Builder) {
		b.SetHeader(key, values...)
	}
}

// Init is a partial configuration. Nil fields are left untouched when it is
// merged into a builder.
type Init struct {
	Status     *int
	StatusText *string
	Headers    *headers.Headers
}

// Options converts the fields present in the partial configuration into options.
func (i Init) Options() []Option {
	var opts []Option
	if i.Status != nil {
		opts = append(opts, WithStatus(*i.Status))
	}
	if i.StatusText != nil {
		opts = append(opts, WithStatusText(*i.StatusText))
	}
	if i.Headers != nil {
		opts = append(opts, WithHeaders(i.Headers))
	}
	return opts
}
