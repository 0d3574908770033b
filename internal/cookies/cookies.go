// Package cookies provides a per-request cookie jar: it reads the cookies sent
// with a request, records cookies set or deleted while handling it and renders
// those changes as Set-Cookie header values.
package cookies

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultPath is applied to set cookies that do not name a path.
const DefaultPath = "/"

// Options holds the cookie attributes accepted by Set and Delete.
type Options struct {
	Domain      string
	Path        string
	Expires     time.Time
	MaxAge      int
	Secure      bool
	HTTPOnly    bool
	Partitioned bool
	SameSite    http.SameSite
}

// ParseSameSite maps "strict", "lax" and "none" to their http.SameSite value.
// An empty string yields http.SameSiteDefaultMode.
func ParseSameSite(s string) (http.SameSite, error) {
	switch s {
	case "":
		return http.SameSiteDefaultMode, nil
	case "lax", "Lax":
		return http.SameSiteLaxMode, nil
	case "strict", "Strict":
		return http.SameSiteStrictMode, nil
	case "none", "None":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("unknown same-site mode: %q", s)
}

// Jar is not safe for concurrent use; it belongs to a single request.
type Jar struct {
	incoming map[string]string
	changes  []*http.Cookie
}

// NewJar creates a jar holding the cookies sent with r. r may be nil.
func NewJar(r *http.Request) *Jar {
	jar := &Jar{incoming: make(map[string]string)}
	if r == nil {
		return jar
	}
	for _, c := range r.Cookies() {
		if _, seen := jar.incoming[c.Name]; !seen {
			jar.incoming[c.Name] = c.Value
		}
	}
	return jar
}

// Get returns the current value of name, taking changes made through the jar
// into account.
func (j *Jar) Get(name string) (string, bool) {
	if c := j.change(name); c != nil {
		if c.MaxAge < 0 {
			return "", false
		}
		return c.Value, true
	}
	value, ok := j.incoming[name]
	return value, ok
}

// Has reports whether name currently has a value.
func (j *Jar) Has(name string) bool {
	_, ok := j.Get(name)
	return ok
}

// Set records a cookie. A later Set of the same name replaces the earlier one.
func (j *Jar) Set(name, value string, opts *Options) error {
	c := newCookie(name, value, opts)
	if err := c.Valid(); err != nil {
		return fmt.Errorf("invalid cookie %q: %w", name, err)
	}
	j.record(c)
	return nil
}

// Delete records an expired cookie so the client drops name.
func (j *Jar) Delete(name string, opts *Options) error {
	c := newCookie(name, "", opts)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	if err := c.Valid(); err != nil {
		return fmt.Errorf("invalid cookie %q: %w", name, err)
	}
	j.record(c)
	return nil
}

// Len returns the number of recorded changes.
func (j *Jar) Len() int {
	return len(j.changes)
}

// SetCookieHeaders renders every recorded change as a Set-Cookie header value,
// in the order the names were first changed.
func (j *Jar) SetCookieHeaders() []string {
	values := make([]string, 0, len(j.changes))
	for _, c := range j.changes {
		if s := c.String(); s != "" {
			values = append(values, s)
		}
	}
	return values
}

func (j *Jar) change(name string) *http.Cookie {
	for _, c := range j.changes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (j *Jar) record(c *http.Cookie) {
	for i, existing := range j.changes {
		if existing.Name == c.Name {
			j.changes[i] = c
			return
		}
	}
	j.changes = append(j.changes, c)
}

func newCookie(name, value string, opts *Options) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     DefaultPath,
		SameSite: http.SameSiteLaxMode,
	}
	if opts == nil {
		return c
	}
	if opts.Path != "" {
		c.Path = opts.Path
	}
	if opts.SameSite != http.SameSiteDefaultMode {
		c.SameSite = opts.SameSite
	}
	c.Domain = opts.Domain
	c.Expires = opts.Expires
	c.MaxAge = opts.MaxAge
	c.Secure = opts.Secure
	c.HttpOnly = opts.HTTPOnly
	c.Partitioned = opts.Partitioned
	return c
}
