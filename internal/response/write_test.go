package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWrite(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		build      func(*Builder) error
		wantStatus int
		wantBody   string
		wantHeader http.Header
	}{
		{
			name:   "send with headers",
			method: "GET",
			build: func(b *Builder) error {
				return b.Status(201).SetHeader("X-Id", "7").Send("created")
			},
			wantStatus: 201,
			wantBody:   "created",
			wantHeader: http.Header{"X-Id": {"7"}, "Content-Type": {contentTypeText}},
		},
		{
			name:   "json",
			method: "GET",
			build: func(b *Builder) error {
				return b.JSON([]int{1, 2})
			},
			wantStatus: 200,
			wantBody:   "[1,2]",
			wantHeader: http.Header{"Content-Type": {contentTypeJSON}},
		},
		{
			name:   "redirect",
			method: "GET",
			build: func(b *Builder) error {
				return b.Redirect("/login", http.StatusTemporaryRedirect)
			},
			wantStatus: http.StatusTemporaryRedirect,
			wantHeader: http.Header{"Location": {"/login"}},
		},
		{
			name:   "head skips body",
			method: "HEAD",
			build: func(b *Builder) error {
				return b.Send("ignored")
			},
			wantStatus: 200,
			wantHeader: http.Header{"Content-Type": {contentTypeText}},
		},
		{
			name:   "streamed body",
			method: "GET",
			build: func(b *Builder) error {
				return b.Send(strings.NewReader(strings.Repeat("x", streamChunkSize+10)))
			},
			wantStatus: 200,
			wantBody:   strings.Repeat("x", streamChunkSize+10),
			wantHeader: http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			if err := tt.build(b); err != nil {
				t.Fatalf("build failed: %v", err)
			}

			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.method, "/", nil)
			if err := Write(w, r, b.Response()); err != nil {
				t.Fatalf("Write failed: %v", err)
			}

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Expected body length %d, got %d", len(tt.wantBody), w.Body.Len())
			}
			if diff := cmp.Diff(tt.wantHeader, w.Header()); diff != "" {
				t.Errorf("header mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteRejectsInvalidStatus(t *testing.T) {
	for _, code := range []int{0, 99, 1000} {
		b := New().Status(code)
		if err := b.Send("x"); err != nil {
			t.Fatalf("Send failed: %v", err)
		}

		w := httptest.NewRecorder()
		if err := Write(w, nil, b.Response()); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("Expected ErrInvalidStatus for %d, got %v", code, err)
		}
		if w.Body.Len() != 0 {
			t.Errorf("Expected nothing written for %d", code)
		}
	}
}

func TestWriteNilArguments(t *testing.T) {
	if err := Write(httptest.NewRecorder(), nil, nil); !errors.Is(err, ErrNilResponse) {
		t.Errorf("Expected ErrNilResponse, got %v", err)
	}

	b := New()
	if err := b.Send("x"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := Write(nil, nil, b.Response()); !errors.Is(err, ErrNilWriter) {
		t.Errorf("Expected ErrNilWriter, got %v", err)
	}
}
