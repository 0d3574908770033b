package response

import (
	"fmt"
	"io"
	"net/http"
)

const streamChunkSize = 32 << 10

// Write materializes resp on w. The status code must lie in 100-999; net/http
// panics on anything else. Bodies are skipped for HEAD requests, and streamed
// bodies are flushed chunk by chunk when w supports it. r may be nil.
//
// net/http always writes the standard reason phrase for the status code; the
// response's StatusText is not sent on the wire.
func Write(w http.ResponseWriter, r *http.Request, resp *Response) error {
	if resp == nil {
		return ErrNilResponse
	}
	if w == nil {
		return ErrNilWriter
	}
	if resp.status < 100 || resp.status > 999 {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, resp.status)
	}

	header := w.Header()
	for _, key := range resp.header.Keys() {
		header[key] = resp.header.Values(key)
	}
	w.WriteHeader(resp.status)

	if r != nil && r.Method == http.MethodHead {
		return nil
	}

	if resp.stream == nil {
		if len(resp.body) == 0 {
			return nil
		}
		if _, err := w.Write(resp.body); err != nil {
			return fmt.Errorf("response writer write: %w", err)
		}
		return nil
	}

	if closer, ok := resp.stream.(io.Closer); ok {
		defer closer.Close()
	}

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamChunkSize)
	for {
		n, err := resp.stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("response writer write: %w", werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("body stream: %w", err)
		}
	}
}
