// Package http includes handlers and utilties.
package http

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// ReadAllAndReplaceBody reads all of body and returns a new reader over the same bytes.
func ReadAllAndReplaceBody(body io.ReadCloser) ([]byte, io.ReadCloser, error) {
	if body == nil || body == http.NoBody {
		return nil, body, nil
	}
	b, err := io.ReadAll(body)
	body.Close()
	return b, io.NopCloser(bytes.NewBuffer(b)), err
}

// DumpTransport outputs the request and response bodies of every
// round trip to output.
type DumpTransport struct {
	next   http.RoundTripper
	mu     sync.Mutex
	output io.Writer
}

// NewDumpTransport wraps next. If next is nil http.DefaultTransport is used.
func NewDumpTransport(next http.RoundTripper, output io.Writer) *DumpTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &DumpTransport{next: next, output: output}
}

func (t *DumpTransport) dump(prefix string, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output.Write([]byte(prefix))
	t.output.Write(append(body, '\n'))
}

// RoundTrip implements http.RoundTripper.
func (t *DumpTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Body != nil {
		r = r.Clone(r.Context())
		body, replaced, err := ReadAllAndReplaceBody(r.Body)
		if err != nil {
			return nil, err
		}
		r.Body = replaced
		t.dump(r.Method+" "+r.URL.String()+" ", body)
	} else {
		t.dump(r.Method+" "+r.URL.String(), nil)
	}
	resp, err := t.next.RoundTrip(r)
	if err != nil {
		return resp, err
	}
	body, replaced, err := ReadAllAndReplaceBody(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = replaced
	t.dump(resp.Status+" ", body)
	return resp, nil
}
