package coordinator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/micromdm/nanotenant/payload"
)

type testServer struct {
	mu       sync.Mutex
	auths    int
	calls    map[string]int
	failures int // number of remaining 500 responses for /pending_requests/
	lastBody string
	lastAuth string
	lastURL  string
}

func (s *testServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path == "/user_management/authenticate" {
		s.auths++
		if r.FormValue("username") != "user" || r.FormValue("password") != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
		return
	}
	s.calls[r.URL.Path]++
	s.lastAuth = r.Header.Get("Authorization")
	s.lastURL = r.URL.String()
	body, _ := io.ReadAll(r.Body)
	s.lastBody = string(body)
	switch r.URL.Path {
	case "/pending_requests/":
		if s.failures > 0 {
			s.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"request":{"quantity":"q","methods":["m"]},"uuid":"root"}]`))
	case "/requests/":
		w.Write([]byte(`"req-1"`))
	case "/results_requested/done":
		w.Write([]byte(`{"result":{"request_uuid":"done","data":{"x":1}}}`))
	case "/results_requested/":
		w.Write([]byte(`[{"uuid":"r1"},{"uuid":"r2"}]`))
	case "/results_requested/waiting":
		w.Write([]byte(`{}`))
	case "/capabilities/templates":
		w.Write([]byte(`{"q-m":{"input_template":{"a":null,"b":{"c":"optional"}}}}`))
	case "/requests/bad/update_status/":
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`no such request`))
	default:
		w.Write([]byte(`null`))
	}
}

func newTestServer(t *testing.T) (*testServer, *httptest.Server) {
	ts := &testServer{calls: make(map[string]int)}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	return ts, srv
}

func TestClientAuthenticatesEveryCall(t *testing.T) {
	ts, srv := newTestServer(t)
	c, err := New(srv.URL, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	items, err := c.PendingRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(items), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	id, err := c.SubmitRequest(ctx, payload.MustParse(`{"quantity":"q","methods":["m"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if have, want := id, "req-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := ts.lastBody, `{"quantity":"q","methods":["m"]}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := ts.auths, 2; have != want {
		t.Errorf("auths: have: %v, want: %v", have, want)
	}
	if have, want := ts.lastAuth, "Bearer tok"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestClientBadCredentials(t *testing.T) {
	_, srv := newTestServer(t)
	c, err := New(srv.URL, "user", "wrong")
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.PendingRequests(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, have: %v", err)
	}
	if have, want := statusErr.Code, http.StatusUnauthorized; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestClientResult(t *testing.T) {
	_, srv := newTestServer(t)
	c, err := New(srv.URL, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	v, ok, err := c.Result(ctx, "done")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected result")
	}
	if have, _ := v.Path("result", "request_uuid"); have.String() != `"done"` {
		t.Errorf("have: %v, want: %v", have, `"done"`)
	}

	_, ok, err = c.Result(ctx, "waiting")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no result")
	}
}

func TestClientResultsFor(t *testing.T) {
	ts, srv := newTestServer(t)
	c, err := New(srv.URL, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}

	results, err := c.ResultsFor(context.Background(), "capacity", "cycling")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(results), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := ts.lastURL, "/results_requested/?method=cycling&quantity=capacity"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestClientTemplate(t *testing.T) {
	ts, srv := newTestServer(t)
	c, err := New(srv.URL, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tmpl, err := c.Template(ctx, "q", "m")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := tmpl.String(), `{"a":null,"b":{"c":"optional"}}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := ts.lastURL, "/capabilities/templates?method=m&quantity=q"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if _, err = c.Template(ctx, "q", "other"); !errors.Is(err, ErrNoTemplate) {
		t.Errorf("have: %v, want: %v", err, ErrNoTemplate)
	}
}

func TestClientUpdateStatus(t *testing.T) {
	ts, srv := newTestServer(t)
	c, err := New(srv.URL, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err = c.UpdateStatus(ctx, "root", "reserved"); err != nil {
		t.Fatal(err)
	}
	if have, want := ts.lastURL, "/requests/root/update_status/?new_status=reserved&request_id=root"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	err = c.UpdateStatus(ctx, "bad", "reserved")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, have: %v", err)
	}
	if have, want := statusErr.Body, "no such request"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestClientRetry(t *testing.T) {
	ts, srv := newTestServer(t)
	ts.failures = 2
	c, err := New(srv.URL, "user", "pass", WithRetry(&Backoff{Strategy: Constant{}, MaxAttempts: 3}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = c.PendingRequests(context.Background()); err != nil {
		t.Fatal(err)
	}
	if have, want := ts.calls["/pending_requests/"], 3; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// client errors are not retried
	if err = c.UpdateStatus(context.Background(), "bad", "reserved"); err == nil {
		t.Fatal("expected error")
	}
	if have, want := ts.calls["/requests/bad/update_status/"], 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestClientNoRetry(t *testing.T) {
	ts, srv := newTestServer(t)
	ts.failures = 1
	c, err := New(srv.URL, "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = c.PendingRequests(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if have, want := ts.calls["/pending_requests/"], 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestBackoff(t *testing.T) {
	b := &Backoff{Strategy: Exponential{Initial: 10, Max: 30}, MaxAttempts: 3}
	transient := &StatusError{Code: http.StatusServiceUnavailable}
	for _, test := range []struct {
		attempt int
		err     error
		delay   int64
		ok      bool
	}{
		{1, transient, 10, true},
		{2, transient, 20, true},
		{3, transient, 30, true},
		{4, transient, 0, false},
		{1, &StatusError{Code: http.StatusNotFound}, 0, false},
		{1, &StatusError{Code: http.StatusTooManyRequests}, 10, true},
		{1, context.Canceled, 0, false},
	} {
		delay, ok := b.Next(test.attempt, test.err)
		if int64(delay) != test.delay || ok != test.ok {
			t.Errorf("attempt %d (%v): have: %v,%v, want: %v,%v", test.attempt, test.err, delay, ok, test.delay, test.ok)
		}
	}
}

func TestNewInvalidURL(t *testing.T) {
	if _, err := New("not a url", "u", "p"); err == nil {
		t.Error("expected error")
	}
}

func TestExponentialLargeAttempt(t *testing.T) {
	e := Exponential{Initial: time.Second, Max: time.Minute}
	for _, attempt := range []int{7, 35, 64, 200, 2000} {
		if have, want := e.Delay(attempt), time.Minute; have != want {
			t.Errorf("attempt %d: have: %v, want: %v", attempt, have, want)
		}
	}
	unbounded := Exponential{Initial: time.Second}
	if have := unbounded.Delay(100); have <= 0 {
		t.Errorf("attempt 100: have: %v, want positive delay", have)
	}
}
