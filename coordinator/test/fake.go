// Package test provides an in-memory coordination service for tests.
package test

import (
	"context"
	"errors"
	"sync"

	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/utils/uuid"
)

var ErrSubmitRejected = errors.New("submission rejected")

// Submitted is a request received by the fake service.
type Submitted struct {
	ID      string
	Request payload.Value
}

// Fake is an in-memory coordination service.
type Fake struct {
	mu sync.Mutex

	ider      uuid.IDer
	pending   []payload.Value
	status    map[string]string
	submitted []Submitted
	results   map[string]payload.Value
	posted    []payload.Value
	templates map[string]payload.Value

	// FailSubmit, if set, is consulted for every request submission.
	// A non-nil error rejects the submission.
	FailSubmit func(request payload.Value) error

	// FailResult, if set, rejects result submissions with its error.
	FailResult error
}

// NewFake creates a fake service assigning IDs from ider.
func NewFake(ider uuid.IDer) *Fake {
	return &Fake{
		ider:      ider,
		status:    make(map[string]string),
		results:   make(map[string]payload.Value),
		templates: make(map[string]payload.Value),
	}
}

// AddPending adds a pending root request and returns its ID.
func (f *Fake) AddPending(request payload.Value, ctime string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.ider.ID()
	f.pending = append(f.pending, payload.Object(
		payload.Member{Key: "request", Value: request},
		payload.Member{Key: "uuid", Value: payload.String(id)},
		payload.Member{Key: "ctime", Value: payload.String(ctime)},
	))
	f.status[id] = "pending"
	return id
}

// SetTemplate sets the input template for quantity and method.
func (f *Fake) SetTemplate(quantity, method string, tmpl payload.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[quantity+"-"+method] = tmpl
}

// Status returns the status of root request id.
func (f *Fake) Status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id]
}

// Submitted returns the received request submissions in order.
func (f *Fake) Submitted() []Submitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submitted(nil), f.submitted...)
}

// Request returns the submitted request with id.
func (f *Fake) Request(id string) (payload.Value, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.submitted {
		if s.ID == id {
			return s.Request, true
		}
	}
	return payload.Value{}, false
}

// Posted returns the received result submissions.
func (f *Fake) Posted() []payload.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payload.Value(nil), f.posted...)
}

// Complete makes a result with data available for submitted request id.
// The result echoes the request's quantity, method and parameters.
func (f *Fake) Complete(id string, data payload.Value) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.submitted {
		if s.ID != id {
			continue
		}
		quantity, _ := s.Request.Get("quantity")
		methods, _ := s.Request.Get("methods")
		params, _ := s.Request.Get("parameters")
		f.results[id] = payload.Object(payload.Member{Key: "result", Value: payload.Object(
			payload.Member{Key: "quantity", Value: quantity},
			payload.Member{Key: "method", Value: methods},
			payload.Member{Key: "data", Value: data},
			payload.Member{Key: "parameters", Value: params},
			payload.Member{Key: "request_uuid", Value: payload.String(id)},
		)})
		return true
	}
	return false
}

// SetResult sets the raw result response for id.
func (f *Fake) SetResult(id string, result payload.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = result
}

// PendingRequests returns root requests not yet reserved.
func (f *Fake) PendingRequests(_ context.Context) ([]payload.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ret []payload.Value
	for _, p := range f.pending {
		idV, _ := p.Get("uuid")
		id, _ := idV.Str()
		if f.status[id] == "pending" {
			ret = append(ret, p.Clone())
		}
	}
	return ret, nil
}

// SubmitRequest records request and assigns it an ID.
func (f *Fake) SubmitRequest(_ context.Context, request payload.Value) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSubmit != nil {
		if err := f.FailSubmit(request); err != nil {
			return "", err
		}
	}
	id := f.ider.ID()
	f.submitted = append(f.submitted, Submitted{ID: id, Request: request.Clone()})
	return id, nil
}

// Result returns the result for id if completed.
func (f *Fake) Result(_ context.Context, id string) (payload.Value, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.results[id]
	return v.Clone(), ok && !v.IsEmpty(), nil
}

// ResultsFor returns completed results for quantity and method.
func (f *Fake) ResultsFor(_ context.Context, quantity, method string) ([]payload.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ret []payload.Value
	for _, s := range f.submitted {
		r, ok := f.results[s.ID]
		if !ok {
			continue
		}
		step, _ := s.Request.Get("quantity")
		q, _ := step.Str()
		methods, _ := s.Request.Get("methods")
		for _, m := range methods.Items() {
			if ms, _ := m.Str(); q == quantity && ms == method {
				ret = append(ret, r.Clone())
				break
			}
		}
	}
	return ret, nil
}

// SubmitResult records result.
func (f *Fake) SubmitResult(_ context.Context, result payload.Value) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailResult != nil {
		return "", f.FailResult
	}
	f.posted = append(f.posted, result.Clone())
	return f.ider.ID(), nil
}

// Template returns the template for quantity and method.
func (f *Fake) Template(_ context.Context, quantity, method string) (payload.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tmpl, ok := f.templates[quantity+"-"+method]
	if !ok {
		return payload.Value{}, errors.New("no template for " + quantity + "-" + method)
	}
	return tmpl.Clone(), nil
}

// UpdateStatus sets the status of root request id.
func (f *Fake) UpdateStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.status[id]; !ok {
		return errors.New("unknown request: " + id)
	}
	f.status[id] = status
	return nil
}
