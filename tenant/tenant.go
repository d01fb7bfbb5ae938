// Package tenant describes the quantities and methods a tenant can serve.
package tenant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/micromdm/nanotenant/payload"
)

var (
	ErrNoName       = errors.New("tenant name missing")
	ErrNoQuantities = errors.New("tenant has no quantities")
)

// Method is a method the tenant offers for a quantity.
type Method struct {
	Quantity    string
	Name        string
	Parameters  []string
	Limitations payload.Value
}

// Capabilities is the set of methods a tenant offers.
type Capabilities struct {
	Name        string
	Description string
	Operators   []string
	methods     []Method
}

func str(v payload.Value, key string) string {
	m, _ := v.Get(key)
	s, _ := m.Str()
	return s
}

func strs(v payload.Value) (ret []string) {
	for _, item := range v.Items() {
		if s, ok := item.Str(); ok {
			ret = append(ret, s)
		}
	}
	return
}

// New parses a tenant capability document of the form
// {name, description, operators, quantities: {quantity: {method:
// {parameters, limitations}}}}.
func New(doc payload.Value) (*Capabilities, error) {
	c := &Capabilities{
		Name:        str(doc, "name"),
		Description: str(doc, "description"),
	}
	if c.Name == "" {
		return nil, ErrNoName
	}
	ops, _ := doc.Get("operators")
	c.Operators = strs(ops)
	quantities, _ := doc.Get("quantities")
	for _, q := range quantities.Members() {
		if !q.Value.IsObject() {
			return nil, fmt.Errorf("quantity %s: methods not a mapping", q.Key)
		}
		for _, m := range q.Value.Members() {
			params, _ := m.Value.Get("parameters")
			limits, _ := m.Value.Get("limitations")
			c.methods = append(c.methods, Method{
				Quantity:    q.Key,
				Name:        m.Key,
				Parameters:  strs(params),
				Limitations: limits,
			})
		}
	}
	if len(c.methods) < 1 {
		return nil, ErrNoQuantities
	}
	return c, nil
}

// Methods returns the offered methods in document order.
func (c *Capabilities) Methods() []Method {
	return c.methods
}

// Supports reports whether the tenant offers method for quantity.
func (c *Capabilities) Supports(quantity, method string) bool {
	for _, m := range c.methods {
		if m.Quantity == quantity && m.Name == method {
			return true
		}
	}
	return false
}

// Match returns the first of the requested methods the tenant offers
// for quantity.
// Parameters are not checked against the limitations.
func (c *Capabilities) Match(quantity string, methods []string) (string, bool) {
	for _, m := range methods {
		if c.Supports(quantity, m) {
			return m, true
		}
	}
	return "", false
}

// MatchRequest matches a request document's quantity and methods.
func (c *Capabilities) MatchRequest(request payload.Value) (string, bool) {
	methods, _ := request.Get("methods")
	return c.Match(str(request, "quantity"), strs(methods))
}

// RegistrationDocument returns the document handed to the coordination
// service administrator to register the tenant.
func (c *Capabilities) RegistrationDocument() payload.Value {
	limitations := payload.Array()
	for _, m := range c.methods {
		limitations.Append(payload.Object(
			payload.Member{Key: "quantity", Value: payload.String(m.Quantity)},
			payload.Member{Key: "method", Value: payload.String(m.Name)},
			payload.Member{Key: "limitations", Value: m.Limitations},
		))
	}
	return payload.Object(
		payload.Member{Key: "name", Value: payload.String(c.Name)},
		payload.Member{Key: "limitations", Value: limitations},
		payload.Member{Key: "contact_person", Value: payload.String(strings.Join(c.Operators, ", "))},
	)
}
