package workflow

import (
	"github.com/micromdm/nanotenant/payload"
)

// Step is a single (quantity, method) stage of a pipeline.
type Step struct {
	Quantity string `yaml:"quantity"`
	Method   string `yaml:"method"`

	// Requires names prior steps or working-set keys that must feed
	// this step.
	Requires []string `yaml:"requires,omitempty"`
}

// Is reports whether s and other name the same quantity and method.
func (s Step) Is(other Step) bool {
	return s.Quantity == other.Quantity && s.Method == other.Method
}

func (s Step) String() string {
	return s.Quantity + "/" + s.Method
}

// StepOf extracts the step from a request document.
// The method is the first entry of the request's methods list.
func StepOf(request payload.Value) (Step, bool) {
	quantity, ok := request.Path("quantity")
	if !ok {
		return Step{}, false
	}
	q, ok := quantity.Str()
	if !ok || q == "" {
		return Step{}, false
	}
	methods, _ := request.Get("methods")
	items := methods.Items()
	if len(items) < 1 {
		return Step{}, false
	}
	m, ok := items[0].Str()
	if !ok || m == "" {
		return Step{}, false
	}
	return Step{Quantity: q, Method: m}, true
}

// Catalogue is the ordered list of pipeline steps.
type Catalogue []Step

// Index returns the index of the first entry from index from on that
// matches step, or -1.
func (c Catalogue) Index(step Step, from int) int {
	for i := from; i < len(c); i++ {
		if c[i].Is(step) {
			return i
		}
	}
	return -1
}

// IndexQuantity returns the index of the first entry from index from
// on that has quantity q, or -1.
func (c Catalogue) IndexQuantity(q string, from int) int {
	for i := from; i < len(c); i++ {
		if c[i].Quantity == q {
			return i
		}
	}
	return -1
}

// Lookup returns the catalogue entry for quantity and method.
func (c Catalogue) Lookup(quantity, method string) (Step, bool) {
	if i := c.Index(Step{Quantity: quantity, Method: method}, 0); i >= 0 {
		return c[i], true
	}
	return Step{}, false
}
