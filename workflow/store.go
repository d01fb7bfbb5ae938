package workflow

// Store holds the in-progress instances keyed by root request ID.
// Iteration follows insertion order.
type Store struct {
	m     map[string]*Instance
	order []string
}

// NewStore creates a store holding instances.
// Later instances with a duplicate ID replace earlier ones.
func NewStore(instances ...*Instance) *Store {
	s := &Store{m: make(map[string]*Instance)}
	for _, i := range instances {
		s.Put(i)
	}
	return s
}

// Get returns the instance with id, or nil.
func (s *Store) Get(id string) *Instance {
	return s.m[id]
}

// Has reports whether an instance with id exists.
func (s *Store) Has(id string) bool {
	_, ok := s.m[id]
	return ok
}

// Put adds or replaces i.
// A replaced instance keeps its position.
func (s *Store) Put(i *Instance) {
	if _, ok := s.m[i.ID]; !ok {
		s.order = append(s.order, i.ID)
	}
	s.m[i.ID] = i
}

// Delete removes the instance with id.
func (s *Store) Delete(id string) bool {
	if _, ok := s.m[id]; !ok {
		return false
	}
	delete(s.m, id)
	for idx, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:idx], s.order[idx+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of instances.
func (s *Store) Len() int {
	return len(s.order)
}

// All returns the instances in insertion order.
func (s *Store) All() []*Instance {
	ret := make([]*Instance, 0, len(s.order))
	for _, id := range s.order {
		ret = append(ret, s.m[id])
	}
	return ret
}
