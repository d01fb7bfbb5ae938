package workflow

// QueueEntry pairs a submitted request ID with its owning instance ID.
type QueueEntry struct {
	RequestID string
	Owner     string
}

// Queue is the ordered list of outstanding submitted requests.
// An owner may have multiple entries.
type Queue []QueueEntry

// Has reports whether requestID is queued.
func (q Queue) Has(requestID string) bool {
	for _, e := range q {
		if e.RequestID == requestID {
			return true
		}
	}
	return false
}

// Remove returns q without the first entry for requestID.
func (q Queue) Remove(requestID string) (Queue, bool) {
	for i, e := range q {
		if e.RequestID == requestID {
			return append(q[:i:i], q[i+1:]...), true
		}
	}
	return q, false
}

// RemoveOwner returns q without any entries for owner.
func (q Queue) RemoveOwner(owner string) Queue {
	ret := make(Queue, 0, len(q))
	for _, e := range q {
		if e.Owner != owner {
			ret = append(ret, e)
		}
	}
	return ret
}

// CountOwner returns the number of entries for owner.
func (q Queue) CountOwner(owner string) int {
	var n int
	for _, e := range q {
		if e.Owner == owner {
			n++
		}
	}
	return n
}

// AllSamples is the Stalled batch index selecting every sample.
const AllSamples = -1

// Stalled is a step whose submission failed and is to be retried.
type Stalled struct {
	InstanceID string
	Step       Step

	// Sample is the fan-out request ID whose sub-entry fed the build.
	Sample string

	// BatchIndex selects a single sample of a fan-out step or is
	// AllSamples.
	BatchIndex int
}

// CountStalled returns the number of stalled entries for owner.
func CountStalled(stalled []Stalled, owner string) int {
	var n int
	for _, s := range stalled {
		if s.InstanceID == owner {
			n++
		}
	}
	return n
}
